package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/client/client"
	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/control"
	"github.com/dmitrijs2005/vitalink/internal/server/pairing"
	"github.com/spf13/cobra"
)

type pairOptions struct {
	access  string
	yes     bool
	pngPath string
}

func newPairCmd(a *App) *cobra.Command {
	var opts pairOptions
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Show a pairing QR code and approve the device that scans it",
		Args:  cobra.NoArgs,
		RunE: a.withControl(func(ctx context.Context, c client.Client, _ []string) error {
			if !common.ValidAccessLevel(opts.access) {
				return fmt.Errorf("%w: access must be %s or %s", common.ErrorValidation, common.AccessFull, common.AccessReadOnly)
			}
			offer, err := c.StartPairing(ctx)
			if err != nil {
				return err
			}
			if err := a.showOffer(offer, opts.pngPath); err != nil {
				a.cancelPairing(c)
				return err
			}
			return a.awaitDevice(ctx, c, offer.SessionID, opts)
		}),
	}
	cmd.Flags().StringVar(&opts.access, "access", common.AccessFull, "access level granted with --yes: full or read_only")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "approve the first device without asking")
	cmd.Flags().StringVar(&opts.pngPath, "png", "", "also write the QR code as a PNG file")
	return cmd
}

func (a *App) showOffer(offer *control.Offer, pngPath string) error {
	qr, err := pairing.RenderTerminal(offer.Payload)
	if err != nil {
		return err
	}
	a.printf("%s\n", qr)
	if pngPath != "" {
		if err := os.WriteFile(pngPath, offer.PNG, 0o600); err != nil {
			return err
		}
		a.printf("QR code written to %s\n", pngPath)
	}
	a.printf("Scan the code with the companion app, or on a device run:\n  vitalink device pair --payload '%s'\n", offer.Payload)
	a.printf("The code expires at %s\n", offer.ExpiresAt.Local().Format(time.TimeOnly))
	return nil
}

// cancelPairing runs on its own context so it still reaches the daemon
// after the command context ended.
func (a *App) cancelPairing(c client.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.Timeout)
	defer cancel()
	if err := c.CancelPairing(ctx); err == nil {
		a.printf("Pairing cancelled\n")
	}
}

// awaitDevice polls until a device asks for approval or the session ends.
func (a *App) awaitDevice(ctx context.Context, c client.Client, sessionID string, opts pairOptions) error {
	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		st, err := c.PairingStatus(ctx)
		if err != nil {
			if ctx.Err() != nil {
				a.cancelPairing(c)
				return ctx.Err()
			}
			return err
		}
		if st.SessionID != "" && st.SessionID != sessionID {
			return fmt.Errorf("%w: another pairing session was started", common.ErrPairingCancelled)
		}

		switch pairing.State(st.State) {
		case pairing.StateAwaitingApproval:
			return a.decide(ctx, c, sessionID, st, opts)
		case pairing.StateExpired:
			return common.ErrPairingExpired
		case pairing.StateDenied:
			return common.ErrPairingDenied
		case pairing.StateError:
			return fmt.Errorf("pairing failed: %s", st.Error)
		case pairing.StateIdle:
			return common.ErrPairingCancelled
		}

		select {
		case <-ctx.Done():
			a.cancelPairing(c)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *App) decide(ctx context.Context, c client.Client, sessionID string, st *control.Pairing, opts pairOptions) error {
	name := "unknown device"
	if st.Device != nil {
		name = fmt.Sprintf("%q (%s, %s)", st.Device.Name, st.Device.Model, st.Device.Platform)
	}
	a.printf("Device %s wants to pair.\n", name)

	access := opts.access
	if !opts.yes {
		answer, err := Confirm(a.reader, "Approve? [y]es with full access, [r]ead-only, [n]o", a.out)
		if err != nil {
			a.cancelPairing(c)
			return err
		}
		switch answer {
		case "y":
			access = common.AccessFull
		case "r":
			access = common.AccessReadOnly
		default:
			if err := c.DenyPairing(ctx, sessionID); err != nil {
				return err
			}
			a.printf("Pairing denied\n")
			return nil
		}
	}

	d, err := c.ApprovePairing(ctx, sessionID, access)
	if err != nil {
		return err
	}
	a.printf("Paired %s as %s with %s access\n", d.Name, d.ID, d.Access)
	return nil
}

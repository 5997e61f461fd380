package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/client/companion"
	"github.com/dmitrijs2005/vitalink/internal/client/scan"
	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/server/pairing"
	"github.com/spf13/cobra"
)

type devicePairOptions struct {
	payload  string
	qrFiles  []string
	name     string
	model    string
	platform string
}

func newDeviceCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Act as a companion device: pair with a desktop and check the pairing",
	}
	cmd.AddCommand(newDevicePairCmd(a), newDeviceStatusCmd(a), newDeviceUnpairCmd(a))
	return cmd
}

func (a *App) readPayload(ctx context.Context, opts devicePairOptions) (*pairing.Payload, error) {
	if opts.payload != "" {
		return pairing.ParsePayload(opts.payload)
	}
	if len(opts.qrFiles) == 0 {
		return nil, errors.New("either --payload or --qr is required")
	}
	p, err := scan.Scan(ctx, scan.NewFileCamera(opts.qrFiles...), scan.NewQRDecoder(), time.Millisecond)
	if errors.Is(err, scan.ErrNoCode) {
		return nil, errors.New("no pairing code found in the given images")
	}
	return p, err
}

func newDevicePairCmd(a *App) *cobra.Command {
	var opts devicePairOptions
	hostname, _ := os.Hostname()

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Pair with a desktop from its QR payload or a picture of the code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			p, err := a.readPayload(ctx, opts)
			if err != nil {
				return err
			}
			if time.Now().After(p.ExpiresAt()) {
				return fmt.Errorf("%w: code expired at %s", common.ErrPairingExpired, p.ExpiresAt().Local().Format(time.TimeOnly))
			}

			a.printf("Connecting to %s, waiting for approval on the desktop...\n", p.BaseURL())
			dev, err := pairDevice(ctx, p, companion.DeviceInfo{Name: opts.name, Model: opts.model, Platform: opts.platform})
			if err != nil {
				return err
			}
			creds := dev.Credentials()
			if err := companion.SaveCredentials(a.config.CredentialsFile, creds); err != nil {
				return err
			}
			a.printf("Paired as device %s with %s access to profile %s\n", creds.DeviceID, creds.Access, creds.ProfileID)
			a.printf("Credentials saved to %s\n", a.config.CredentialsFile)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.payload, "payload", "", "pairing payload text shown by the desktop")
	f.StringSliceVar(&opts.qrFiles, "qr", nil, "image files containing the pairing QR code")
	f.StringVar(&opts.name, "name", hostname, "device name shown on the desktop")
	f.StringVar(&opts.model, "model", "cli", "device model")
	f.StringVar(&opts.platform, "platform", runtime.GOOS, "device platform")
	return cmd
}

// resume loads stored credentials and returns a device for them.
func (a *App) resume() (Device, error) {
	creds, err := companion.LoadCredentials(a.config.CredentialsFile)
	if err != nil {
		return nil, err
	}
	return resumeDevice(creds), nil
}

// persist stores the rotated token, or drops the credentials when the
// desktop no longer knows this device.
func (a *App) persist(dev Device, callErr error) error {
	if errors.Is(callErr, companion.ErrRepairRequired) {
		if err := companion.ForgetCredentials(a.config.CredentialsFile); err != nil {
			return err
		}
		return fmt.Errorf("%w: run 'vitalink device pair' again", callErr)
	}
	if err := companion.SaveCredentials(a.config.CredentialsFile, dev.Credentials()); err != nil {
		return err
	}
	return callErr
}

func newDeviceStatusCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the stored pairing against the desktop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dev, err := a.resume()
			if err != nil {
				return err
			}
			s, err := dev.Session(cmd.Context())
			if err := a.persist(dev, err); err != nil {
				return err
			}
			a.printf("Device %s (%s), %s access, paired %s\n", s.Name, s.DeviceID, s.Access, s.PairedAt.Local().Format(time.DateOnly))
			for _, p := range s.Profiles {
				own := ""
				if p.Own {
					own = " (own)"
				}
				a.printf("  profile %s %s: %s%s\n", p.ID, p.Name, p.Access, own)
			}
			return nil
		},
	}
}

func newDeviceUnpairCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "unpair",
		Short: "Remove this device from the desktop and forget the credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dev, err := a.resume()
			if err != nil {
				return err
			}
			err = dev.Unpair(cmd.Context())
			if err != nil && !errors.Is(err, companion.ErrRepairRequired) {
				return a.persist(dev, err)
			}
			if err := companion.ForgetCredentials(a.config.CredentialsFile); err != nil {
				return err
			}
			a.printf("Device unpaired\n")
			return nil
		},
	}
}

package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/client/client"
	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/control"
	"github.com/spf13/cobra"
)

func newGrantCmd(a *App) *cobra.Command {
	var access string
	cmd := &cobra.Command{
		Use:   "grant <profile-id>",
		Short: "Let another profile's devices see this profile",
		Args:  cobra.ExactArgs(1),
		RunE: a.withControl(func(ctx context.Context, c client.Client, args []string) error {
			if !common.ValidAccessLevel(access) {
				return fmt.Errorf("%w: access must be %s or %s", common.ErrorValidation, common.AccessFull, common.AccessReadOnly)
			}
			if err := c.GrantAccess(ctx, args[0], access); err != nil {
				return err
			}
			a.printf("Granted %s access to %s\n", access, args[0])
			return nil
		}),
	}
	cmd.Flags().StringVar(&access, "access", common.AccessReadOnly, "access level: full or read_only")
	return cmd
}

func newRevokeCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <profile-id>",
		Short: "Withdraw a grant given to another profile",
		Args:  cobra.ExactArgs(1),
		RunE: a.withControl(func(ctx context.Context, c client.Client, args []string) error {
			if err := c.RevokeGrant(ctx, args[0]); err != nil {
				return err
			}
			a.printf("Revoked grant for %s\n", args[0])
			return nil
		}),
	}
}

func (a *App) printGrants(title string, gs []control.Grant, other func(control.Grant) string) {
	a.printf("%s:\n", title)
	if len(gs) == 0 {
		a.printf("  none\n")
		return
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, g := range gs {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", other(g), g.Access, g.GrantedAt.Local().Format(time.DateOnly))
	}
	_ = tw.Flush()
}

func newGrantsCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "grants",
		Short: "List grants given and received by the active profile",
		Args:  cobra.NoArgs,
		RunE: a.withControl(func(ctx context.Context, c client.Client, _ []string) error {
			gs, err := c.ListGrants(ctx)
			if err != nil {
				return err
			}
			a.printGrants("Given", gs.Given, func(g control.Grant) string { return g.GranteeID })
			a.printGrants("Received", gs.Received, func(g control.Grant) string { return g.GranterID })
			return nil
		}),
	}
}

package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/client/client"
	"github.com/dmitrijs2005/vitalink/internal/control"
	"github.com/spf13/cobra"
)

func (a *App) printDevices(ds []control.Device) {
	if len(ds) == 0 {
		a.printf("No devices\n")
		return
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPLATFORM\tACCESS\tPAIRED\tLAST SEEN")
	for _, d := range ds {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.Name, d.Platform, d.Access,
			d.PairedAt.Local().Format(time.DateOnly), d.LastSeen.Local().Format(time.DateTime))
	}
	_ = tw.Flush()
}

func newDevicesCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List and manage devices paired with the active profile",
		Args:  cobra.NoArgs,
		RunE: a.withControl(func(ctx context.Context, c client.Client, _ []string) error {
			ds, err := c.ListDevices(ctx)
			if err != nil {
				return err
			}
			a.printDevices(ds)
			return nil
		}),
	}

	unpair := &cobra.Command{
		Use:   "unpair <device-id>",
		Short: "Remove a paired device",
		Args:  cobra.ExactArgs(1),
		RunE: a.withControl(func(ctx context.Context, c client.Client, args []string) error {
			if err := c.UnpairDevice(ctx, args[0]); err != nil {
				return err
			}
			a.printf("Device %s unpaired\n", args[0])
			return nil
		}),
	}

	var days int
	inactive := &cobra.Command{
		Use:   "inactive",
		Short: "List devices not seen for a number of days",
		Args:  cobra.NoArgs,
		RunE: a.withControl(func(ctx context.Context, c client.Client, _ []string) error {
			ds, err := c.InactiveDevices(ctx, days)
			if err != nil {
				return err
			}
			a.printDevices(ds)
			return nil
		}),
	}
	inactive.Flags().IntVarP(&days, "days", "d", 0, "inactivity threshold in days (daemon default when 0)")

	count := &cobra.Command{
		Use:   "count",
		Short: "Print the number of paired devices",
		Args:  cobra.NoArgs,
		RunE: a.withControl(func(ctx context.Context, c client.Client, _ []string) error {
			n, err := c.DeviceCount(ctx)
			if err != nil {
				return err
			}
			a.printf("%d\n", n)
			return nil
		}),
	}

	cmd.AddCommand(unpair, inactive, count)
	return cmd
}

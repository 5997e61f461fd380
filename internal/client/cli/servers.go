package cli

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/vitalink/internal/client/client"
	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/spf13/cobra"
)

var serverNames = []string{common.ServerDistribution, common.ServerSecureAPI, common.ServerTransfer}

func newServerCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start or stop one of the LAN servers (" + strings.Join(serverNames, ", ") + ")",
	}

	start := &cobra.Command{
		Use:       "start <name>",
		Short:     "Start a server",
		Args:      cobra.ExactArgs(1),
		ValidArgs: serverNames,
		RunE: a.withControl(func(ctx context.Context, c client.Client, args []string) error {
			srv, err := c.StartServer(ctx, args[0])
			if err != nil {
				return err
			}
			scheme := "http"
			if srv.TLS {
				scheme = "https"
			}
			a.printf("%s listening on %s://%s\n", srv.Name, scheme, srv.Addr)
			if pin := srv.Details["pin"]; pin != "" {
				a.printf("Upload PIN: %s\n", pin)
			}
			return nil
		}),
	}

	stop := &cobra.Command{
		Use:       "stop <name>",
		Short:     "Stop a server",
		Args:      cobra.ExactArgs(1),
		ValidArgs: serverNames,
		RunE: a.withControl(func(ctx context.Context, c client.Client, args []string) error {
			if err := c.StopServer(ctx, args[0]); err != nil {
				return err
			}
			a.printf("%s stopped\n", args[0])
			return nil
		}),
	}

	cmd.AddCommand(start, stop)
	return cmd
}

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/client/config"
	"github.com/spf13/cobra"
)

// NewRootCommand builds the command tree around a.
func NewRootCommand(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "vitalink",
		Short: "Manage the vitalink desktop companion from the command line.",
		Long: `vitalink talks to the local vitalink daemon: unlock a profile, start and stop
the LAN servers, pair phones and tablets, and manage paired devices and grants.

The device subcommands act as a companion device instead, pairing with a
desktop from its QR code and keeping the credentials on disk.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.loadConfig,
	}
	root.SetOut(a.out)
	root.SetErr(a.out)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "path to JSON config file")
	pf.StringVarP(&a.flags.addr, "addr", "a", "", "address of the daemon control service")
	pf.StringVar(&a.flags.timeout, "timeout", "", "timeout for a single control call, e.g. 5s")
	pf.StringVar(&a.flags.credentials, "credentials", "", "file holding device credentials")

	root.AddCommand(
		newUnlockCmd(a),
		newLockCmd(a),
		newStatusCmd(a),
		newRotateCertCmd(a),
		newServerCmd(a),
		newPairCmd(a),
		newDevicesCmd(a),
		newGrantCmd(a),
		newRevokeCmd(a),
		newGrantsCmd(a),
		newDeviceCmd(a),
	)
	return root
}

func (a *App) loadConfig(*cobra.Command, []string) error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.flags.addr != "" {
		cfg.ControlAddr = a.flags.addr
	}
	if a.flags.timeout != "" {
		d, err := time.ParseDuration(a.flags.timeout)
		if err != nil {
			return fmt.Errorf("invalid --timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if a.flags.credentials != "" {
		cfg.CredentialsFile = a.flags.credentials
	}
	a.config = cfg
	return nil
}

// Execute runs the CLI with args against in and out.
func Execute(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	root := NewRootCommand(NewApp(in, out))
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

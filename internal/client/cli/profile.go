package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/client/client"
	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/spf13/cobra"
)

func newUnlockCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <profile>",
		Short: "Unlock a profile, creating it on first use",
		Args:  cobra.ExactArgs(1),
		RunE: a.withControl(func(ctx context.Context, c client.Client, args []string) error {
			pass, err := GetPassword(a.out, "Passphrase for "+args[0]+": ")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pass)

			res, err := c.Unlock(ctx, args[0], pass)
			if err != nil {
				return err
			}
			if res.Created {
				a.printf("Created profile %s\n", res.Profile.Name)
			}
			a.printf("Unlocked %s (%s)\n", res.Profile.Name, res.Profile.ID)
			a.printf("Certificate fingerprint: %s\n", res.Profile.Fingerprint)
			if len(res.Started) > 0 {
				a.printf("Started: %s\n", strings.Join(res.Started, ", "))
			}
			names := make([]string, 0, len(res.StartErrors))
			for name := range res.StartErrors {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				a.printf("Failed to start %s: %s\n", name, res.StartErrors[name])
			}
			return nil
		}),
	}
}

func newLockCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Stop all servers and lock the active profile",
		Args:  cobra.NoArgs,
		RunE: a.withControl(func(ctx context.Context, c client.Client, _ []string) error {
			if err := c.Lock(ctx); err != nil {
				return err
			}
			a.printf("Profile locked\n")
			return nil
		}),
	}
}

func newStatusCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active profile, servers and pairing state",
		Args:  cobra.NoArgs,
		RunE: a.withControl(func(ctx context.Context, c client.Client, _ []string) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if st.Profile == nil {
				a.printf("Profile: locked\n")
			} else {
				a.printf("Profile: %s (%s), unlocked %s\n", st.Profile.Name, st.Profile.ID, st.Profile.UnlockedAt.Local().Format(time.DateTime))
				a.printf("Fingerprint: %s\n", st.Profile.Fingerprint)
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SERVER\tSTATE\tADDRESS\tTLS\tREQUESTS")
			for _, s := range st.Servers {
				state := "stopped"
				if s.Running {
					state = "running"
				}
				tls := "no"
				if s.TLS {
					tls = "yes"
				}
				addr := s.Addr
				if addr == "" {
					addr = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", s.Name, state, addr, tls, s.Requests)
			}
			_ = tw.Flush()

			a.printf("Pairing: %s", st.Pairing.State)
			if st.Pairing.Error != "" {
				a.printf(" (%s)", st.Pairing.Error)
			}
			a.printf("\n")
			return nil
		}),
	}
}

func newRotateCertCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-cert",
		Short: "Replace the profile certificate; every paired device must pair again",
		Args:  cobra.NoArgs,
		RunE: a.withControl(func(ctx context.Context, c client.Client, _ []string) error {
			fp, err := c.RotateCertificate(ctx)
			if err != nil {
				return err
			}
			a.printf("New certificate fingerprint: %s\n", fp)
			a.printf("Paired devices must pair again.\n")
			return nil
		}),
	}
}

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/vitalink/internal/client/client"
	"github.com/dmitrijs2005/vitalink/internal/client/companion"
	"github.com/dmitrijs2005/vitalink/internal/client/config"
	"github.com/dmitrijs2005/vitalink/internal/server/pairing"
	"github.com/spf13/cobra"
)

// Device is the part of a paired companion the CLI uses.
type Device interface {
	Session(ctx context.Context) (*companion.Session, error)
	Unpair(ctx context.Context) error
	Credentials() companion.Credentials
}

// Seams for tests.
var (
	dialControl = func(cfg *config.Config) (client.Client, error) {
		return client.NewControlClient(cfg.ControlAddr, cfg.Timeout)
	}
	pairDevice = func(ctx context.Context, p *pairing.Payload, info companion.DeviceInfo) (Device, error) {
		return companion.Pair(ctx, p, info, nil)
	}
	resumeDevice = func(creds companion.Credentials) Device {
		return companion.New(creds, nil)
	}
)

// flagValues are the persistent flags; set ones override the config file.
type flagValues struct {
	addr        string
	timeout     string
	credentials string
}

type App struct {
	config     *config.Config
	configPath string
	flags      flagValues
	reader     *bufio.Reader
	out        io.Writer
}

func NewApp(in io.Reader, out io.Writer) *App {
	return &App{reader: bufio.NewReader(in), out: out}
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// withControl opens a control connection for the duration of one command.
func (a *App) withControl(fn func(ctx context.Context, c client.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := dialControl(a.config)
		if err != nil {
			return err
		}
		defer c.Close()

		err = fn(cmd.Context(), c, args)
		if errors.Is(err, client.ErrUnavailable) {
			return fmt.Errorf("%w: is the vitalink daemon running at %s?", err, a.config.ControlAddr)
		}
		return err
	}
}

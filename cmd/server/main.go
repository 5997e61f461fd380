package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/server"
	"github.com/dmitrijs2005/vitalink/internal/server/config"
	"golang.org/x/term"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(ctx, cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	if cfg.UnlockProfile != "" {
		if err := unlock(ctx, app, cfg.UnlockProfile); err != nil {
			log.Printf("unlock %s: %v", cfg.UnlockProfile, err)
			return
		}
	}

	app.Run(ctx)

}

func unlock(ctx context.Context, app *server.App, name string) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("passphrase prompt needs a terminal")
	}
	fmt.Fprintf(os.Stderr, "Passphrase for %s: ", name)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pass)
	return app.Unlock(ctx, name, pass)
}

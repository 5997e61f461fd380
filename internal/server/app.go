// Package server wires the vitalink daemon together: storage, the trust
// anchor, the LAN servers under one supervisor, pairing, and the loopback
// control service used by the desktop UI and the CLI.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/dbx"
	"github.com/dmitrijs2005/vitalink/internal/filex"
	"github.com/dmitrijs2005/vitalink/internal/logging"
	"github.com/dmitrijs2005/vitalink/internal/netx"
	"github.com/dmitrijs2005/vitalink/internal/server/artifacts"
	"github.com/dmitrijs2005/vitalink/internal/server/config"
	"github.com/dmitrijs2005/vitalink/internal/server/distribution"
	"github.com/dmitrijs2005/vitalink/internal/server/guard"
	"github.com/dmitrijs2005/vitalink/internal/server/pairing"
	"github.com/dmitrijs2005/vitalink/internal/server/profile"
	"github.com/dmitrijs2005/vitalink/internal/server/registry"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vitalink/internal/server/secureapi"
	"github.com/dmitrijs2005/vitalink/internal/server/services"
	"github.com/dmitrijs2005/vitalink/internal/server/supervisor"
	"github.com/dmitrijs2005/vitalink/internal/server/transfer"
	"github.com/dmitrijs2005/vitalink/internal/server/trust"

	gs "github.com/dmitrijs2005/vitalink/internal/server/grpc"
)

// lanAddress is a seam for tests.
var lanAddress = netx.LANAddress

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB

	anchor      *trust.Anchor
	registry    *registry.Registry
	grants      *registry.GrantService
	coordinator *pairing.Coordinator
	manager     *profile.Manager
	supervisor  *supervisor.Supervisor
	control     *gs.GRPCServer

	supOnce   sync.Once
	supCancel context.CancelFunc
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSON(os.Stdout, c.LogLevel)
	return newApp(ctx, c, logger)
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	app := &App{config: c, logger: logger}

	if _, err := filex.EnsureSubDir(c.DataDir, ""); err != nil {
		return nil, fmt.Errorf("data dir init error: %w", err)
	}

	dialect, err := dbx.ParseDialect(c.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	dsn := c.DatabaseDSN
	if dialect == dbx.SQLite {
		dsn = c.SQLiteDSN()
	}
	db, err := repomanager.Open(ctx, dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	m := repomanager.NewSQLRepositoryManager(dialect)
	if err := m.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db migration error: %w", err)
	}
	app.db = db

	prefixes, err := netx.ParsePrefixes(c.LocalSubnets)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	g := guard.New(prefixes, c.RateLimits, logger, guard.Options{
		CacheSize: c.LimiterCacheSize,
		IdleTTL:   c.LimiterIdleTTL,
	})

	src, err := newArtifactSource(ctx, c)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("artifact source init error: %w", err)
	}

	app.anchor = trust.NewAnchor(m.TrustMaterial(db), logger, trust.Options{
		Validity: c.CertValidity,
		OnReset:  app.onTrustReset,
	})
	app.registry = registry.New(db, m, app.anchor, logger)
	app.grants = registry.NewGrantService(db, m, logger)
	profiles := services.NewProfileService(db, m, logger)
	records := services.NewRecordService(db, m, logger)

	app.coordinator = pairing.NewCoordinator(app.registry, app.anchor, app.pairingEndpoint, logger, pairing.Options{
		TTL:       c.PairingTTL,
		TicketTTL: c.PairingTicketTTL,
	})

	dist := distribution.New(distribution.Options{
		Addr:          c.DistributionAddr,
		Grace:         c.ShutdownGrace,
		Version:       c.AppVersion,
		MinCompatible: c.MinCompatible,
		SWVersion:     c.SWVersion,
		WebAppDir:     c.WebAppDir,
	}, g, src, app.profileActive, logger)

	api := secureapi.New(secureapi.Options{Addr: c.SecureAPIAddr, Grace: c.ShutdownGrace}, secureapi.Deps{
		Devices:  app.registry,
		Pairing:  app.coordinator,
		Scope:    app.grants,
		Records:  records,
		Profiles: profiles,
		Certs:    app.anchor,
	}, g, logger)

	drop := transfer.New(transfer.Options{
		Addr:      c.TransferAddr,
		Grace:     c.ShutdownGrace,
		InboxDir:  c.InboxDir(),
		TicketTTL: c.TransferTicketTTL,
		Idle:      c.TransferIdle,
	}, g, logger)

	app.supervisor = supervisor.New(map[string]supervisor.StartFunc{
		common.ServerDistribution: func(ctx context.Context) (supervisor.Instance, error) {
			srv, err := dist.Start(ctx)
			if err != nil {
				return nil, err
			}
			return srv, nil
		},
		common.ServerSecureAPI: func(ctx context.Context) (supervisor.Instance, error) {
			srv, err := api.Start(ctx)
			if err != nil {
				return nil, err
			}
			return srv, nil
		},
		common.ServerTransfer: func(ctx context.Context) (supervisor.Instance, error) {
			inst, err := drop.Start(ctx)
			if err != nil {
				return nil, err
			}
			return inst, nil
		},
	}, c.ShutdownGrace, logger)

	var autoStart []string
	if c.AutoStart {
		autoStart = []string{common.ServerDistribution, common.ServerSecureAPI}
	}
	app.manager = profile.NewManager(profiles, app.anchor, app.coordinator, app.supervisor, logger, profile.Options{AutoStart: autoStart})

	app.control = gs.NewGRPCServer(c.ControlAddr, gs.Deps{
		Profiles:     app.manager,
		Servers:      app.supervisor,
		Pairing:      app.coordinator,
		Devices:      app.registry,
		Grants:       app.grants,
		InactiveDays: c.InactiveDeviceDays,
	}, logger)

	return app, nil
}

func newArtifactSource(ctx context.Context, c *config.Config) (artifacts.Source, error) {
	if c.S3Bucket != "" {
		client, err := artifacts.NewS3Client(ctx, artifacts.S3Config{
			Bucket:       c.S3Bucket,
			Prefix:       c.S3Prefix,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
			AccessKey:    c.S3AccessKey,
			SecretKey:    c.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return artifacts.NewS3Source(client, c.S3Bucket, c.S3Prefix), nil
	}
	dir := c.ArtifactsDir
	if dir == "" {
		dir = filepath.Join(c.DataDir, "artifacts")
	}
	return artifacts.NewDirSource(dir), nil
}

func (app *App) profileActive() bool {
	_, ok := app.manager.Active()
	return ok
}

// pairingEndpoint is what goes into the QR: the advertised host and the
// secure API port. The secure API is started when it is not running yet.
func (app *App) pairingEndpoint(ctx context.Context) (string, int, error) {
	host := app.config.AdvertiseHost
	if host == "" {
		addr, err := lanAddress()
		if err != nil {
			return "", 0, fmt.Errorf("no LAN address to advertise: %w", err)
		}
		host = addr.String()
	}

	if err := app.supervisor.Start(ctx, common.ServerSecureAPI); err != nil && !errors.Is(err, common.ErrServerRunning) {
		return "", 0, err
	}
	statuses, err := app.supervisor.Status(ctx)
	if err != nil {
		return "", 0, err
	}
	for _, st := range statuses {
		if st.Name == common.ServerSecureAPI && st.Running {
			port, err := portOf(st.Addr)
			return host, port, err
		}
	}
	return "", 0, common.ErrServerNotRunning
}

func portOf(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}

func (app *App) onTrustReset(ctx context.Context, ev trust.ResetEvent) {
	app.logger.Warn(ctx, "certificate replaced, paired devices must pair again",
		"security", true,
		"profile_id", ev.ProfileID,
		"reason", ev.Reason,
		"old_fingerprint", ev.OldFingerprint,
		"new_fingerprint", ev.NewFingerprint)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startControlServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.control.Run(ctx); err != nil {
		app.logger.Error(ctx, "control server failed", "error", err)
		cancelFunc()
	}
}

// startSupervisor runs the supervisor loop once. It is detached from the
// Run context so that Lock can still stop servers during shutdown.
func (app *App) startSupervisor() {
	app.supOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		app.supCancel = cancel
		go app.supervisor.Run(ctx)
	})
}

// Run serves until a signal arrives or the control server fails, then locks
// the profile so every listener is closed and key material is gone before
// returning.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "data_dir", app.config.DataDir, "control", app.config.ControlAddr)

	app.initSignalHandler(cancelFunc)
	app.startSupervisor()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startControlServer(ctx, cancelFunc)
	}()

	<-ctx.Done()
	app.shutdown()
	app.supCancel()
	<-app.supervisor.Done()
	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), "closing database failed", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
}

func (app *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), app.config.ShutdownGrace+5*time.Second)
	defer cancel()

	if _, ok := app.manager.Active(); ok {
		if err := app.manager.Lock(ctx); err != nil && !errors.Is(err, common.ErrProfileLocked) {
			app.logger.Error(ctx, "locking profile on shutdown failed", "error", err)
		}
	}
}

// Unlock unlocks a profile before the control service is up, for startup
// with -u.
func (app *App) Unlock(ctx context.Context, name string, passphrase []byte) error {
	app.startSupervisor()
	res, err := app.manager.Unlock(ctx, name, passphrase)
	if err != nil {
		return err
	}
	for server, err := range res.StartErrors {
		app.logger.Error(ctx, "server failed to start", "server", server, "error", err)
	}
	return nil
}

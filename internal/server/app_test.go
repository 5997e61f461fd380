package server

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/logging"
	"github.com/dmitrijs2005/vitalink/internal/server/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.LoadDefaults()
	c.DataDir = t.TempDir()
	c.ControlAddr = "127.0.0.1:0"
	c.DistributionAddr = "127.0.0.1:0"
	c.SecureAPIAddr = "127.0.0.1:0"
	c.TransferAddr = "127.0.0.1:0"
	c.AdvertiseHost = "127.0.0.1"
	c.ShutdownGrace = time.Second
	return c
}

func running(t *testing.T, app *App) map[string]bool {
	t.Helper()
	st, err := app.supervisor.Status(context.Background())
	require.NoError(t, err)
	out := map[string]bool{}
	for _, s := range st {
		out[s.Name] = s.Running
	}
	return out
}

func closeApp(t *testing.T, app *App) {
	t.Helper()
	app.shutdown()
	if app.supCancel != nil {
		app.supCancel()
		<-app.supervisor.Done()
	}
	_ = app.db.Close()
}

func TestApp_UnlockAutostartsAndLockStops(t *testing.T) {
	ctx := context.Background()
	app, err := newApp(ctx, testConfig(t), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { closeApp(t, app) })

	require.NoError(t, app.Unlock(ctx, "alice", []byte("correct horse")))

	st := running(t, app)
	assert.True(t, st[common.ServerDistribution])
	assert.True(t, st[common.ServerSecureAPI])
	assert.False(t, st[common.ServerTransfer])

	offer, err := app.coordinator.StartPairing(ctx)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", offer.Payload.Addr)
	assert.NotZero(t, offer.Payload.Port)
	active, ok := app.manager.Active()
	require.True(t, ok)
	assert.Equal(t, active.Fingerprint, offer.Payload.FP)

	app.shutdown()
	_, ok = app.manager.Active()
	assert.False(t, ok)
	for name, up := range running(t, app) {
		assert.False(t, up, name)
	}

	assert.ErrorIs(t, app.supervisor.Start(ctx, common.ServerSecureAPI), common.ErrProfileLocked,
		"a locked daemon refuses server starts")
	_, err = app.coordinator.StartPairing(ctx)
	assert.Error(t, err)
	assert.False(t, running(t, app)[common.ServerSecureAPI])
}

func TestApp_WrongPassphrase(t *testing.T) {
	ctx := context.Background()
	app, err := newApp(ctx, testConfig(t), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { closeApp(t, app) })

	require.NoError(t, app.Unlock(ctx, "alice", []byte("first")))
	require.NoError(t, app.manager.Lock(ctx))

	err = app.Unlock(ctx, "alice", []byte("second"))
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	_, ok := app.manager.Active()
	assert.False(t, ok)
}

func TestApp_PairingEndpointFallsBackToLANAddress(t *testing.T) {
	old := lanAddress
	t.Cleanup(func() { lanAddress = old })

	ctx := context.Background()
	cfg := testConfig(t)
	cfg.AdvertiseHost = ""
	cfg.AutoStart = false
	app, err := newApp(ctx, cfg, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { closeApp(t, app) })
	require.NoError(t, app.Unlock(ctx, "alice", []byte("pw")))
	assert.False(t, running(t, app)[common.ServerSecureAPI])

	lanAddress = func() (netip.Addr, error) { return netip.Addr{}, errors.New("offline") }
	_, _, err = app.pairingEndpoint(ctx)
	assert.Error(t, err)

	lanAddress = func() (netip.Addr, error) { return netip.MustParseAddr("192.168.1.20"), nil }
	host, port, err := app.pairingEndpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20", host)
	assert.NotZero(t, port)
	assert.True(t, running(t, app)[common.ServerSecureAPI], "pairing starts the secure API")
}

func TestApp_RunLocksOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	app, err := newApp(ctx, testConfig(t), logging.Nop())
	require.NoError(t, err)

	require.NoError(t, app.Unlock(ctx, "alice", []byte("pw")))

	done := make(chan struct{})
	go func() {
		app.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
	_, ok := app.manager.Active()
	assert.False(t, ok)
}

func TestNewApp_RejectsBadDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatabaseDriver = "mysql"
	_, err := newApp(context.Background(), cfg, logging.Nop())
	assert.Error(t, err)
}

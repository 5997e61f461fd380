package supervisor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/logging"
	"github.com/dmitrijs2005/vitalink/internal/server/httpserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func httpStarter(addr string) StartFunc {
	return func(ctx context.Context) (Instance, error) {
		return httpserver.Listen(ctx, httpserver.Options{Name: "t", Addr: addr, Grace: 100 * time.Millisecond},
			http.NotFoundHandler(), logging.Nop())
	}
}

type described struct {
	*httpserver.Server
}

func (d described) Details() map[string]string { return map[string]string{"pin": "123456"} }

func run(t *testing.T, starters map[string]StartFunc) (*Supervisor, context.CancelFunc) {
	t.Helper()
	s := New(starters, 100*time.Millisecond, logging.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	return s, cancel
}

func TestStartStopStatus(t *testing.T) {
	s, _ := run(t, map[string]StartFunc{
		common.ServerDistribution: httpStarter("127.0.0.1:0"),
		common.ServerTransfer: func(ctx context.Context) (Instance, error) {
			srv, err := httpserver.Listen(ctx, httpserver.Options{Addr: "127.0.0.1:0"}, http.NotFoundHandler(), logging.Nop())
			if err != nil {
				return nil, err
			}
			return described{srv}, nil
		},
	})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, common.ServerDistribution))
	require.ErrorIs(t, s.Start(ctx, common.ServerDistribution), common.ErrServerRunning)
	require.NoError(t, s.Start(ctx, common.ServerTransfer))

	st, err := s.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st, 2)
	assert.Equal(t, common.ServerDistribution, st[0].Name)
	assert.True(t, st[0].Running)
	assert.NotEmpty(t, st[0].Addr)
	assert.Equal(t, "123456", st[1].Details["pin"])

	addr := st[0].Addr
	require.NoError(t, s.Stop(ctx, common.ServerDistribution))
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err, "listener is released when Stop returns")
	ln.Close()

	require.ErrorIs(t, s.Stop(ctx, common.ServerDistribution), common.ErrServerNotRunning)
	require.ErrorIs(t, s.Start(ctx, "ftp"), common.ErrUnknownServer)
	require.ErrorIs(t, s.Stop(ctx, "ftp"), common.ErrUnknownServer)

	assert.False(t, s.Running(ctx, common.ServerDistribution))
	assert.True(t, s.Running(ctx, common.ServerTransfer))

	require.NoError(t, s.StopAll(ctx))
	assert.False(t, s.Running(ctx, common.ServerTransfer))
}

func TestBindFailureLeavesOthersRunning(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	s, _ := run(t, map[string]StartFunc{
		common.ServerDistribution: httpStarter("127.0.0.1:0"),
		common.ServerSecureAPI:    httpStarter(busy.Addr().String()),
	})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, common.ServerDistribution))
	err = s.Start(ctx, common.ServerSecureAPI)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind")

	assert.True(t, s.Running(ctx, common.ServerDistribution))
	assert.False(t, s.Running(ctx, common.ServerSecureAPI))
}

func TestSelfExitIsNoticed(t *testing.T) {
	var inst *httpserver.Server
	s, _ := run(t, map[string]StartFunc{
		common.ServerTransfer: func(ctx context.Context) (Instance, error) {
			srv, err := httpserver.Listen(ctx, httpserver.Options{Addr: "127.0.0.1:0"}, http.NotFoundHandler(), logging.Nop())
			inst = srv
			return srv, err
		},
	})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, common.ServerTransfer))

	require.NoError(t, inst.Shutdown(ctx))
	require.Eventually(t, func() bool { return !s.Running(ctx, common.ServerTransfer) }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Start(ctx, common.ServerTransfer), "can be started again")
}

func TestStarterErrorIsReturned(t *testing.T) {
	s, _ := run(t, map[string]StartFunc{
		"x": func(context.Context) (Instance, error) { return nil, errors.New("no certificate") },
	})
	require.ErrorContains(t, s.Start(context.Background(), "x"), "no certificate")
}

func TestRunCancelStopsEverything(t *testing.T) {
	s := New(map[string]StartFunc{common.ServerDistribution: httpStarter("127.0.0.1:0")}, 0, logging.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	require.NoError(t, s.Start(context.Background(), common.ServerDistribution))
	st, err := s.Status(context.Background())
	require.NoError(t, err)
	addr := st[0].Addr

	cancel()
	<-s.Done()

	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	ln.Close()

	require.ErrorIs(t, s.Start(context.Background(), common.ServerDistribution), ErrStopped)
	_, err = s.Status(context.Background())
	require.ErrorIs(t, err, ErrStopped)
}

func TestSealRefusesStartsUntilUnsealed(t *testing.T) {
	s, _ := run(t, map[string]StartFunc{
		common.ServerDistribution: httpStarter("127.0.0.1:0"),
		common.ServerSecureAPI:    httpStarter("127.0.0.1:0"),
	})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, common.ServerDistribution))
	st, err := s.Status(ctx)
	require.NoError(t, err)
	addr := st[0].Addr

	require.NoError(t, s.Seal(ctx))
	assert.False(t, s.Running(ctx, common.ServerDistribution))
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err, "listener is released when Seal returns")
	ln.Close()

	require.ErrorIs(t, s.Start(ctx, common.ServerSecureAPI), common.ErrProfileLocked)
	assert.False(t, s.Running(ctx, common.ServerSecureAPI))

	require.NoError(t, s.Unseal(ctx))
	require.NoError(t, s.Start(ctx, common.ServerSecureAPI))
	assert.True(t, s.Running(ctx, common.ServerSecureAPI))
}

package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/vitalink/internal/logging"
	"github.com/dmitrijs2005/vitalink/internal/server/models"
	"github.com/dmitrijs2005/vitalink/internal/server/pairing"
	"github.com/dmitrijs2005/vitalink/internal/server/profile"
	"github.com/dmitrijs2005/vitalink/internal/server/supervisor"
	"google.golang.org/grpc"
)

// Profiles is the unlock/lock surface. *profile.Manager implements it.
type Profiles interface {
	Unlock(ctx context.Context, name string, passphrase []byte) (*profile.UnlockResult, error)
	Lock(ctx context.Context) error
	Active() (profile.Active, bool)
	RotateCertificate(ctx context.Context) (string, error)
}

// Servers is the supervisor surface.
type Servers interface {
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Status(ctx context.Context) ([]supervisor.ServerStatus, error)
}

// Pairing is the desktop side of the pairing handshake.
type Pairing interface {
	StartPairing(ctx context.Context) (*pairing.Offer, error)
	Status() pairing.Status
	Approve(ctx context.Context, sessionID, access string) (*models.Device, error)
	Deny(ctx context.Context, sessionID string) error
	CancelPairing(ctx context.Context)
}

type Devices interface {
	ListDevices(ctx context.Context, profileID string) ([]models.Device, error)
	UnpairForProfile(ctx context.Context, profileID, deviceID string) error
	DeviceCount(ctx context.Context, profileID string) (int, error)
	InactiveDevices(ctx context.Context, profileID string, thresholdDays int) ([]models.Device, error)
}

type Grants interface {
	Grant(ctx context.Context, granterID, granteeName, access string) (*models.Grant, error)
	Revoke(ctx context.Context, granterID, granteeName string) error
	Given(ctx context.Context, profileID string) ([]models.Grant, error)
	Received(ctx context.Context, profileID string) ([]models.Grant, error)
}

type Deps struct {
	Profiles Profiles
	Servers  Servers
	Pairing  Pairing
	Devices  Devices
	Grants   Grants
	// InactiveDays is used when InactiveDevices is called without a threshold.
	InactiveDays int
}

type GRPCServer struct {
	address string
	deps    Deps
	logger  logging.Logger
}

func NewGRPCServer(a string, deps Deps, l logging.Logger) *GRPCServer {
	return &GRPCServer{
		address: a,
		deps:    deps,
		logger:  l.With("module", "grpc_server"),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loopbackInterceptor, s.logInterceptor))
	srv.RegisterService(&ServiceDesc, s)
	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve serves on ln until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, ln net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", ln.Addr().String())

	if err := srv.Serve(ln); err != nil {
		return err
	}
	return nil
}

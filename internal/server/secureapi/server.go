// Package secureapi is the TLS server devices talk to after pairing. It is
// served with the trust anchor certificate, which devices pin by
// fingerprint. Requests pass the network guard, are audited, and (outside
// the pairing endpoints) authenticated with a bearer token that is rotated
// on every call.
package secureapi

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/logging"
	"github.com/dmitrijs2005/vitalink/internal/server/config"
	"github.com/dmitrijs2005/vitalink/internal/server/guard"
	"github.com/dmitrijs2005/vitalink/internal/server/httpserver"
	"github.com/dmitrijs2005/vitalink/internal/server/models"
	"github.com/dmitrijs2005/vitalink/internal/server/pairing"
	"github.com/dmitrijs2005/vitalink/internal/server/registry"
	"github.com/dmitrijs2005/vitalink/internal/server/services"
	"github.com/dmitrijs2005/vitalink/internal/server/trust"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Devices authenticates bearer tokens and removes devices.
type Devices interface {
	Authenticate(ctx context.Context, token string) (*models.Device, string, error)
	Unpair(ctx context.Context, deviceID string) error
}

// Pairing is the device side of the pairing handshake.
type Pairing interface {
	Connect(ctx context.Context, token string) (string, error)
	Request(ctx context.Context, ticket string, info registry.DeviceInfo) (string, error)
	AwaitResult(ctx context.Context, ticket string) (*pairing.Approval, error)
	Abandon(ctx context.Context, ticket string) error
}

// Scoper resolves which profiles a device may reach.
type Scoper interface {
	Scope(ctx context.Context, d *models.Device) (map[string]string, error)
}

type Records interface {
	Pull(ctx context.Context, profileID, collection string, since int64, limit int) ([]models.Record, error)
	Push(ctx context.Context, profileID, collection string, docs []services.RecordInput) ([]models.Record, error)
}

type Profiles interface {
	Get(ctx context.Context, id string) (*models.Profile, error)
}

// Certs supplies the server certificate.
type Certs interface {
	EnsureCertificate(ctx context.Context) (*trust.Certificate, error)
	GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error)
}

type Options struct {
	Addr  string
	Grace time.Duration
	// PollTimeout bounds one long poll of the pairing result.
	PollTimeout time.Duration
}

type Deps struct {
	Devices  Devices
	Pairing  Pairing
	Scope    Scoper
	Records  Records
	Profiles Profiles
	Certs    Certs
}

type Server struct {
	opts    Options
	deps    Deps
	guard   *guard.Guard
	log     logging.Logger
	handler http.Handler
}

func New(opts Options, deps Deps, g *guard.Guard, l logging.Logger) *Server {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 25 * time.Second
	}
	s := &Server{opts: opts, deps: deps, guard: g, log: l.With("module", "secureapi")}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.guard.LocalOnly().Middleware)

	open := func(route string) guard.Pipeline { return s.guard.Limited(route, s.log) }
	authed := func(route string) guard.Pipeline {
		return s.guard.Limited(route, s.log).With(guard.Stage{Name: "bearer_auth", Middleware: s.authenticate})
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Method(http.MethodPost, "/pair/connect", open(config.RoutePair).Handler(s.handlePairConnect))
		r.Method(http.MethodPost, "/pair/request", open(config.RoutePair).Handler(s.handlePairRequest))
		r.Method(http.MethodGet, "/pair/result", open(config.RoutePair).Handler(s.handlePairResult))
		r.Method(http.MethodDelete, "/pair", open(config.RoutePair).Handler(s.handlePairAbandon))

		r.Method(http.MethodGet, "/session", authed(config.RouteSession).Handler(s.handleSession))
		r.Method(http.MethodGet, "/profiles", authed(config.RouteSession).Handler(s.handleProfiles))
		r.Method(http.MethodDelete, "/device", authed(config.RouteSession).Handler(s.handleUnpairSelf))
		r.Method(http.MethodGet, "/sync/{profileID}/{collection}", authed(config.RouteSync).Handler(s.handlePull))
		r.Method(http.MethodPut, "/sync/{profileID}/{collection}", authed(config.RouteSync).Handler(s.handlePush))
	})
	return r
}

func (s *Server) Handler() http.Handler { return s.handler }

// Start makes sure the certificate exists, then binds the TLS listener.
func (s *Server) Start(ctx context.Context) (*httpserver.Server, error) {
	if _, err := s.deps.Certs.EnsureCertificate(ctx); err != nil {
		return nil, fmt.Errorf("secure api certificate: %w", err)
	}
	return httpserver.Listen(ctx, httpserver.Options{
		Name:  "secure_api",
		Addr:  s.opts.Addr,
		Grace: s.opts.Grace,
		TLS: &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: s.deps.Certs.GetCertificate,
		},
	}, s.handler, s.log)
}

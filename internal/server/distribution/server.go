// Package distribution is the plaintext LAN server that hands out the
// companion: a landing page, installable packages with their hashes, the web
// app tree and version metadata. Every request passes the network guard.
package distribution

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/logging"
	"github.com/dmitrijs2005/vitalink/internal/server/artifacts"
	"github.com/dmitrijs2005/vitalink/internal/server/config"
	"github.com/dmitrijs2005/vitalink/internal/server/guard"
	"github.com/dmitrijs2005/vitalink/internal/server/httpserver"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

//go:embed templates/*.html
var templates embed.FS

var landingTmpl = template.Must(template.ParseFS(templates, "templates/landing.html"))

type Options struct {
	Addr          string
	Grace         time.Duration
	Version       string
	MinCompatible string
	SWVersion     string
	// WebAppDir holds the built web app; /app/ is 404 when empty.
	WebAppDir string
}

type Server struct {
	opts    Options
	guard   *guard.Guard
	source  artifacts.Source
	active  func() bool
	log     logging.Logger
	handler http.Handler
}

// New builds the server. active reports whether a profile is unlocked.
func New(opts Options, g *guard.Guard, src artifacts.Source, active func() bool, l logging.Logger) *Server {
	s := &Server{
		opts:   opts,
		guard:  g,
		source: src,
		active: active,
		log:    l.With("module", "distribution"),
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.guard.LocalOnly().Middleware)

	route := func(name string) guard.Pipeline { return s.guard.Limited(name, s.log) }

	r.Method(http.MethodGet, "/", route(config.RouteLanding).Handler(s.handleLanding))
	r.Method(http.MethodGet, "/install", route(config.RouteInstall).Handler(s.handleInstall))
	r.Method(http.MethodGet, "/install/{platform}", route(config.RouteInstall).Handler(s.handleInstall))
	r.Method(http.MethodGet, "/app", http.RedirectHandler("/app/", http.StatusMovedPermanently))
	r.Method(http.MethodGet, "/app/*", route(config.RouteApp).Handler(s.handleApp))
	r.Method(http.MethodGet, "/api/version", route(config.RouteVersion).Handler(s.handleVersion))
	r.Method(http.MethodGet, "/health", route(config.RouteHealth).Handler(s.handleHealth))
	return r
}

func (s *Server) Handler() http.Handler { return s.handler }

// Start binds the listener. Bind errors are returned as is.
func (s *Server) Start(ctx context.Context) (*httpserver.Server, error) {
	return httpserver.Listen(ctx, httpserver.Options{
		Name:  "distribution",
		Addr:  s.opts.Addr,
		Grace: s.opts.Grace,
	}, s.handler, s.log)
}

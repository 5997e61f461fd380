package httpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/logging"
	"go.uber.org/atomic"
)

// listen is a seam for tests.
var listen = net.Listen

// Options configures one server run.
type Options struct {
	// Name identifies the server in logs and status reports.
	Name string
	// Addr is the bind address, e.g. ":47610". Port 0 picks a free port.
	Addr string
	// TLS enables HTTPS when set.
	TLS *tls.Config
	// Grace bounds Shutdown before connections are force-closed.
	Grace time.Duration

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
}

// Session is the in-memory state of one server run.
type Session struct {
	Name      string
	Addr      string
	TLS       bool
	StartedAt time.Time

	requests atomic.Int64
	failures atomic.Int64
}

// Requests is the number of requests served so far.
func (s *Session) Requests() int64 { return s.requests.Load() }

// Failures is the number of requests answered with a 5xx status.
func (s *Session) Failures() int64 { return s.failures.Load() }

func (s *Session) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Inc()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		if sw.status >= 500 {
			s.failures.Inc()
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Server is a running HTTP(S) listener.
type Server struct {
	opts    Options
	log     logging.Logger
	srv     *http.Server
	ln      net.Listener
	session *Session
	done    chan struct{}
	stopped atomic.Bool
}

// Listen binds opts.Addr before returning, so bind failures reach the
// caller, then serves handler in the background.
func Listen(ctx context.Context, opts Options, handler http.Handler, l logging.Logger) (*Server, error) {
	if opts.Grace <= 0 {
		opts.Grace = 5 * time.Second
	}
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = 10 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 2 * time.Minute
	}

	ln, err := listen("tcp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", opts.Addr, err)
	}

	s := &Server{
		opts: opts,
		log:  l.With("module", "httpserver", "server", opts.Name),
		ln:   ln,
		session: &Session{
			Name:      opts.Name,
			Addr:      ln.Addr().String(),
			TLS:       opts.TLS != nil,
			StartedAt: time.Now().UTC(),
		},
		done: make(chan struct{}),
	}
	s.srv = &http.Server{
		Handler:           s.session.count(handler),
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		IdleTimeout:       opts.IdleTimeout,
	}

	if opts.TLS != nil {
		ln = tls.NewListener(ln, opts.TLS)
	}

	go func() {
		defer close(s.done)
		err := s.srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(context.Background(), "server failed", "error", err)
		}
	}()

	s.log.Info(ctx, "server listening", "addr", s.session.Addr, "tls", s.session.TLS)
	return s, nil
}

// Addr is the bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

func (s *Server) Session() *Session { return s.session }

// Done is closed once the serve loop has exited.
func (s *Server) Done() <-chan struct{} { return s.done }

// Shutdown stops accepting, waits up to the grace period for in-flight
// requests and then force-closes what is left. It returns once the
// listener is gone. Calling it again is a no-op.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.stopped.CompareAndSwap(false, true) {
		<-s.done
		return nil
	}

	graceCtx, cancel := context.WithTimeout(ctx, s.opts.Grace)
	defer cancel()

	err := s.srv.Shutdown(graceCtx)
	if err != nil {
		s.log.Warn(ctx, "graceful shutdown timed out, closing connections", "error", err)
		err = s.srv.Close()
	}
	<-s.done

	s.log.Info(ctx, "server stopped", "addr", s.session.Addr, "requests", s.session.Requests())
	return err
}

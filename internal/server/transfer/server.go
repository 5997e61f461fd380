// Package transfer is the ad-hoc file drop: a plaintext LAN server, gated by
// a six-digit PIN shown on the desktop, that stores uploads in the inbox
// directory. It is independent of pairing and stops itself after a period
// without requests.
package transfer

import (
	"context"
	"crypto/subtle"
	"embed"
	"errors"
	"html/template"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/filex"
	"github.com/dmitrijs2005/vitalink/internal/logging"
	"github.com/dmitrijs2005/vitalink/internal/server/auth"
	"github.com/dmitrijs2005/vitalink/internal/server/config"
	"github.com/dmitrijs2005/vitalink/internal/server/guard"
	"github.com/dmitrijs2005/vitalink/internal/server/httpserver"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/atomic"
)

//go:embed templates/*.html
var templates embed.FS

var uploadTmpl = template.Must(template.ParseFS(templates, "templates/upload.html"))

// PINDigits is the length of the transfer PIN.
const PINDigits = 6

type Options struct {
	Addr      string
	Grace     time.Duration
	InboxDir  string
	TicketTTL time.Duration
	// Idle stops the server after this long without requests.
	Idle time.Duration
	// MaxUpload caps one upload request body.
	MaxUpload int64
}

type Server struct {
	opts  Options
	guard *guard.Guard
	log   logging.Logger
}

func New(opts Options, g *guard.Guard, l logging.Logger) *Server {
	if opts.TicketTTL <= 0 {
		opts.TicketTTL = 10 * time.Minute
	}
	if opts.Idle <= 0 {
		opts.Idle = 5 * time.Minute
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = 2 << 30
	}
	return &Server{opts: opts, guard: g, log: l.With("module", "transfer")}
}

// Instance is one run of the transfer server with its own PIN and ticket
// key. Neither survives a restart.
type Instance struct {
	*httpserver.Server

	opts    Options
	log     logging.Logger
	pin     string
	tickets *auth.Signer

	mu       sync.Mutex
	idle     *time.Timer
	closed   bool
	inFlight atomic.Int64
	uploads  atomic.Int64
}

// Start generates a PIN, prepares the inbox and binds the listener.
func (s *Server) Start(ctx context.Context) (*Instance, error) {
	pin, err := common.MakeNumericPIN(PINDigits)
	if err != nil {
		return nil, err
	}
	if _, err := filex.EnsureSubDir(s.opts.InboxDir, ""); err != nil {
		return nil, err
	}

	inst := &Instance{opts: s.opts, log: s.log, pin: pin, tickets: auth.NewSigner()}
	srv, err := httpserver.Listen(ctx, httpserver.Options{
		Name:  "transfer",
		Addr:  s.opts.Addr,
		Grace: s.opts.Grace,
	}, s.routes(inst), s.log)
	if err != nil {
		return nil, err
	}
	inst.Server = srv
	inst.armIdle()

	s.log.Info(ctx, "transfer server ready", "addr", srv.Session().Addr, "inbox", s.opts.InboxDir)
	return inst, nil
}

func (s *Server) routes(inst *Instance) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.guard.LocalOnly().Middleware)
	r.Use(inst.track)

	route := func(name string) guard.Pipeline { return s.guard.Limited(name, s.log) }

	r.Method(http.MethodGet, "/", route(config.RouteTransferPage).Handler(inst.handlePage))
	r.Method(http.MethodPost, "/api/unlock", route(config.RouteTransferUnlock).Handler(inst.handleUnlock))
	r.Method(http.MethodPost, "/api/upload", route(config.RouteTransferUpload).Handler(inst.handleUpload))
	r.Method(http.MethodGet, "/health", route(config.RouteHealth).Handler(inst.handleHealth))
	return r
}

// PIN is shown on the desktop so the user can type it on the phone.
func (i *Instance) PIN() string { return i.pin }

// Uploads counts stored files.
func (i *Instance) Uploads() int64 { return i.uploads.Load() }

func (i *Instance) Details() map[string]string {
	return map[string]string{
		"pin":     i.pin,
		"inbox":   i.opts.InboxDir,
		"uploads": strconv.FormatInt(i.uploads.Load(), 10),
	}
}

func (i *Instance) armIdle() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.idle = time.AfterFunc(i.opts.Idle, i.onIdle)
}

func (i *Instance) touch() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.idle != nil && !i.closed {
		i.idle.Reset(i.opts.Idle)
	}
}

func (i *Instance) onIdle() {
	if i.inFlight.Load() > 0 {
		i.touch()
		return
	}
	i.log.Info(context.Background(), "transfer server idle, stopping", "idle", i.opts.Idle.String())
	go func() { _ = i.Shutdown(context.Background()) }()
}

// Shutdown stops the idle timer and the listener.
func (i *Instance) Shutdown(ctx context.Context) error {
	i.mu.Lock()
	i.closed = true
	if i.idle != nil {
		i.idle.Stop()
	}
	i.mu.Unlock()
	return i.Server.Shutdown(ctx)
}

func (i *Instance) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i.inFlight.Inc()
		i.touch()
		defer func() {
			i.inFlight.Dec()
			i.touch()
		}()
		next.ServeHTTP(w, r)
	})
}

func (i *Instance) handlePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := uploadTmpl.Execute(w, map[string]int{"Digits": PINDigits}); err != nil {
		i.log.Error(r.Context(), "rendering upload page failed", "error", err)
	}
}

type unlockRequest struct {
	PIN string `json:"pin"`
}

type unlockResponse struct {
	Ticket    string `json:"ticket"`
	ExpiresIn int64  `json:"expires_in"`
}

func (i *Instance) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if err := httpserver.ReadJSON(w, r, &req); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "bad_request")
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.PIN), []byte(i.pin)) != 1 {
		i.log.Warn(r.Context(), "wrong transfer pin", "security", true, "remote", r.RemoteAddr)
		httpserver.WriteError(w, http.StatusUnauthorized, "invalid_pin")
		return
	}
	ticket, _, err := i.tickets.Issue(i.Session().Addr, auth.PurposeTransfer, i.opts.TicketTTL)
	if err != nil {
		httpserver.WriteError(w, http.StatusInternalServerError, "internal")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, unlockResponse{Ticket: ticket, ExpiresIn: int64(i.opts.TicketTTL.Seconds())})
}

type storedFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func (i *Instance) handleUpload(w http.ResponseWriter, r *http.Request) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		httpserver.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if _, err := i.tickets.Verify(h[len(prefix):], auth.PurposeTransfer); err != nil {
		code := "unauthorized"
		if errors.Is(err, common.ErrTokenExpired) {
			code = "ticket_expired"
		}
		httpserver.WriteError(w, http.StatusUnauthorized, code)
		return
	}

	if r.ContentLength > i.opts.MaxUpload {
		httpserver.WriteError(w, http.StatusRequestEntityTooLarge, "too_large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, i.opts.MaxUpload)
	mr, err := r.MultipartReader()
	if err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "bad_request")
		return
	}

	var stored []storedFile
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			i.uploadFailed(w, r, err)
			return
		}
		if part.FileName() == "" {
			_ = part.Close()
			continue
		}
		path, n, err := filex.StoreUnique(i.opts.InboxDir, part.FileName(), part)
		_ = part.Close()
		if err != nil {
			i.uploadFailed(w, r, err)
			return
		}
		i.uploads.Inc()
		i.log.Info(r.Context(), "file received", "path", path, "bytes", n, "remote", r.RemoteAddr)
		stored = append(stored, storedFile{Name: filepath.Base(path), Size: n})
	}

	if len(stored) == 0 {
		httpserver.WriteError(w, http.StatusBadRequest, "no_files")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"files": stored})
}

func (i *Instance) uploadFailed(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httpserver.WriteError(w, http.StatusRequestEntityTooLarge, "too_large")
		return
	}
	i.log.Error(r.Context(), "upload failed", "error", err)
	httpserver.WriteError(w, http.StatusBadRequest, "upload_failed")
}

func (i *Instance) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Package supervisor owns the lifecycle of the LAN servers. One goroutine
// holds every running instance; Start, Stop, Status, StopAll, Seal and Unseal
// are requests sent to it over a channel, so lifecycle changes never race.
//
// A sealed supervisor has stopped everything and refuses Start with
// common.ErrProfileLocked until Unseal.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/logging"
	"github.com/dmitrijs2005/vitalink/internal/server/httpserver"
)

// ErrStopped is returned once Run has exited.
var ErrStopped = errors.New("supervisor stopped")

// Instance is a running server. *httpserver.Server implements it.
type Instance interface {
	Session() *httpserver.Session
	Done() <-chan struct{}
	Shutdown(ctx context.Context) error
}

// Describer is implemented by instances with extra status, such as the
// transfer server's PIN.
type Describer interface {
	Details() map[string]string
}

// StartFunc binds and starts one server.
type StartFunc func(ctx context.Context) (Instance, error)

type ServerStatus struct {
	Name      string
	Running   bool
	Addr      string
	TLS       bool
	StartedAt time.Time
	Requests  int64
	Details   map[string]string
}

type op int

const (
	opStart op = iota
	opStop
	opStatus
	opStopAll
	opSeal
	opUnseal
)

type request struct {
	ctx   context.Context
	op    op
	name  string
	reply chan response
}

type response struct {
	err    error
	status []ServerStatus
}

type exit struct {
	name string
	inst Instance
}

type Supervisor struct {
	log      logging.Logger
	starters map[string]StartFunc
	grace    time.Duration

	reqs    chan request
	exits   chan exit
	stopped chan struct{}
}

// New registers the servers by name. Call Run to start the owner loop.
func New(starters map[string]StartFunc, grace time.Duration, l logging.Logger) *Supervisor {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	m := make(map[string]StartFunc, len(starters))
	for k, v := range starters {
		m[k] = v
	}
	return &Supervisor{
		log:      l.With("module", "supervisor"),
		starters: m,
		grace:    grace,
		reqs:     make(chan request),
		exits:    make(chan exit),
		stopped:  make(chan struct{}),
	}
}

// Run owns the running instances until ctx ends, then stops them all.
func (s *Supervisor) Run(ctx context.Context) {
	running := map[string]Instance{}
	sealed := false
	defer close(s.stopped)

	for {
		select {
		case <-ctx.Done():
			s.stopAll(context.Background(), running)
			return

		case e := <-s.exits:
			if cur, ok := running[e.name]; ok && cur == e.inst {
				delete(running, e.name)
				s.log.Info(ctx, "server exited on its own", "server", e.name)
			}

		case req := <-s.reqs:
			var resp response
			switch req.op {
			case opStart:
				if sealed {
					resp.err = fmt.Errorf("%w: %s not started", common.ErrProfileLocked, req.name)
					break
				}
				resp.err = s.start(req.ctx, running, req.name)
			case opStop:
				resp.err = s.stop(req.ctx, running, req.name)
			case opStatus:
				resp.status = s.status(running)
			case opStopAll:
				s.stopAll(req.ctx, running)
			case opSeal:
				sealed = true
				s.stopAll(req.ctx, running)
			case opUnseal:
				sealed = false
			}
			req.reply <- resp
		}
	}
}

func (s *Supervisor) start(ctx context.Context, running map[string]Instance, name string) error {
	starter, ok := s.starters[name]
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrUnknownServer, name)
	}
	if _, ok := running[name]; ok {
		return fmt.Errorf("%w: %s", common.ErrServerRunning, name)
	}

	inst, err := starter(ctx)
	if err != nil {
		s.log.Error(ctx, "server failed to start", "server", name, "error", err)
		return err
	}
	running[name] = inst

	go func() {
		<-inst.Done()
		select {
		case s.exits <- exit{name: name, inst: inst}:
		case <-s.stopped:
		}
	}()

	s.log.Info(ctx, "server started", "server", name, "addr", inst.Session().Addr)
	return nil
}

func (s *Supervisor) stop(ctx context.Context, running map[string]Instance, name string) error {
	if _, ok := s.starters[name]; !ok {
		return fmt.Errorf("%w: %s", common.ErrUnknownServer, name)
	}
	inst, ok := running[name]
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrServerNotRunning, name)
	}
	delete(running, name)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*s.grace)
	defer cancel()
	if err := inst.Shutdown(shutdownCtx); err != nil {
		s.log.Warn(ctx, "server shutdown reported an error", "server", name, "error", err)
	}
	s.log.Info(ctx, "server stopped", "server", name)
	return nil
}

func (s *Supervisor) stopAll(ctx context.Context, running map[string]Instance) {
	for _, name := range sortedNames(running) {
		_ = s.stop(ctx, running, name)
	}
}

func (s *Supervisor) status(running map[string]Instance) []ServerStatus {
	names := make([]string, 0, len(s.starters))
	for name := range s.starters {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ServerStatus, 0, len(names))
	for _, name := range names {
		st := ServerStatus{Name: name}
		if inst, ok := running[name]; ok {
			sess := inst.Session()
			st.Running = true
			st.Addr = sess.Addr
			st.TLS = sess.TLS
			st.StartedAt = sess.StartedAt
			st.Requests = sess.Requests()
			if d, ok := inst.(Describer); ok {
				st.Details = d.Details()
			}
		}
		out = append(out, st)
	}
	return out
}

func sortedNames(m map[string]Instance) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Supervisor) call(ctx context.Context, o op, name string) (response, error) {
	req := request{ctx: ctx, op: o, name: name, reply: make(chan response, 1)}
	select {
	case s.reqs <- req:
	case <-s.stopped:
		return response{}, ErrStopped
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	// the loop always answers a request it accepted
	resp := <-req.reply
	return resp, resp.err
}

// Start binds and starts the named server. Bind failures are returned and
// leave every other server untouched.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	_, err := s.call(ctx, opStart, name)
	return err
}

// Stop shuts the named server down and returns once its listener is closed.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	_, err := s.call(ctx, opStop, name)
	return err
}

// Status reports every registered server, running or not, sorted by name.
func (s *Supervisor) Status(ctx context.Context) ([]ServerStatus, error) {
	resp, err := s.call(ctx, opStatus, "")
	return resp.status, err
}

// StopAll stops every running server and returns when none is left.
func (s *Supervisor) StopAll(ctx context.Context) error {
	_, err := s.call(ctx, opStopAll, "")
	return err
}

// Seal stops every running server and refuses further starts until Unseal.
// Both happen in one step of the owner loop, so no Start can slip in between.
func (s *Supervisor) Seal(ctx context.Context) error {
	_, err := s.call(ctx, opSeal, "")
	return err
}

// Unseal allows starts again.
func (s *Supervisor) Unseal(ctx context.Context) error {
	_, err := s.call(ctx, opUnseal, "")
	return err
}

// Running reports whether name is currently running.
func (s *Supervisor) Running(ctx context.Context, name string) bool {
	st, err := s.Status(ctx)
	if err != nil {
		return false
	}
	for _, x := range st {
		if x.Name == name {
			return x.Running
		}
	}
	return false
}

// Done is closed when Run has returned.
func (s *Supervisor) Done() <-chan struct{} { return s.stopped }

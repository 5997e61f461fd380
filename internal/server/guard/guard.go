package guard

import (
	"context"
	"math"
	"net/http"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/logging"
	"github.com/dmitrijs2005/vitalink/internal/netx"
	"github.com/dmitrijs2005/vitalink/internal/server/config"
	"github.com/dmitrijs2005/vitalink/internal/server/httpserver"
	"github.com/flashbots/go-utils/httplogger"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

type peerKey struct{}

// Peer returns the verified client address stored by the local-subnet stage.
func Peer(ctx context.Context) (netip.Addr, bool) {
	a, ok := ctx.Value(peerKey{}).(netip.Addr)
	return a, ok
}

type limiterKey struct {
	addr  netip.Addr
	route string
}

type Options struct {
	// CacheSize bounds the number of live limiters.
	CacheSize int
	// IdleTTL evicts limiters that have not been used for this long.
	IdleTTL time.Duration
}

// Stats are the guard counters. Subnet violations are security signals and
// kept apart from rate limiting.
type Stats struct {
	SubnetViolations int64
	RateLimited      int64
}

// Guard holds the subnet policy and the limiter table. It is shared by all
// servers of a daemon.
type Guard struct {
	log      logging.Logger
	prefixes []netip.Prefix
	budgets  map[string]config.RateBudget

	mu       sync.Mutex
	limiters *expirable.LRU[limiterKey, *rate.Limiter]
	now      func() time.Time

	violations atomic.Int64
	limited    atomic.Int64
}

func New(prefixes []netip.Prefix, budgets map[string]config.RateBudget, l logging.Logger, opts Options) *Guard {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 4096
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}
	b := make(map[string]config.RateBudget, len(budgets))
	for k, v := range budgets {
		b[k] = v
	}
	return &Guard{
		log:      l.With("module", "guard"),
		prefixes: append([]netip.Prefix(nil), prefixes...),
		budgets:  b,
		limiters: expirable.NewLRU[limiterKey, *rate.Limiter](opts.CacheSize, nil, opts.IdleTTL),
		now:      time.Now,
	}
}

// CheckSource validates the TCP peer address (never a forwarded header)
// against the local prefixes.
func (g *Guard) CheckSource(remoteAddr string) (netip.Addr, error) {
	addr, err := netx.PeerAddr(remoteAddr)
	if err != nil {
		return netip.Addr{}, common.ErrNotLocal
	}
	if !netx.Contains(g.prefixes, addr) {
		return addr, common.ErrNotLocal
	}
	return addr, nil
}

// Allow takes one token from the (addr, route) bucket. Routes without a
// budget are unlimited. When the bucket is empty it reports how long until a
// token is available.
func (g *Guard) Allow(addr netip.Addr, route string) (bool, time.Duration) {
	budget, ok := g.budgets[route]
	if !ok || budget.Requests <= 0 || budget.Period <= 0 {
		return true, 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	k := limiterKey{addr: addr, route: route}
	lim, ok := g.limiters.Get(k)
	if !ok {
		every := budget.Period / time.Duration(budget.Requests)
		lim = rate.NewLimiter(rate.Every(every), budget.Requests)
	}
	// re-adding refreshes the idle deadline
	g.limiters.Add(k, lim)

	now := g.now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, budget.Period
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, delay
}

func (g *Guard) Stats() Stats {
	return Stats{SubnetViolations: g.violations.Load(), RateLimited: g.limited.Load()}
}

// LimiterCount is the number of live limiters.
func (g *Guard) LimiterCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limiters.Len()
}

// LocalOnly rejects requests whose peer is outside the local prefixes.
func (g *Guard) LocalOnly() Stage {
	return Stage{Name: "local_subnet", Middleware: func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr, err := g.CheckSource(r.RemoteAddr)
			if err != nil {
				g.violations.Inc()
				g.log.Warn(r.Context(), "request from non-local address rejected",
					"security", true, "remote", r.RemoteAddr, "method", r.Method, "path", r.URL.Path)
				httpserver.WriteError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), peerKey{}, addr)))
		})
	}}
}

// RateLimit applies route's budget. It expects LocalOnly earlier in the
// pipeline and falls back to parsing RemoteAddr otherwise.
func (g *Guard) RateLimit(route string) Stage {
	return Stage{Name: "rate_limit:" + route, Middleware: func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr, ok := Peer(r.Context())
			if !ok {
				a, err := netx.PeerAddr(r.RemoteAddr)
				if err != nil {
					httpserver.WriteError(w, http.StatusForbidden, "forbidden")
					return
				}
				addr = a
			}
			allowed, wait := g.Allow(addr, route)
			if !allowed {
				g.limited.Inc()
				secs := int(math.Ceil(wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				g.log.Warn(r.Context(), "rate limit exceeded", "route", route, "remote", addr.String(), "retry_after", secs)
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				httpserver.WriteError(w, http.StatusTooManyRequests, "rate_limited")
				return
			}
			next.ServeHTTP(w, r)
		})
	}}
}

// Audit is the access log stage.
func Audit(l logging.Logger) Stage {
	sl := logging.SlogOf(l)
	return Stage{Name: "audit", Middleware: func(next http.Handler) http.Handler {
		return httplogger.LoggingMiddlewareSlog(sl, next)
	}}
}

// Route builds the standard pipeline for one route.
func (g *Guard) Route(route string, l logging.Logger) Pipeline {
	return Pipeline{g.LocalOnly(), g.RateLimit(route), Audit(l)}
}

// Limited is Route without the subnet stage, for routers that already
// apply LocalOnly to every request.
func (g *Guard) Limited(route string, l logging.Logger) Pipeline {
	return Pipeline{g.RateLimit(route), Audit(l)}
}

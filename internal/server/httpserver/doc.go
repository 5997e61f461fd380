// Package httpserver is the listener lifecycle shared by the distribution,
// secure API and transfer servers: synchronous bind, background serving,
// per-run session counters and a bounded graceful shutdown.
package httpserver

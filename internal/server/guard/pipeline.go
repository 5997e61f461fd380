// Package guard is the network guard in front of every LAN-facing server:
// local-subnet enforcement on the TCP peer address and per (client IP, route)
// token-bucket rate limiting, composed as an ordered pipeline of named stages.
package guard

import "net/http"

// Stage is one named middleware step.
type Stage struct {
	Name       string
	Middleware func(http.Handler) http.Handler
}

// Pipeline applies its stages in order: the first stage sees the request
// first.
type Pipeline []Stage

// With returns a copy of p with stages appended.
func (p Pipeline) With(stages ...Stage) Pipeline {
	out := make(Pipeline, 0, len(p)+len(stages))
	out = append(out, p...)
	return append(out, stages...)
}

// Then wraps h with every stage.
func (p Pipeline) Then(h http.Handler) http.Handler {
	for i := len(p) - 1; i >= 0; i-- {
		h = p[i].Middleware(h)
	}
	return h
}

// Handler is Then for a handler func, convenient for route tables.
func (p Pipeline) Handler(f http.HandlerFunc) http.Handler {
	return p.Then(f)
}

func (p Pipeline) Names() []string {
	names := make([]string, len(p))
	for i, s := range p {
		names[i] = s.Name
	}
	return names
}

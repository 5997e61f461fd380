package secureapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/server/httpserver"
	"github.com/dmitrijs2005/vitalink/internal/server/registry"
)

type connectRequest struct {
	Token string `json:"token"`
}

type connectResponse struct {
	Ticket string `json:"ticket"`
}

type requestResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// writePairingError maps pairing failures to HTTP.
func (s *Server) writePairingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrPairingTokenInvalid):
		httpserver.WriteError(w, http.StatusUnauthorized, "pairing_token_invalid")
	case errors.Is(err, common.ErrPairingExpired):
		httpserver.WriteError(w, http.StatusGone, "pairing_expired")
	case errors.Is(err, common.ErrPairingDenied):
		httpserver.WriteError(w, http.StatusForbidden, "pairing_denied")
	case errors.Is(err, common.ErrPairingDelivered):
		httpserver.WriteError(w, http.StatusConflict, "pairing_delivered")
	case errors.Is(err, common.ErrPairingWrongState), errors.Is(err, common.ErrPairingCancelled),
		errors.Is(err, common.ErrProfileLocked):
		httpserver.WriteError(w, http.StatusConflict, "pairing_cancelled")
	default:
		s.log.Error(r.Context(), "pairing request failed", "error", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal")
	}
}

func (s *Server) handlePairConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := httpserver.ReadJSON(w, r, &req); err != nil || req.Token == "" {
		httpserver.WriteError(w, http.StatusBadRequest, "bad_request")
		return
	}
	ticket, err := s.deps.Pairing.Connect(r.Context(), req.Token)
	if err != nil {
		s.writePairingError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, connectResponse{Ticket: ticket})
}

func (s *Server) handlePairRequest(w http.ResponseWriter, r *http.Request) {
	ticket := bearer(r)
	if ticket == "" {
		httpserver.WriteError(w, http.StatusUnauthorized, "pairing_token_invalid")
		return
	}
	var info registry.DeviceInfo
	if err := httpserver.ReadJSON(w, r, &info); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "bad_request")
		return
	}
	id, err := s.deps.Pairing.Request(r.Context(), ticket, info)
	if err != nil {
		s.writePairingError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusAccepted, requestResponse{SessionID: id, State: "awaiting_approval"})
}

// handlePairResult long-polls for the desktop decision. A poll that times
// out answers 202 and the device polls again.
func (s *Server) handlePairResult(w http.ResponseWriter, r *http.Request) {
	ticket := bearer(r)
	if ticket == "" {
		httpserver.WriteError(w, http.StatusUnauthorized, "pairing_token_invalid")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.PollTimeout)
	defer cancel()

	a, err := s.deps.Pairing.AwaitResult(ctx, ticket)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil {
			w.Header().Set("Retry-After", "1")
			httpserver.WriteJSON(w, http.StatusAccepted, map[string]string{"state": "pending"})
			return
		}
		if r.Context().Err() != nil {
			return
		}
		s.writePairingError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, a)
}

func (s *Server) handlePairAbandon(w http.ResponseWriter, r *http.Request) {
	ticket := bearer(r)
	if ticket == "" {
		httpserver.WriteError(w, http.StatusUnauthorized, "pairing_token_invalid")
		return
	}
	if err := s.deps.Pairing.Abandon(r.Context(), ticket); err != nil {
		s.writePairingError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

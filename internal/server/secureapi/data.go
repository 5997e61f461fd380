package secureapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/server/httpserver"
	"github.com/dmitrijs2005/vitalink/internal/server/services"
	"github.com/go-chi/chi/v5"
)

type scopedProfile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Access string `json:"access"`
	Own    bool   `json:"own"`
}

type sessionResponse struct {
	DeviceID    string          `json:"device_id"`
	ProfileID   string          `json:"profile_id"`
	Name        string          `json:"name"`
	Access      string          `json:"access"`
	Fingerprint string          `json:"fingerprint"`
	PairedAt    time.Time       `json:"paired_at"`
	Profiles    []scopedProfile `json:"profiles"`
}

func (s *Server) scopedProfiles(r *http.Request) ([]scopedProfile, error) {
	d := deviceFrom(r.Context())
	scope, err := s.deps.Scope.Scope(r.Context(), d)
	if err != nil {
		return nil, err
	}
	out := make([]scopedProfile, 0, len(scope))
	for id, access := range scope {
		sp := scopedProfile{ID: id, Access: access, Own: id == d.ProfileID}
		if p, err := s.deps.Profiles.Get(r.Context(), id); err == nil {
			sp.Name = p.Name
		}
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Own != out[j].Own {
			return out[i].Own
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	d := deviceFrom(r.Context())
	profiles, err := s.scopedProfiles(r)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, sessionResponse{
		DeviceID:    d.ID,
		ProfileID:   d.ProfileID,
		Name:        d.Name,
		Access:      d.Access,
		Fingerprint: d.Fingerprint,
		PairedAt:    d.PairedAt,
		Profiles:    profiles,
	})
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.scopedProfiles(r)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"profiles": profiles})
}

func (s *Server) handleUnpairSelf(w http.ResponseWriter, r *http.Request) {
	d := deviceFrom(r.Context())
	if err := s.deps.Devices.Unpair(r.Context(), d.ID); err != nil && !errors.Is(err, common.ErrorNotFound) {
		s.internalError(w, r, err)
		return
	}
	w.Header().Del(common.DeviceTokenHeaderName)
	w.WriteHeader(http.StatusNoContent)
}

// access returns the device's access level on the requested profile, or ""
// when the profile is out of scope.
func (s *Server) access(r *http.Request, profileID string) (string, error) {
	scope, err := s.deps.Scope.Scope(r.Context(), deviceFrom(r.Context()))
	if err != nil {
		return "", err
	}
	return scope[profileID], nil
}

type recordView struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	Version   int64           `json:"version"`
	Deleted   bool            `json:"deleted"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type pullResponse struct {
	Records    []recordView `json:"records"`
	MaxVersion int64        `json:"max_version"`
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	collection := chi.URLParam(r, "collection")

	access, err := s.access(r, profileID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if access == "" {
		httpserver.WriteError(w, http.StatusForbidden, "forbidden")
		return
	}

	since, err := parseInt(r.URL.Query().Get("since"))
	if err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "bad_request")
		return
	}
	limit, err := parseInt(r.URL.Query().Get("limit"))
	if err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "bad_request")
		return
	}

	recs, err := s.deps.Records.Pull(r.Context(), profileID, collection, since, int(limit))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	resp := pullResponse{Records: make([]recordView, 0, len(recs)), MaxVersion: since}
	for _, rec := range recs {
		resp.Records = append(resp.Records, recordView{
			ID:        rec.ID,
			Payload:   json.RawMessage(rec.Payload),
			Version:   rec.Version,
			Deleted:   rec.Deleted,
			UpdatedAt: rec.UpdatedAt,
		})
		if rec.Version > resp.MaxVersion {
			resp.MaxVersion = rec.Version
		}
	}
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

type pushRequest struct {
	Records []services.RecordInput `json:"records"`
}

type pushed struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	collection := chi.URLParam(r, "collection")

	access, err := s.access(r, profileID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if access != common.AccessFull {
		s.log.Warn(r.Context(), "write outside device scope rejected",
			"device_id", deviceFrom(r.Context()).ID, "profile_id", profileID, "access", access)
		httpserver.WriteError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req pushRequest
	if err := httpserver.ReadJSON(w, r, &req); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "bad_request")
		return
	}
	saved, err := s.deps.Records.Push(r.Context(), profileID, collection, req.Records)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	out := make([]pushed, 0, len(saved))
	for _, rec := range saved {
		out = append(out, pushed{ID: rec.ID, Version: rec.Version})
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"records": out})
}

func parseInt(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.New("bad integer")
	}
	return n, nil
}

func (s *Server) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, common.ErrorValidation) {
		httpserver.WriteError(w, http.StatusBadRequest, "bad_request")
		return
	}
	s.internalError(w, r, err)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	httpserver.WriteError(w, http.StatusInternalServerError, "internal")
}

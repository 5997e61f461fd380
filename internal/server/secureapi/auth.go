package secureapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/server/httpserver"
	"github.com/dmitrijs2005/vitalink/internal/server/models"
)

type deviceKey struct{}

func deviceFrom(ctx context.Context) *models.Device {
	d, _ := ctx.Value(deviceKey{}).(*models.Device)
	return d
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

func writeRepair(w http.ResponseWriter, code string) {
	httpserver.WriteJSON(w, http.StatusUnauthorized, httpserver.ErrorBody{Error: code, Repair: true})
}

// authenticate checks the bearer token, rotates it and hands the new one
// back in the X-Device-Token header.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearer(r)
		if token == "" {
			writeRepair(w, "unauthorized")
			return
		}

		d, rotated, err := s.deps.Devices.Authenticate(r.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, common.ErrorUnauthorized):
			s.log.Warn(r.Context(), "device token rejected", "security", true, "remote", r.RemoteAddr)
			writeRepair(w, "unauthorized")
			return
		case errors.Is(err, common.ErrTrustReset):
			s.log.Warn(r.Context(), "device pinned a replaced certificate", "remote", r.RemoteAddr)
			writeRepair(w, "trust_reset")
			return
		default:
			s.log.Error(r.Context(), "device authentication failed", "error", err)
			httpserver.WriteError(w, http.StatusServiceUnavailable, "unavailable")
			return
		}

		w.Header().Set(common.DeviceTokenHeaderName, rotated)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), deviceKey{}, d)))
	})
}

package distribution

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/server/artifacts"
	"github.com/dmitrijs2005/vitalink/internal/server/httpserver"
	"github.com/go-chi/chi/v5"
)

// DetectPlatform guesses the visitor's platform from the User-Agent.
func DetectPlatform(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "android"):
		return artifacts.PlatformAndroid
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ipod"):
		return artifacts.PlatformIOS
	}
	return artifacts.PlatformDesktop
}

var platformLabels = map[string]string{
	artifacts.PlatformAndroid: "Android",
	artifacts.PlatformIOS:     "iPhone and iPad",
	artifacts.PlatformDesktop: "desktop",
}

type landingData struct {
	Version  string
	Label    string
	Artifact *artifacts.Artifact
	Others   []artifacts.Artifact
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	platform := DetectPlatform(r.UserAgent())
	list, err := s.source.List(r.Context())
	if err != nil {
		s.log.Error(r.Context(), "listing artifacts failed", "error", err)
	}

	data := landingData{Version: s.opts.Version, Label: platformLabels[platform]}
	for i := range list {
		if list[i].Platform == platform {
			a := list[i]
			data.Artifact = &a
			continue
		}
		data.Others = append(data.Others, list[i])
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if err := landingTmpl.Execute(w, data); err != nil {
		s.log.Error(r.Context(), "rendering landing page failed", "error", err)
	}
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	if platform == "" {
		platform = DetectPlatform(r.UserAgent())
	}

	a, body, err := s.source.Open(r.Context(), platform)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			httpserver.WriteError(w, http.StatusNotFound, "not_found")
			return
		}
		s.log.Error(r.Context(), "opening artifact failed", "platform", platform, "error", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal")
		return
	}
	defer body.Close()

	h := w.Header()
	h.Set("Content-Type", a.ContentType)
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Name))
	h.Set("Content-Length", strconv.FormatInt(a.Size, 10))
	h.Set("Digest", a.DigestHeader())
	h.Set("X-Content-SHA256", a.SHA256)
	h.Set("X-Content-Hash-Display", a.DisplayHash())
	h.Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, body)
	if err != nil {
		s.log.Warn(r.Context(), "artifact download interrupted", "platform", platform, "sent", n, "error", err)
		return
	}
	s.log.Info(r.Context(), "artifact downloaded", "platform", platform, "name", a.Name, "bytes", n)
}

type download struct {
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

type versionResponse struct {
	Version       string              `json:"version"`
	MinCompatible string              `json:"min_compatible"`
	Downloads     map[string]download `json:"downloads"`
	SWVersion     string              `json:"sw_version"`
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	list, err := s.source.List(r.Context())
	if err != nil {
		s.log.Error(r.Context(), "listing artifacts failed", "error", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal")
		return
	}
	resp := versionResponse{
		Version:       s.opts.Version,
		MinCompatible: s.opts.MinCompatible,
		Downloads:     make(map[string]download, len(list)),
		SWVersion:     s.opts.SWVersion,
	}
	for _, a := range list {
		resp.Downloads[a.Platform] = download{URL: "/install/" + a.Platform, SHA256: a.SHA256, Size: a.Size}
	}
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	ProfileActive bool   `json:"profile_active"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	active := s.active != nil && s.active()
	httpserver.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: s.opts.Version, ProfileActive: active})
}

package distribution

import (
	"io/fs"
	"net/http"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/dmitrijs2005/vitalink/internal/server/httpserver"
	"github.com/go-chi/chi/v5"
)

const entryDocument = "index.html"

const (
	cacheImmutable  = "public, max-age=31536000, immutable"
	cacheRevalidate = "no-cache"
)

// hashSegment captures the last dot or dash separated segment of an asset
// name, e.g. 3f9a1c2b in app.3f9a1c2b.js or BX2k9QzA in chunk-BX2k9QzA.css.
var hashSegment = regexp.MustCompile(`[.-]([0-9A-Za-z_]{8,})\.(?:js|mjs|css|woff2?|png|jpe?g|svg|webp|ico|wasm)$`)

var lowerHex = regexp.MustCompile(`^[0-9a-f]+$`)

// fingerprinted reports whether name carries a content hash. Plain words
// such as app-settings.js or styles.standalone.css do not: a hash segment
// is lowercase hex or contains a digit.
func fingerprinted(name string) bool {
	m := hashSegment.FindStringSubmatch(name)
	if m == nil {
		return false
	}
	seg := m[1]
	return lowerHex.MatchString(seg) || strings.ContainsAny(seg, "0123456789")
}

var alwaysRevalidate = map[string]bool{
	entryDocument:          true,
	"manifest.json":        true,
	"manifest.webmanifest": true,
	"sw.js":                true,
	"service-worker.js":    true,
}

// CacheControl picks the caching policy for a file of the web app.
func CacheControl(name string) string {
	base := path.Base(name)
	if alwaysRevalidate[base] {
		return cacheRevalidate
	}
	if fingerprinted(base) {
		return cacheImmutable
	}
	return cacheRevalidate
}

func (s *Server) handleApp(w http.ResponseWriter, r *http.Request) {
	if s.opts.WebAppDir == "" {
		httpserver.WriteError(w, http.StatusNotFound, "not_found")
		return
	}
	root := os.DirFS(s.opts.WebAppDir)

	name := strings.TrimPrefix(path.Clean("/"+chi.URLParam(r, "*")), "/")
	if name == "" {
		name = entryDocument
	}
	if !fs.ValidPath(name) {
		httpserver.WriteError(w, http.StatusNotFound, "not_found")
		return
	}

	info, err := fs.Stat(root, name)
	if err == nil && info.IsDir() {
		name = path.Join(name, entryDocument)
		info, err = fs.Stat(root, name)
	}
	if err != nil {
		// client-side routes have no extension and get the entry document
		if path.Ext(name) != "" {
			httpserver.WriteError(w, http.StatusNotFound, "not_found")
			return
		}
		name = entryDocument
	}

	w.Header().Set("Cache-Control", CacheControl(name))
	http.ServeFileFS(w, r, root, name)
}

// Package artifacts locates the installable companion packages served by the
// distribution server. Packages live in a local directory or in an
// S3-compatible bucket (for example a MinIO mirror on the LAN); their SHA-256
// is computed once per content version and cached.
package artifacts

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/common"
)

// Platforms known to the landing page.
const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
	PlatformDesktop = "desktop"
)

// Artifact describes one downloadable package.
type Artifact struct {
	Platform string
	Name     string
	// Key locates the content inside its source.
	Key         string
	ContentType string
	Size        int64
	SHA256      string
	ModTime     time.Time
}

// DigestHeader is the RFC 3230 Digest value.
func (a Artifact) DigestHeader() string {
	raw, err := hex.DecodeString(a.SHA256)
	if err != nil {
		return ""
	}
	return "sha-256=" + base64.StdEncoding.EncodeToString(raw)
}

// DisplayHash is the short grouped hash shown next to the QR code so the
// user can compare it with what the phone reports, e.g. "3FA2 9C01 7B4E 55D0".
func (a Artifact) DisplayHash() string {
	h := strings.ToUpper(a.SHA256)
	if len(h) > 16 {
		h = h[:16]
	}
	var groups []string
	for len(h) > 4 {
		groups = append(groups, h[:4])
		h = h[4:]
	}
	if h != "" {
		groups = append(groups, h)
	}
	return strings.Join(groups, " ")
}

// Source lists artifacts and opens their content.
type Source interface {
	// List returns at most one artifact per platform, sorted by platform.
	List(ctx context.Context) ([]Artifact, error)
	// Open returns the artifact for platform and a reader for its bytes.
	// Unknown platforms yield common.ErrorNotFound.
	Open(ctx context.Context, platform string) (*Artifact, io.ReadCloser, error)
}

// PlatformOf maps a package file name to its platform by extension.
func PlatformOf(name string) (string, bool) {
	switch strings.ToLower(path.Ext(name)) {
	case ".apk", ".aab":
		return PlatformAndroid, true
	case ".ipa":
		return PlatformIOS, true
	case ".dmg", ".pkg", ".exe", ".msi", ".appimage", ".deb", ".rpm", ".zip":
		return PlatformDesktop, true
	}
	return "", false
}

// ContentTypeOf returns the media type used when streaming name.
func ContentTypeOf(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".apk":
		return "application/vnd.android.package-archive"
	case ".zip":
		return "application/zip"
	}
	return "application/octet-stream"
}

// pick keeps the newest candidate per platform.
func pick(candidates []Artifact) []Artifact {
	best := map[string]Artifact{}
	for _, c := range candidates {
		cur, ok := best[c.Platform]
		if !ok || c.ModTime.After(cur.ModTime) || (c.ModTime.Equal(cur.ModTime) && c.Name < cur.Name) {
			best[c.Platform] = c
		}
	}
	out := make([]Artifact, 0, len(best))
	for _, a := range best {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}

func find(list []Artifact, platform string) (*Artifact, error) {
	for i := range list {
		if list[i].Platform == platform {
			a := list[i]
			return &a, nil
		}
	}
	return nil, common.ErrorNotFound
}

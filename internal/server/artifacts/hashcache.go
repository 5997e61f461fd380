package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// hashKey identifies one version of an artifact's content.
type hashKey struct {
	name    string
	size    int64
	modTime int64
	etag    string
}

type hashCache struct {
	c *lru.Cache[hashKey, string]
}

func newHashCache(size int) *hashCache {
	c, err := lru.New[hashKey, string](size)
	if err != nil {
		panic(fmt.Sprintf("artifacts: hash cache: %v", err))
	}
	return &hashCache{c: c}
}

func keyFor(name string, size int64, mod time.Time, etag string) hashKey {
	return hashKey{name: name, size: size, modTime: mod.UnixNano(), etag: etag}
}

// get returns the cached hash or computes it from open.
func (h *hashCache) get(k hashKey, open func() (io.ReadCloser, error)) (string, error) {
	if v, ok := h.c.Get(k); ok {
		return v, nil
	}
	rc, err := open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	sum := sha256.New()
	if _, err := io.Copy(sum, rc); err != nil {
		return "", fmt.Errorf("hash %s: %w", k.name, err)
	}
	v := hex.EncodeToString(sum.Sum(nil))
	h.c.Add(k, v)
	return v, nil
}

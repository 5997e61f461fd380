package artifacts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DirSource serves packages from a flat local directory.
type DirSource struct {
	dir    string
	hashes *hashCache
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir, hashes: newHashCache(64)}
}

func (s *DirSource) List(ctx context.Context) ([]Artifact, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read artifacts dir: %w", err)
	}

	var found []Artifact
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		platform, ok := PlatformOf(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, Artifact{
			Platform:    platform,
			Name:        e.Name(),
			Key:         e.Name(),
			ContentType: ContentTypeOf(e.Name()),
			Size:        info.Size(),
			ModTime:     info.ModTime().UTC(),
		})
	}

	list := pick(found)
	for i := range list {
		p := filepath.Join(s.dir, list[i].Key)
		k := keyFor(list[i].Name, list[i].Size, list[i].ModTime, "")
		sum, err := s.hashes.get(k, func() (io.ReadCloser, error) { return os.Open(p) })
		if err != nil {
			return nil, err
		}
		list[i].SHA256 = sum
	}
	return list, nil
}

func (s *DirSource) Open(ctx context.Context, platform string) (*Artifact, io.ReadCloser, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	a, err := find(list, platform)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, a.Key))
	if err != nil {
		return nil, nil, fmt.Errorf("open artifact: %w", err)
	}
	return a, f, nil
}

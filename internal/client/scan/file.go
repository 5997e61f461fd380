package scan

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// FileCamera replays still images, e.g. screenshots of a pairing code, as
// camera frames. Once every file was returned Frame fails with ErrNoCode.
type FileCamera struct {
	paths []string
	next  int
}

func NewFileCamera(paths ...string) *FileCamera {
	return &FileCamera{paths: paths}
}

func (c *FileCamera) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.next >= len(c.paths) {
		return nil, ErrNoCode
	}
	path := c.paths[c.next]
	c.next++

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func (c *FileCamera) Close() error { return nil }

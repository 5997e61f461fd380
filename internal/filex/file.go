// Package filex holds the filesystem helpers used by the daemon: private data
// directories and collision-free storage of received files.
package filex

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// AppDirName is the directory created under the user config dir.
const AppDirName = "vitalink"

// userConfigDir is a seam for tests.
var userConfigDir = os.UserConfigDir

// DefaultDataDir returns <user config dir>/vitalink without creating it.
func DefaultDataDir() (string, error) {
	base, err := userConfigDir()
	if err != nil {
		return "", fmt.Errorf("user config dir: %w", err)
	}
	return filepath.Join(base, AppDirName), nil
}

// EnsureSubDir creates base/name (owner-only permissions) and returns its path.
func EnsureSubDir(base, name string) (string, error) {
	dir := filepath.Join(base, name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return dir, nil
}

// SanitizeFileName reduces a client supplied name to a plain base name that is
// safe to create inside a directory. Empty or dot-only names become "upload".
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f, r == ':', r == '*', r == '?', r == '"', r == '<', r == '>', r == '|':
			return '_'
		}
		return r
	}, name)
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "/" {
		return "upload"
	}
	return name
}

// StoreUnique copies r into dir under the sanitized name, appending " (n)"
// before the extension if the name is taken. The file is created with O_EXCL
// so concurrent writers never share a file. It returns the final path and the
// number of bytes written.
func StoreUnique(dir, name string, r io.Reader) (string, int64, error) {
	name = SanitizeFileName(name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return "", 0, fmt.Errorf("create %s: %w", path, err)
		}

		n, err := io.Copy(f, r)
		closeErr := f.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(path)
			return "", 0, fmt.Errorf("write %s: %w", path, err)
		}
		return path, n, nil
	}
	return "", 0, fmt.Errorf("no free file name for %q in %s", name, dir)
}

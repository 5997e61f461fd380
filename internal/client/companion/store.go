package companion

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/filex"
)

// ErrNotPaired means no credentials are stored yet.
var ErrNotPaired = errors.New("device is not paired")

// SaveCredentials writes creds to path, readable by the owner only. The
// file is replaced atomically so a crash never leaves half a token behind.
func SaveCredentials(path string, creds Credentials) error {
	dir, err := filex.EnsureSubDir(filepath.Dir(path), "")
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".device-*.json")
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save credentials: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// LoadCredentials reads what SaveCredentials wrote.
func LoadCredentials(path string) (Credentials, error) {
	var creds Credentials
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return creds, ErrNotPaired
	}
	if err != nil {
		return creds, fmt.Errorf("load credentials: %w", err)
	}
	if err := json.Unmarshal(b, &creds); err != nil {
		return creds, fmt.Errorf("load credentials %s: %w", path, err)
	}
	if creds.BaseURL == "" || creds.Token == "" || creds.Fingerprint == "" {
		return creds, fmt.Errorf("load credentials %s: %w", path, common.ErrorValidation)
	}
	return creds, nil
}

// ForgetCredentials removes stored credentials; a missing file is fine.
func ForgetCredentials(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

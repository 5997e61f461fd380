package config

import (
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/filex"
)

// Config holds runtime settings for the vitalink CLI.
//
// Fields:
//   - ControlAddr: loopback address of the daemon control service.
//   - Timeout: upper bound for a single control call.
//   - PollInterval: how often pairing status is polled while waiting.
//   - CredentialsFile: where device mode keeps the paired credentials.
type Config struct {
	ControlAddr     string
	Timeout         time.Duration
	PollInterval    time.Duration
	CredentialsFile string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ControlAddr = "127.0.0.1:47600"
	c.Timeout = 10 * time.Second
	c.PollInterval = time.Second
	c.CredentialsFile = "vitalink-device.json"
	if dir, err := filex.DefaultDataDir(); err == nil {
		c.CredentialsFile = filepath.Join(dir, "device.json")
	}
}

// LoadConfig applies defaults and then the JSON file at jsonPath, if any.
// Command-line flags are applied on top by the caller.
func LoadConfig(jsonPath string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, jsonPath); err != nil {
		return nil, err
	}
	return cfg, nil
}

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"data_dir":             "/var/lib/vitalink",
		"database_driver":      "postgres",
		"database_dsn":         "postgres://db/vitalink",
		"secure_api_addr":      ":9443",
		"local_subnets":        []string{"10.0.0.0/8"},
		"pairing_ttl":          "90s",
		"shutdown_grace":       2000000000,
		"auto_start":           false,
		"s3_bucket":            "releases",
		"s3_base_endpoint":     "http://minio.lan:9000",
		"rate_limits":          map[string]any{"install": map[string]any{"requests": 3, "period": "1m"}},
		"limiter_idle_ttl":     "1h",
		"inactive_device_days": 14,
	})

	t.Run("loads from json over defaults", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "/var/lib/vitalink", cfg.DataDir)
		assert.Equal(t, "postgres", cfg.DatabaseDriver)
		assert.Equal(t, "postgres://db/vitalink", cfg.DatabaseDSN)
		assert.Equal(t, ":9443", cfg.SecureAPIAddr)
		assert.Equal(t, ":47610", cfg.DistributionAddr, "absent keys keep defaults")
		assert.Equal(t, []string{"10.0.0.0/8"}, cfg.LocalSubnets)
		assert.Equal(t, 90*time.Second, cfg.PairingTTL)
		assert.Equal(t, 2*time.Second, cfg.ShutdownGrace)
		assert.False(t, cfg.AutoStart)
		assert.Equal(t, "releases", cfg.S3Bucket)
		assert.Equal(t, "http://minio.lan:9000", cfg.S3BaseEndpoint)
		assert.Equal(t, RateBudget{Requests: 3, Period: time.Minute}, cfg.RateLimits[RouteInstall])
		assert.Equal(t, 120, cfg.RateLimits[RouteLanding].Requests, "other budgets untouched")
		assert.Equal(t, time.Hour, cfg.LimiterIdleTTL)
		assert.Equal(t, 14, cfg.InactiveDeviceDays)
	})

	t.Run("short -c flag", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", pathFlag}

		cfg := &Config{}
		parseJson(cfg)
		assert.Equal(t, "/var/lib/vitalink", cfg.DataDir)
	})

	t.Run("no config flag → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{}
		cfg.LoadDefaults()
		want := *cfg
		parseJson(cfg)

		assert.Equal(t, want, *cfg)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})

	t.Run("invalid rate budget → panics", func(t *testing.T) {
		bad := writeTempJSON(t, dir, "budget.json", map[string]any{
			"rate_limits": map[string]any{"sync": map[string]any{"requests": 0, "period": "1m"}},
		})
		os.Args = []string{"testbin", "-c", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})

	t.Run("missing file → panics", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", filepath.Join(dir, "nope.json")}
		require.Panics(t, func() { parseJson(&Config{}) })
	})
}

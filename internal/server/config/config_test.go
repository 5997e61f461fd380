package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/netx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.NotEmpty(t, c.DataDir)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "sqlite", c.DatabaseDriver)
	assert.Equal(t, "127.0.0.1:47600", c.ControlAddr)
	assert.Equal(t, ":47610", c.DistributionAddr)
	assert.Equal(t, ":47620", c.SecureAPIAddr)
	assert.Equal(t, ":47630", c.TransferAddr)
	assert.Equal(t, netx.DefaultLocalPrefixes, c.LocalSubnets)
	assert.Equal(t, 5*time.Minute, c.PairingTTL)
	assert.Equal(t, 5*time.Minute, c.TransferIdle)
	assert.Equal(t, 10*time.Minute, c.TransferTicketTTL)
	assert.Equal(t, 5*time.Second, c.ShutdownGrace)
	assert.True(t, c.AutoStart)
	assert.Equal(t, 30, c.InactiveDeviceDays)
	assert.Equal(t, RateBudget{Requests: 30, Period: time.Minute}, c.RateLimits[RouteInstall])
	assert.Len(t, c.RateLimits, 11)
}

func TestLoadDefaults_CopiesSharedSlices(t *testing.T) {
	var c Config
	c.LoadDefaults()
	c.LocalSubnets[0] = "changed"
	c.RateLimits[RouteInstall] = RateBudget{}

	assert.NotEqual(t, "changed", netx.DefaultLocalPrefixes[0])
	assert.Equal(t, 30, DefaultRateLimits()[RouteInstall].Requests)
}

func TestSQLiteDSNAndInbox(t *testing.T) {
	c := &Config{DataDir: filepath.Join("tmp", "vl")}

	dsn := c.SQLiteDSN()
	assert.True(t, strings.HasPrefix(dsn, "file:"+filepath.Join("tmp", "vl", "vitalink.db")))
	assert.Contains(t, dsn, "foreign_keys(1)")
	assert.Equal(t, filepath.Join("tmp", "vl", "inbox"), c.InboxDir())

	c.DatabaseDSN = "file::memory:"
	assert.Equal(t, "file::memory:", c.SQLiteDSN())
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"testbin"}

	c := LoadConfig()

	require.NotNil(t, c, "LoadConfig must not return nil")

	var want Config
	want.LoadDefaults()
	assert.Equal(t, want, *c)
}

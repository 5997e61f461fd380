// Package config handles configuration for the daemon, including defaults,
// JSON overlay, and command-line flags.
package config

import (
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/filex"
	"github.com/dmitrijs2005/vitalink/internal/netx"
)

// Route names used as rate-limit keys.
const (
	RouteLanding        = "landing"
	RouteInstall        = "install"
	RouteApp            = "app"
	RouteVersion        = "version"
	RouteHealth         = "health"
	RoutePair           = "pair"
	RouteSession        = "session"
	RouteSync           = "sync"
	RouteTransferPage   = "transfer_page"
	RouteTransferUnlock = "transfer_unlock"
	RouteTransferUpload = "transfer_upload"
)

// RateBudget allows Requests per Period for one (client IP, route) pair.
type RateBudget struct {
	Requests int
	Period   time.Duration
}

// Config holds runtime settings for the vitalink daemon.
//
// Fields:
//   - DataDir: root of the on-disk state (database, inbox).
//   - DatabaseDriver / DatabaseDSN: "sqlite" (default, DSN derived from
//     DataDir when empty) or "postgres" (pgx).
//   - ControlAddr: loopback gRPC address for the desktop UI and CLI.
//   - DistributionAddr / SecureAPIAddr / TransferAddr: LAN bind addresses.
//   - AdvertiseHost: host put into pairing QR codes; discovered when empty.
//   - LocalSubnets: prefixes accepted by the network guard.
//   - RateLimits: per-route budgets; LimiterCacheSize and LimiterIdleTTL
//     bound the limiter table.
type Config struct {
	DataDir        string
	LogLevel       string
	DatabaseDriver string
	DatabaseDSN    string

	ControlAddr      string
	DistributionAddr string
	SecureAPIAddr    string
	TransferAddr     string
	AdvertiseHost    string

	LocalSubnets     []string
	RateLimits       map[string]RateBudget
	LimiterCacheSize int
	LimiterIdleTTL   time.Duration

	PairingTTL        time.Duration
	PairingTicketTTL  time.Duration
	TransferTicketTTL time.Duration
	TransferIdle      time.Duration
	ShutdownGrace     time.Duration
	CertValidity      time.Duration

	AutoStart          bool
	InactiveDeviceDays int
	// UnlockProfile is unlocked at startup after a passphrase prompt.
	UnlockProfile string

	AppVersion    string
	MinCompatible string
	SWVersion     string
	ArtifactsDir  string
	WebAppDir     string

	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3BaseEndpoint string
	S3AccessKey    string
	S3SecretKey    string
}

// DefaultRateLimits returns a fresh copy of the built-in budgets.
func DefaultRateLimits() map[string]RateBudget {
	return map[string]RateBudget{
		RouteLanding:        {Requests: 120, Period: time.Minute},
		RouteInstall:        {Requests: 30, Period: time.Minute},
		RouteApp:            {Requests: 600, Period: time.Minute},
		RouteVersion:        {Requests: 120, Period: time.Minute},
		RouteHealth:         {Requests: 240, Period: time.Minute},
		RoutePair:           {Requests: 30, Period: time.Minute},
		RouteSession:        {Requests: 240, Period: time.Minute},
		RouteSync:           {Requests: 120, Period: time.Minute},
		RouteTransferPage:   {Requests: 60, Period: time.Minute},
		RouteTransferUnlock: {Requests: 5, Period: time.Minute},
		RouteTransferUpload: {Requests: 20, Period: time.Minute},
	}
}

// LoadDefaults populates Config with defaults suitable for a desktop install.
func (c *Config) LoadDefaults() {
	c.DataDir = "vitalink-data"
	if dir, err := filex.DefaultDataDir(); err == nil {
		c.DataDir = dir
	}
	c.LogLevel = "info"
	c.DatabaseDriver = "sqlite"
	c.DatabaseDSN = ""

	c.ControlAddr = "127.0.0.1:47600"
	c.DistributionAddr = ":47610"
	c.SecureAPIAddr = ":47620"
	c.TransferAddr = ":47630"
	c.AdvertiseHost = ""

	c.LocalSubnets = append([]string(nil), netx.DefaultLocalPrefixes...)
	c.RateLimits = DefaultRateLimits()
	c.LimiterCacheSize = 4096
	c.LimiterIdleTTL = 10 * time.Minute

	c.PairingTTL = 5 * time.Minute
	c.PairingTicketTTL = 5 * time.Minute
	c.TransferTicketTTL = 10 * time.Minute
	c.TransferIdle = 5 * time.Minute
	c.ShutdownGrace = 5 * time.Second
	c.CertValidity = 825 * 24 * time.Hour

	c.AutoStart = true
	c.InactiveDeviceDays = 30
	c.UnlockProfile = ""

	c.AppVersion = "0.1.0"
	c.MinCompatible = "0.1.0"
	c.SWVersion = "1"
	c.ArtifactsDir = ""
	c.WebAppDir = ""

	c.S3Bucket = ""
	c.S3Prefix = "releases/"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = ""
	c.S3AccessKey = ""
	c.S3SecretKey = ""
}

// SQLiteDSN is the DSN used when DatabaseDSN is empty.
func (c *Config) SQLiteDSN() string {
	if c.DatabaseDSN != "" {
		return c.DatabaseDSN
	}
	return "file:" + filepath.Join(c.DataDir, "vitalink.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// InboxDir is where the transfer server stores uploads.
func (c *Config) InboxDir() string {
	return filepath.Join(c.DataDir, "inbox")
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

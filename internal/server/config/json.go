package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/flagx"
	"github.com/dmitrijs2005/vitalink/internal/timex"
)

// JsonRateBudget is the JSON form of RateBudget ("period" accepts "1m" or
// integer nanoseconds).
type JsonRateBudget struct {
	Requests int            `json:"requests"`
	Period   timex.Duration `json:"period"`
}

// JsonConfig is the intermediate DTO used to read JSON configuration files.
// Only fields present (non-zero) in the file override the target Config.
type JsonConfig struct {
	DataDir        string `json:"data_dir"`
	LogLevel       string `json:"log_level"`
	DatabaseDriver string `json:"database_driver"`
	DatabaseDSN    string `json:"database_dsn"`

	ControlAddr      string `json:"control_addr"`
	DistributionAddr string `json:"distribution_addr"`
	SecureAPIAddr    string `json:"secure_api_addr"`
	TransferAddr     string `json:"transfer_addr"`
	AdvertiseHost    string `json:"advertise_host"`

	LocalSubnets     []string                  `json:"local_subnets"`
	RateLimits       map[string]JsonRateBudget `json:"rate_limits"`
	LimiterCacheSize int                       `json:"limiter_cache_size"`
	LimiterIdleTTL   timex.Duration            `json:"limiter_idle_ttl"`

	PairingTTL        timex.Duration `json:"pairing_ttl"`
	PairingTicketTTL  timex.Duration `json:"pairing_ticket_ttl"`
	TransferTicketTTL timex.Duration `json:"transfer_ticket_ttl"`
	TransferIdle      timex.Duration `json:"transfer_idle"`
	ShutdownGrace     timex.Duration `json:"shutdown_grace"`
	CertValidity      timex.Duration `json:"cert_validity"`

	AutoStart          *bool  `json:"auto_start"`
	InactiveDeviceDays int    `json:"inactive_device_days"`
	UnlockProfile      string `json:"unlock_profile"`

	AppVersion    string `json:"app_version"`
	MinCompatible string `json:"min_compatible"`
	SWVersion     string `json:"sw_version"`
	ArtifactsDir  string `json:"artifacts_dir"`
	WebAppDir     string `json:"web_app_dir"`

	S3Bucket       string `json:"s3_bucket"`
	S3Prefix       string `json:"s3_prefix"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`
}

// parseJson loads configuration values from the JSON file named by the -c or
// -config command-line flag into config. Without the flag nothing happens.
// An unreadable file, invalid JSON or a bad rate budget panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	if err := c.apply(config); err != nil {
		panic(err)
	}
}

func (c *JsonConfig) apply(config *Config) error {
	setString(&config.DataDir, c.DataDir)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.DatabaseDriver, c.DatabaseDriver)
	setString(&config.DatabaseDSN, c.DatabaseDSN)

	setString(&config.ControlAddr, c.ControlAddr)
	setString(&config.DistributionAddr, c.DistributionAddr)
	setString(&config.SecureAPIAddr, c.SecureAPIAddr)
	setString(&config.TransferAddr, c.TransferAddr)
	setString(&config.AdvertiseHost, c.AdvertiseHost)

	if len(c.LocalSubnets) > 0 {
		config.LocalSubnets = append([]string(nil), c.LocalSubnets...)
	}
	if len(c.RateLimits) > 0 {
		if config.RateLimits == nil {
			config.RateLimits = map[string]RateBudget{}
		}
		for route, b := range c.RateLimits {
			if b.Requests <= 0 || b.Period.Duration <= 0 {
				return fmt.Errorf("rate limit %q: requests and period must be positive", route)
			}
			config.RateLimits[route] = RateBudget{Requests: b.Requests, Period: b.Period.Duration}
		}
	}
	if c.LimiterCacheSize > 0 {
		config.LimiterCacheSize = c.LimiterCacheSize
	}
	setDuration(&config.LimiterIdleTTL, c.LimiterIdleTTL)

	setDuration(&config.PairingTTL, c.PairingTTL)
	setDuration(&config.PairingTicketTTL, c.PairingTicketTTL)
	setDuration(&config.TransferTicketTTL, c.TransferTicketTTL)
	setDuration(&config.TransferIdle, c.TransferIdle)
	setDuration(&config.ShutdownGrace, c.ShutdownGrace)
	setDuration(&config.CertValidity, c.CertValidity)

	if c.AutoStart != nil {
		config.AutoStart = *c.AutoStart
	}
	if c.InactiveDeviceDays > 0 {
		config.InactiveDeviceDays = c.InactiveDeviceDays
	}
	setString(&config.UnlockProfile, c.UnlockProfile)

	setString(&config.AppVersion, c.AppVersion)
	setString(&config.MinCompatible, c.MinCompatible)
	setString(&config.SWVersion, c.SWVersion)
	setString(&config.ArtifactsDir, c.ArtifactsDir)
	setString(&config.WebAppDir, c.WebAppDir)

	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Prefix, c.S3Prefix)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	return nil
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}

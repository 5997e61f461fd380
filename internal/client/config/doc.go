// Package config loads runtime configuration for the vitalink CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with --config / -c.
//  3. Command-line flags of the CLI, which override earlier values.
//
// # JSON schema
//
// Intervals use timex.Duration, so values can be either strings like "3s"
// or integer nanoseconds:
//
//	{
//	  "control_addr": "127.0.0.1:47600",
//	  "timeout": "10s",
//	  "poll_interval": "1s",
//	  "credentials_file": "/home/me/.config/vitalink/device.json"
//	}
package config

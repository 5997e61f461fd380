package config

import (
	"flag"
	"os"
	"strings"

	"github.com/dmitrijs2005/vitalink/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string    control (gRPC) bind address, loopback only
//	-w string    distribution server bind address
//	-s string    secure API server bind address
//	-x string    transfer server bind address
//	-H string    host advertised in pairing QR codes
//	-f string    data directory
//	-g string    database driver: sqlite or postgres
//	-d string    database DSN
//	-l string    log level
//	-n string    comma-separated local subnets
//	-t duration  pairing session lifetime (e.g. "5m")
//	-i duration  transfer server inactivity window
//	-A bool      start servers on unlock
//	-u string    profile to unlock at startup (passphrase is prompted)
//
// os.Args is filtered with flagx.FilterArgs first, so flags belonging to
// other parsers (like -c) are ignored.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-w", "-s", "-x", "-H", "-f", "-g", "-d", "-l", "-n", "-t", "-i", "-A", "-u"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.ControlAddr, "a", config.ControlAddr, "control address and port")
	fs.StringVar(&config.DistributionAddr, "w", config.DistributionAddr, "distribution server address and port")
	fs.StringVar(&config.SecureAPIAddr, "s", config.SecureAPIAddr, "secure API server address and port")
	fs.StringVar(&config.TransferAddr, "x", config.TransferAddr, "transfer server address and port")
	fs.StringVar(&config.AdvertiseHost, "H", config.AdvertiseHost, "host advertised to devices")
	fs.StringVar(&config.DataDir, "f", config.DataDir, "data directory")
	fs.StringVar(&config.DatabaseDriver, "g", config.DatabaseDriver, "database driver (sqlite|postgres)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	subnets := fs.String("n", strings.Join(config.LocalSubnets, ","), "local subnets (comma separated)")
	fs.DurationVar(&config.PairingTTL, "t", config.PairingTTL, "pairing session lifetime")
	fs.DurationVar(&config.TransferIdle, "i", config.TransferIdle, "transfer server inactivity window")
	fs.BoolVar(&config.AutoStart, "A", config.AutoStart, "start servers on unlock")
	fs.StringVar(&config.UnlockProfile, "u", config.UnlockProfile, "profile to unlock at startup")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	if *subnets != "" {
		var list []string
		for _, s := range strings.Split(*subnets, ",") {
			if s = strings.TrimSpace(s); s != "" {
				list = append(list, s)
			}
		}
		config.LocalSubnets = list
	}
}

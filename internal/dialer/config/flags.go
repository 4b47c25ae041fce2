package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// Flag names registered by RegisterFlags.
const (
	FlagConfig      = "config"
	FlagEnvFile     = "env-file"
	FlagOperator    = "operator"
	FlagSIPPort     = "sip-port"
	FlagSIPBind     = "sip-bind"
	FlagAdvertise   = "sip-advertise"
	FlagBackend     = "backend"
	FlagNATS        = "nats"
	FlagStateDir    = "state-dir"
	FlagAPIAddr     = "api-addr"
	FlagLogLevel    = "loglevel"
	FlagLogFile     = "logfile"
	FlagSettleDelay = "settle-delay"
	FlagSkipLimit   = "skip-limit"
)

// RegisterFlags adds the dialer flags to fs. Flags override every other
// source, but only when set on the command line.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringP(FlagConfig, "c", "", "Path to YAML config file (env DIALER_CONFIG)")
	fs.StringSlice(FlagEnvFile, []string{".env"}, "dotenv files to load")
	fs.String(FlagOperator, "", "Operator id")
	fs.Int(FlagSIPPort, d.SIP.Port, "SIP listening port")
	fs.String(FlagSIPBind, d.SIP.BindAddr, "SIP bind address")
	fs.String(FlagAdvertise, "", "Address to advertise in SIP headers (auto-detected if not set)")
	fs.String(FlagBackend, d.Backend.Address, "Backend gRPC address")
	fs.String(FlagNATS, "", "NATS URL (events are only logged when empty)")
	fs.String(FlagStateDir, d.StateDir, "Directory for persisted campaign state")
	fs.String(FlagAPIAddr, d.API.ListenAddr, "Operator API listen address")
	fs.String(FlagLogLevel, d.Log.Level, "Log level (debug, info, warn, error)")
	fs.String(FlagLogFile, "", "Also log to this file, rotated by size")
	fs.Duration(FlagSettleDelay, d.Dialer.SettleDelay, "Delay between internal connect and external dial")
	fs.Int(FlagSkipLimit, d.Dialer.SkipLimit, "Consecutive undialable targets before a campaign stops")
}

// Load builds the configuration: defaults, then the YAML file, then .env
// and DIALER_* variables, then flags changed in fs.
func Load(fs *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	path, _ := fs.GetString(FlagConfig)
	if path == "" {
		path = os.Getenv("DIALER_CONFIG")
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	envFiles, _ := fs.GetStringSlice(FlagEnvFile)
	if err := cfg.LoadEnv(envFiles...); err != nil {
		return nil, err
	}

	if err := cfg.applyFlags(fs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFlags(fs *pflag.FlagSet) error {
	var err error
	changed := func(name string) bool { return err == nil && fs.Changed(name) }
	str := func(name string, dst *string) {
		if changed(name) {
			*dst, err = fs.GetString(name)
		}
	}

	str(FlagOperator, &c.OperatorID)
	str(FlagSIPBind, &c.SIP.BindAddr)
	str(FlagAdvertise, &c.SIP.AdvertiseAddr)
	str(FlagBackend, &c.Backend.Address)
	str(FlagNATS, &c.NATS.URL)
	str(FlagStateDir, &c.StateDir)
	str(FlagAPIAddr, &c.API.ListenAddr)
	str(FlagLogLevel, &c.Log.Level)
	str(FlagLogFile, &c.Log.File)
	if changed(FlagSIPPort) {
		c.SIP.Port, err = fs.GetInt(FlagSIPPort)
	}
	if changed(FlagSkipLimit) {
		c.Dialer.SkipLimit, err = fs.GetInt(FlagSkipLimit)
	}
	if changed(FlagSettleDelay) {
		c.Dialer.SettleDelay, err = fs.GetDuration(FlagSettleDelay)
	}
	if err != nil {
		return fmt.Errorf("reading flags: %w", err)
	}
	return nil
}

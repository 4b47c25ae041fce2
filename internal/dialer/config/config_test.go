package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

const sampleYAML = `
operator_id: op-file
state_dir: /tmp/dialer-state
sip:
  port: 5080
  internal_uri: sip:bridge@pbx.local
  external_uri: sip:trunk@carrier.example
dialer:
  settle_delay: 2s
  provider_profiles:
    twilio: prof-1
log:
  level: debug
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("dialer", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%v) error = %v", args, err)
	}
	return fs
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "dialer.yaml", sampleYAML)
	envFile := writeFile(t, dir, "test.env", "DIALER_SKIP_LIMIT=9\nDIALER_API_ADDR=:9999\n")

	t.Cleanup(func() { os.Unsetenv("DIALER_SKIP_LIMIT") })
	t.Setenv("DIALER_SIP_PORT", "5090")
	t.Setenv("DIALER_API_ADDR", ":7000")

	fs := newFlags(t, "--config", path, "--env-file", envFile, "--operator", "op-flag", "--settle-delay", "250ms")
	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"operator from flag", cfg.OperatorID, "op-flag"},
		{"state dir from file", cfg.StateDir, "/tmp/dialer-state"},
		{"sip port from env", cfg.SIP.Port, 5090},
		{"settle delay from flag", cfg.Dialer.SettleDelay, 250 * time.Millisecond},
		{"skip limit from env file", cfg.Dialer.SkipLimit, 9},
		{"api addr env wins over env file", cfg.API.ListenAddr, ":7000"},
		{"log level from file", cfg.Log.Level, "debug"},
		{"backend default", cfg.Backend.Address, "localhost:9090"},
		{"cleanup default", cfg.Dialer.CleanupTimeout, 10 * time.Second},
		{"provider profile from file", cfg.Dialer.ProviderProfiles["twilio"], "prof-1"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestUnchangedFlagsDoNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "dialer.yaml", sampleYAML)

	cfg, err := Load(newFlags(t, "-c", path, "--env-file", filepath.Join(dir, "missing.env")))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SIP.Port != 5080 {
		t.Errorf("SIP.Port = %d, want 5080 from file", cfg.SIP.Port)
	}
	if cfg.Dialer.SettleDelay != 2*time.Second {
		t.Errorf("SettleDelay = %v, want 2s from file", cfg.Dialer.SettleDelay)
	}
}

func TestLoadEnvErrors(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"DIALER_SIP_PORT", "fifty"},
		{"DIALER_SETTLE_DELAY", "soon"},
		{"DIALER_RTP_PORTS", "20000"},
		{"DIALER_PROVIDER_PROFILES", "twilio"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			err := Default().LoadEnv()
			if err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("LoadEnv() error = %v, want one naming %s", err, tt.key)
			}
		})
	}
}

func TestEnvProviderProfilesAndPorts(t *testing.T) {
	t.Setenv("DIALER_PROVIDER_PROFILES", "twilio=prof-1, telnyx = prof-2")
	t.Setenv("DIALER_RTP_PORTS", "30000-30100")

	cfg := Default()
	if err := cfg.LoadEnv(); err != nil {
		t.Fatal(err)
	}
	if len(cfg.Dialer.ProviderProfiles) != 2 || cfg.Dialer.ProviderProfiles["telnyx"] != "prof-2" {
		t.Errorf("ProviderProfiles = %v", cfg.Dialer.ProviderProfiles)
	}
	if cfg.SIP.RTPPortMin != 30000 || cfg.SIP.RTPPortMax != 30100 {
		t.Errorf("RTP ports = %d-%d", cfg.SIP.RTPPortMin, cfg.SIP.RTPPortMax)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.OperatorID = "op-1"
		c.SIP.InternalURI = "sip:bridge@pbx.local"
		c.SIP.ExternalURI = "sip:trunk@carrier.example"
		return c
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("Validate() on valid config = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"no operator", func(c *Config) { c.OperatorID = "" }, "operator id"},
		{"bad port", func(c *Config) { c.SIP.Port = 70000 }, "SIP port"},
		{"bad rtp range", func(c *Config) { c.SIP.RTPPortMax = c.SIP.RTPPortMin - 1 }, "RTP port range"},
		{"no internal uri", func(c *Config) { c.SIP.InternalURI = "" }, "internal_uri"},
		{"no backend", func(c *Config) { c.Backend.Address = "" }, "backend"},
		{"negative settle", func(c *Config) { c.Dialer.SettleDelay = -time.Second }, "settle delay"},
		{"zero skip limit", func(c *Config) { c.Dialer.SkipLimit = 0 }, "skip limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestParseKeyValueList(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]string
	}{
		{"", nil},
		{"a=1", map[string]string{"a": "1"}},
		{"a=1,,b = 2", map[string]string{"a": "1", "b": "2"}},
		{"a=1,b", nil},
	}
	for _, tt := range tests {
		got := parseKeyValueList(tt.in)
		if len(got) != len(tt.want) || (tt.want == nil) != (got == nil) {
			t.Errorf("parseKeyValueList(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for k, v := range tt.want {
			if got[k] != v {
				t.Errorf("parseKeyValueList(%q)[%s] = %q, want %q", tt.in, k, got[k], v)
			}
		}
	}
}

func TestResolveAdvertise(t *testing.T) {
	c := Default()
	c.SIP.AdvertiseAddr = "10.1.2.3"
	c.ResolveAdvertise()
	if c.SIP.AdvertiseAddr != "10.1.2.3" {
		t.Errorf("AdvertiseAddr = %s, want the configured IP", c.SIP.AdvertiseAddr)
	}

	c.SIP.AdvertiseAddr = ""
	c.ResolveAdvertise()
	if c.SIP.AdvertiseAddr == "" {
		t.Error("AdvertiseAddr not auto-detected")
	}
}

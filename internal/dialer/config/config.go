package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the dialer configuration
type Config struct {
	OperatorID string `yaml:"operator_id"`
	NodeID     string `yaml:"node_id"`
	StateDir   string `yaml:"state_dir"`

	SIP     SIPConfig     `yaml:"sip"`
	Backend BackendConfig `yaml:"backend"`
	NATS    NATSConfig    `yaml:"nats"`
	Dialer  DialerConfig  `yaml:"dialer"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
}

// SIPConfig configures the SIP user agent carrying both legs
type SIPConfig struct {
	Port          int    `yaml:"port"`
	BindAddr      string `yaml:"bind"`
	AdvertiseAddr string `yaml:"advertise"`
	// InternalURI is the bridge the internal leg dials, e.g. sip:bridge@pbx.local
	InternalURI string `yaml:"internal_uri"`
	// ExternalURI is the trunk the external leg dials; the user part is
	// replaced by the phone target.
	ExternalURI string `yaml:"external_uri"`
	RTPPortMin  int    `yaml:"rtp_port_min"`
	RTPPortMax  int    `yaml:"rtp_port_max"`
}

// BackendConfig configures the call-center backend gRPC client
type BackendConfig struct {
	Address           string        `yaml:"address"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	KeepaliveTimeout  time.Duration `yaml:"keepalive_timeout"`
}

// NATSConfig configures event publishing and the presence stream
type NATSConfig struct {
	URL             string `yaml:"url"`
	CredentialsFile string `yaml:"credentials_file"`
	Token           string `yaml:"token"`
}

// DialerConfig tunes the session manager and the campaign controller
type DialerConfig struct {
	SettleDelay    time.Duration `yaml:"settle_delay"`
	CleanupTimeout time.Duration `yaml:"cleanup_timeout"`
	SkipLimit      int           `yaml:"skip_limit"`
	// ProviderProfiles maps provider names to provider profile ids
	ProviderProfiles map[string]string `yaml:"provider_profiles"`
}

// APIConfig configures the operator HTTP API
type APIConfig struct {
	ListenAddr string `yaml:"listen"`
}

// LogConfig configures logging
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		NodeID:   "dialer-0",
		StateDir: "var/state",
		SIP: SIPConfig{
			Port:       5070,
			BindAddr:   "0.0.0.0",
			RTPPortMin: 20000,
			RTPPortMax: 20999,
		},
		Backend: BackendConfig{
			Address:           "localhost:9090",
			CallTimeout:       10 * time.Second,
			KeepaliveInterval: 30 * time.Second,
			KeepaliveTimeout:  10 * time.Second,
		},
		Dialer: DialerConfig{
			SettleDelay:    1500 * time.Millisecond,
			CleanupTimeout: 10 * time.Second,
			SkipLimit:      5,
		},
		API: APIConfig{ListenAddr: ":8080"},
		Log: LogConfig{Level: "info"},
	}
}

// LoadFile overlays the YAML file at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// LoadEnv loads .env files, if present, then overlays DIALER_* variables
// onto c. Variables already set in the environment win over .env files.
func (c *Config) LoadEnv(envFiles ...string) error {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}

	setString(&c.OperatorID, "DIALER_OPERATOR_ID")
	setString(&c.NodeID, "DIALER_NODE_ID")
	setString(&c.StateDir, "DIALER_STATE_DIR")

	if err := setInt(&c.SIP.Port, "DIALER_SIP_PORT"); err != nil {
		return err
	}
	setString(&c.SIP.BindAddr, "DIALER_SIP_BIND")
	setString(&c.SIP.AdvertiseAddr, "DIALER_SIP_ADVERTISE")
	setString(&c.SIP.InternalURI, "DIALER_SIP_INTERNAL_URI")
	setString(&c.SIP.ExternalURI, "DIALER_SIP_EXTERNAL_URI")
	if v := os.Getenv("DIALER_RTP_PORTS"); v != "" {
		lo, hi, err := parsePortRange(v)
		if err != nil {
			return fmt.Errorf("DIALER_RTP_PORTS: %w", err)
		}
		c.SIP.RTPPortMin, c.SIP.RTPPortMax = lo, hi
	}

	setString(&c.Backend.Address, "DIALER_BACKEND_ADDR")
	if err := setDuration(&c.Backend.CallTimeout, "DIALER_BACKEND_TIMEOUT"); err != nil {
		return err
	}

	setString(&c.NATS.URL, "DIALER_NATS_URL")
	setString(&c.NATS.CredentialsFile, "DIALER_NATS_CREDS")
	setString(&c.NATS.Token, "DIALER_NATS_TOKEN")

	if err := setDuration(&c.Dialer.SettleDelay, "DIALER_SETTLE_DELAY"); err != nil {
		return err
	}
	if err := setDuration(&c.Dialer.CleanupTimeout, "DIALER_CLEANUP_TIMEOUT"); err != nil {
		return err
	}
	if err := setInt(&c.Dialer.SkipLimit, "DIALER_SKIP_LIMIT"); err != nil {
		return err
	}
	if v := os.Getenv("DIALER_PROVIDER_PROFILES"); v != "" {
		profiles := parseKeyValueList(v)
		if profiles == nil {
			return fmt.Errorf("DIALER_PROVIDER_PROFILES: want name=profile pairs, got %q", v)
		}
		c.Dialer.ProviderProfiles = profiles
	}

	setString(&c.API.ListenAddr, "DIALER_API_ADDR")
	setString(&c.Log.Level, "DIALER_LOG_LEVEL")
	setString(&c.Log.File, "DIALER_LOG_FILE")
	return nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.OperatorID == "" {
		return errors.New("config: operator id is required (DIALER_OPERATOR_ID)")
	}
	if c.StateDir == "" {
		return errors.New("config: state dir is required")
	}
	if c.SIP.Port <= 0 || c.SIP.Port > 65535 {
		return fmt.Errorf("config: invalid SIP port %d", c.SIP.Port)
	}
	if c.SIP.RTPPortMin <= 0 || c.SIP.RTPPortMax < c.SIP.RTPPortMin || c.SIP.RTPPortMax > 65535 {
		return fmt.Errorf("config: invalid RTP port range %d-%d", c.SIP.RTPPortMin, c.SIP.RTPPortMax)
	}
	for name, uri := range map[string]string{"internal_uri": c.SIP.InternalURI, "external_uri": c.SIP.ExternalURI} {
		if uri == "" {
			return fmt.Errorf("config: sip.%s is required", name)
		}
		var parsed sip.Uri
		if err := sip.ParseUri(uri, &parsed); err != nil {
			return fmt.Errorf("config: sip.%s: %w", name, err)
		}
	}
	if c.Backend.Address == "" {
		return errors.New("config: backend address is required")
	}
	if c.Dialer.SettleDelay < 0 {
		return errors.New("config: settle delay must not be negative")
	}
	if c.Dialer.SkipLimit < 1 {
		return fmt.Errorf("config: skip limit must be at least 1, got %d", c.Dialer.SkipLimit)
	}
	return nil
}

// ResolveAdvertise fills in the SIP advertise address, falling back to
// the primary interface when unset or unresolvable.
func (c *Config) ResolveAdvertise() {
	if c.SIP.AdvertiseAddr == "" || !isValidAddress(c.SIP.AdvertiseAddr) {
		c.SIP.AdvertiseAddr = getPrimaryInterfaceIP()
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// parsePortRange parses "20000-20999".
func parsePortRange(s string) (int, int, error) {
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("want min-max, got %q", s)
	}
	first, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, err
	}
	last, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return 0, 0, err
	}
	return first, last, nil
}

// parseKeyValueList parses a comma-separated list of key=value pairs.
// Returns nil if any element is not in key=value form.
// Example: "twilio=prof-1,telnyx=prof-2"
func parseKeyValueList(s string) map[string]string {
	if s == "" || !strings.Contains(s, "=") {
		return nil
	}
	result := make(map[string]string)
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			result[k] = v
		}
	}
	return result
}

// isValidAddress checks if the address is a valid IP or resolvable hostname
func isValidAddress(addr string) bool {
	if ip := net.ParseIP(addr); ip != nil {
		return true
	}
	if ips, err := net.LookupIP(addr); err == nil && len(ips) > 0 {
		return true
	}
	return false
}

// getPrimaryInterfaceIP detects the primary network interface IP address
func getPrimaryInterfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}

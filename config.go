package main

import (
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the immutable policy/network snapshot loaded once at startup.
// Only Engine.sampleRate is mutated after load (see engine.go); everything
// else here is read-only for the lifetime of the process.
type Config struct {
	SchemaVersion string `yaml:"schema_version"`

	Server   ServerConfig   `yaml:"server"`
	Access   AccessConfig   `yaml:"access"`
	Command  CommandConfig  `yaml:"command"`
	Buffer   BufferConfig   `yaml:"buffer"`
	Liveness LivenessConfig `yaml:"liveness"`
	DSP      DSPConfig      `yaml:"dsp"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	GeoIP    GeoIPConfig    `yaml:"geoip"`
	Admin    AdminConfig    `yaml:"admin"`

	Privilege PrivilegeConfig `yaml:"privilege"`
}

// ServerConfig holds the listen/upstream network endpoints.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
	ListenPort    int    `yaml:"listen_port"`
	RTLHost       string `yaml:"rtl_tcp_host"`
	RTLPort       int    `yaml:"rtl_tcp_port"`
}

// AccessConfig controls the IP access filter (spec.md §4.1).
type AccessConfig struct {
	UseIPAccessControl bool     `yaml:"use_ip_access_control"`
	AllowedRanges      []string `yaml:"allowed_ranges"`
	DeniedRanges       []string `yaml:"denied_ranges"`
	OrderAllowDeny     bool     `yaml:"order_allow_deny"`

	allowedNets []*net.IPNet
	deniedNets  []*net.IPNet
}

// FreqRange is an inclusive [Lo,Hi] Hz window a client may tune into.
type FreqRange struct {
	Lo uint32 `yaml:"lo"`
	Hi uint32 `yaml:"hi"`
}

// CommandConfig controls which control-channel opcodes reach the dongle.
type CommandConfig struct {
	FreqAllowedRanges  []FreqRange `yaml:"freq_allowed_ranges"`
	AllowGainSet       bool        `yaml:"allow_gain_set"`
	AllowSampleRateSet bool        `yaml:"allow_sample_rate_set"`
	FirstClientCanSet  bool        `yaml:"first_client_can_set"`
	ClientCantSetUntil int         `yaml:"client_cant_set_until"`
}

// CacheFullBehaviour is the policy applied when a session's outbound
// queue is full at broadcast time (spec.md §4.2).
type CacheFullBehaviour int

const (
	DropSamples CacheFullBehaviour = iota
	DropClient
	Ignore
)

// BufferConfig controls per-session backpressure.
type BufferConfig struct {
	CacheFullBehaviour CacheFullBehaviour `yaml:"cache_full_behaviour"`
}

// LivenessConfig controls reconnect/watchdog timing.
type LivenessConfig struct {
	WatchdogInterval   int    `yaml:"watchdog_interval"`
	ReconnectInterval  int    `yaml:"reconnect_interval"`
	InitialSampleRate  uint32 `yaml:"initial_sample_rate"`
}

// DSPConfig controls the optional sidecar subprocess. DebugDSPCommand
// enables the per-second original/transformed throughput log (spec.md
// §3, the original's dsp_debug_thread) — it has no effect on which
// command runs.
type DSPConfig struct {
	UseDSPCommand   bool   `yaml:"use_dsp_command"`
	DSPCommand      string `yaml:"dsp_command"`
	DebugDSPCommand bool   `yaml:"debug_dsp_command"`
}

// LoggingConfig controls the INFO file sink.
type LoggingConfig struct {
	LogFilePath   string `yaml:"log_file_path"`
	RotateMaxSize int64  `yaml:"rotate_max_size_bytes"`
}

// MetricsConfig controls the optional Prometheus exporter.
type MetricsConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ListenAddress    string `yaml:"listen_address"`
	PushGatewayURL   string `yaml:"push_gateway_url"`
	PushIntervalSecs int    `yaml:"push_interval_secs"`
}

// MQTTConfig controls the optional event publisher.
type MQTTConfig struct {
	Enabled               bool   `yaml:"enabled"`
	BrokerURL             string `yaml:"broker_url"`
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	TopicPrefix           string `yaml:"topic_prefix"`
	UseTLS                bool   `yaml:"use_tls"`
	TLSInsecureSkipVerify bool   `yaml:"tls_insecure_skip_verify"`
}

// GeoIPConfig controls the optional country-aware access filter.
type GeoIPConfig struct {
	DatabasePath     string   `yaml:"database_path"`
	DeniedCountries  []string `yaml:"denied_countries"`
}

// AdminConfig controls the optional operator-facing surfaces.
type AdminConfig struct {
	MCPEnabled     bool   `yaml:"mcp_enabled"`
	MCPListen      string `yaml:"mcp_listen"`
	MonitorEnabled bool   `yaml:"monitor_enabled"`
	MonitorListen  string `yaml:"monitor_listen"`
}

// PrivilegeConfig controls the privilege drop made before the engine
// starts, and so before the client listener binds.
type PrivilegeConfig struct {
	SetuidOnStart bool `yaml:"setuid_on_start"`
	UID           int  `yaml:"uid"`
	GID           int  `yaml:"gid"`
}

// LoadConfig reads and validates a YAML config file, parsing CIDR ranges
// and applying defaults the way the teacher's Config loader does.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.SchemaVersion != "" {
		checkSchemaVersion(cfg.SchemaVersion)
	}

	if err := cfg.parseAccessRanges(); err != nil {
		return nil, fmt.Errorf("parsing access ranges: %w", err)
	}

	if len(cfg.Command.FreqAllowedRanges) == 0 {
		cfg.Command.FreqAllowedRanges = []FreqRange{{Lo: 0, Hi: 0xFFFFFFFF}}
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress: "0.0.0.0",
			ListenPort:    1234,
			RTLHost:       "127.0.0.1",
			RTLPort:       1234,
		},
		Liveness: LivenessConfig{
			WatchdogInterval:  10,
			ReconnectInterval: 2,
			InitialSampleRate: 2048000,
		},
	}
}

// parseAccessRanges resolves the textual CIDR/short-form ranges into
// *net.IPNet once, at load time, per spec.md §4.1 and §9's note on
// short-form compatibility ranges.
func (c *Config) parseAccessRanges() error {
	var err error
	c.Access.allowedNets, err = parseRanges(c.Access.AllowedRanges)
	if err != nil {
		return fmt.Errorf("allowed_ranges: %w", err)
	}
	c.Access.deniedNets, err = parseRanges(c.Access.DeniedRanges)
	if err != nil {
		return fmt.Errorf("denied_ranges: %w", err)
	}
	return nil
}

// parseRanges converts a list of CIDR or short-form ("10.1.") ranges into
// networks. An empty list defaults to 0.0.0.0/0 (spec.md §4.1).
func parseRanges(ranges []string) ([]*net.IPNet, error) {
	if len(ranges) == 0 {
		_, all, _ := net.ParseCIDR("0.0.0.0/0")
		return []*net.IPNet{all}, nil
	}

	nets := make([]*net.IPNet, 0, len(ranges))
	for _, r := range ranges {
		cidr := r
		if !strings.Contains(r, "/") {
			cidr = shortFormToCIDR(r)
		}
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid range %q: %w", r, err)
		}
		nets = append(nets, ipnet)
	}
	return nets, nil
}

// shortFormToCIDR turns "10.1." into "10.1.0.0/16", matching the
// original implementation's convert_short_ip_to_subnet.
func shortFormToCIDR(r string) string {
	r = strings.TrimSuffix(r, ".")
	octets := []string{}
	if r != "" {
		octets = strings.Split(r, ".")
	}
	prefix := len(octets) * 8
	for len(octets) < 4 {
		octets = append(octets, "0")
	}
	return fmt.Sprintf("%s/%d", strings.Join(octets, "."), prefix)
}

// checkSchemaVersion logs (but does not fail on) a config written for an
// older schema generation or carrying an unparsable version, using
// hashicorp/go-version for semantic comparison. A newer version is
// accepted without a warning.
func checkSchemaVersion(v string) {
	current, err := parseSchemaVersion(currentSchemaVersion)
	if err != nil {
		return
	}
	given, err := parseSchemaVersion(v)
	if err != nil {
		logWarnf("config: unparsable schema_version %q, continuing with defaults for unknown fields", v)
		return
	}
	if given.LessThan(current) {
		logWarnf("config: schema_version %s is older than %s, continuing with defaults for unrecognized fields", v, currentSchemaVersion)
	}
}

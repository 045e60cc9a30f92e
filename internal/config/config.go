// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"firestige.xyz/psniff/internal/core"
)

// Config is the top-level configuration.
// Maps to the `psniff:` root key in YAML.
type Config struct {
	Capture   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Channels  ChannelsConfig  `mapstructure:"channels" yaml:"channels"`
	Listeners ListenersConfig `mapstructure:"listeners" yaml:"listeners"`
	Status    StatusConfig    `mapstructure:"status" yaml:"status"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// ─── Capture ───

// CaptureConfig selects interfaces and the capture engine.
type CaptureConfig struct {
	Interfaces  []string       `mapstructure:"interfaces" yaml:"interfaces"` // Empty = first usable device
	Engine      string         `mapstructure:"engine" yaml:"engine"`         // pcap | afpacket | file
	File        string         `mapstructure:"file" yaml:"file"`             // Required by the file engine
	Promiscuous bool           `mapstructure:"promiscuous" yaml:"promiscuous"`
	SnapLen     int            `mapstructure:"snaplen" yaml:"snaplen"`
	PollTimeout string         `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	BPFFilter   string         `mapstructure:"bpf_filter" yaml:"bpf_filter"`
	AFPacket    AFPacketConfig `mapstructure:"afpacket" yaml:"afpacket"`
}

// AFPacketConfig sizes the TPACKET_V3 ring.
type AFPacketConfig struct {
	BufferMB int `mapstructure:"buffer_mb" yaml:"buffer_mb"`
}

// PollInterval returns the parsed poll timeout.
func (c CaptureConfig) PollInterval() time.Duration {
	d, _ := time.ParseDuration(c.PollTimeout)
	return d
}

// ─── Channels ───

// ChannelsConfig sizes the category channels and picks the send policy.
type ChannelsConfig struct {
	Capacity    int    `mapstructure:"capacity" yaml:"capacity"`
	SendPolicy  string `mapstructure:"send_policy" yaml:"send_policy"`   // block | drop
	SendTimeout string `mapstructure:"send_timeout" yaml:"send_timeout"` // Used by drop
}

// SendWait returns the parsed send timeout.
func (c ChannelsConfig) SendWait() time.Duration {
	d, _ := time.ParseDuration(c.SendTimeout)
	return d
}

// ─── Listeners ───

// ListenersConfig lists the categories that get a listener.
type ListenersConfig struct {
	Categories []string `mapstructure:"categories" yaml:"categories"`
}

// Parsed returns the configured categories. Call after validation.
func (c ListenersConfig) Parsed() []core.Category {
	out := make([]core.Category, 0, len(c.Categories))
	var seen [core.NumCategories]bool
	for _, name := range c.Categories {
		cat, err := core.ParseCategory(name)
		if err != nil || seen[cat] {
			continue
		}
		seen[cat] = true
		out = append(out, cat)
	}
	return out
}

// ─── Status ───

// StatusConfig configures the HTTP status surface.
type StatusConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	Host           string `mapstructure:"host" yaml:"host"`
	Port           int    `mapstructure:"port" yaml:"port"`
	RequestTimeout string `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// RequestDeadline returns the parsed request timeout.
func (c StatusConfig) RequestDeadline() time.Duration {
	d, _ := time.ParseDuration(c.RequestTimeout)
	return d
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains log output destinations besides stderr.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `psniff: ...`.
type configRoot struct {
	Psniff Config `mapstructure:"psniff"`
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"interface":   "psniff.capture.interfaces",
	"engine":      "psniff.capture.engine",
	"read":        "psniff.capture.file",
	"bpf":         "psniff.capture.bpf_filter",
	"send-policy": "psniff.channels.send_policy",
	"host":        "psniff.status.host",
	"port":        "psniff.status.port",
	"log-level":   "psniff.log.level",
	"log-format":  "psniff.log.format",
}

// Load loads configuration from file. An empty path yields defaults plus environment.
// Env vars use the PSNIFF_ prefix (e.g. PSNIFF_CAPTURE_ENGINE).
func Load(path string) (*Config, error) {
	return LoadWithFlags(path, nil)
}

// LoadWithFlags is Load with command-line flags bound on top of file and environment.
// Flags the set does not define are ignored.
func LoadWithFlags(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `psniff.` key prefix maps to `PSNIFF_` via the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
		// Reading a capture file implies the file engine.
		if f := flags.Lookup("read"); f != nil && f.Changed && !changed(flags, "engine") {
			v.Set("psniff.capture.engine", "file")
		}
	}

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Psniff

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func changed(flags *pflag.FlagSet, name string) bool {
	f := flags.Lookup(name)
	return f != nil && f.Changed
}

// setDefaults sets default values for configuration.
// All keys use "psniff." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("psniff.capture.interfaces", []string{})
	v.SetDefault("psniff.capture.engine", "pcap")
	v.SetDefault("psniff.capture.file", "")
	v.SetDefault("psniff.capture.promiscuous", true)
	v.SetDefault("psniff.capture.snaplen", 65535)
	v.SetDefault("psniff.capture.poll_timeout", "100ms")
	v.SetDefault("psniff.capture.bpf_filter", "")
	v.SetDefault("psniff.capture.afpacket.buffer_mb", 8)

	// Channel defaults
	v.SetDefault("psniff.channels.capacity", 1024)
	v.SetDefault("psniff.channels.send_policy", "block")
	v.SetDefault("psniff.channels.send_timeout", "50ms")

	// Listener defaults
	v.SetDefault("psniff.listeners.categories", []string{
		"arp", "ipv4-icmp", "ipv4-tcp", "ipv4-udp", "ipv6-icmp", "ipv6-tcp", "ipv6-udp",
	})

	// Status defaults
	v.SetDefault("psniff.status.enabled", true)
	v.SetDefault("psniff.status.host", "127.0.0.1")
	v.SetDefault("psniff.status.port", 3000)
	v.SetDefault("psniff.status.request_timeout", "250ms")

	// Metrics defaults
	v.SetDefault("psniff.metrics.enabled", true)
	v.SetDefault("psniff.metrics.listen", "127.0.0.1:9091")
	v.SetDefault("psniff.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("psniff.log.level", "info")
	v.SetDefault("psniff.log.format", "json")
	v.SetDefault("psniff.log.outputs.file.enabled", false)
	v.SetDefault("psniff.log.outputs.file.path", "/var/log/psniff/psniff.log")
	v.SetDefault("psniff.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("psniff.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("psniff.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("psniff.log.outputs.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates configuration and normalizes values.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if cfg.Log.Level == "warning" {
		cfg.Log.Level = "warn"
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return fmt.Errorf("%w: log.outputs.file.path is required when file output is enabled", core.ErrConfigInvalid)
	}

	// ── Capture validation ──
	switch cfg.Capture.Engine {
	case "pcap", "afpacket":
	case "file":
		if cfg.Capture.File == "" {
			return fmt.Errorf("%w: capture.file is required by the file engine", core.ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: unsupported capture.engine: %s (must be pcap/afpacket/file)", core.ErrConfigInvalid, cfg.Capture.Engine)
	}
	if cfg.Capture.SnapLen <= 0 {
		return fmt.Errorf("%w: capture.snaplen must be positive", core.ErrConfigInvalid)
	}
	if err := checkDuration("capture.poll_timeout", cfg.Capture.PollTimeout); err != nil {
		return err
	}
	if cfg.Capture.AFPacket.BufferMB <= 0 {
		return fmt.Errorf("%w: capture.afpacket.buffer_mb must be positive", core.ErrConfigInvalid)
	}
	interfaces := cfg.Capture.Interfaces[:0]
	seen := make(map[string]bool)
	for _, name := range cfg.Capture.Interfaces {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		interfaces = append(interfaces, name)
	}
	cfg.Capture.Interfaces = interfaces

	// ── Channel validation ──
	if cfg.Channels.Capacity < 1 {
		return fmt.Errorf("%w: channels.capacity must be at least 1", core.ErrConfigInvalid)
	}
	if cfg.Channels.SendPolicy != "block" && cfg.Channels.SendPolicy != "drop" {
		return fmt.Errorf("%w: invalid channels.send_policy: %s (must be block/drop)", core.ErrConfigInvalid, cfg.Channels.SendPolicy)
	}
	if err := checkDuration("channels.send_timeout", cfg.Channels.SendTimeout); err != nil {
		return err
	}

	// ── Listener validation ──
	categories := make([]string, 0, len(cfg.Listeners.Categories))
	var enabled [core.NumCategories]bool
	for _, name := range cfg.Listeners.Categories {
		cat, err := core.ParseCategory(name)
		if err != nil {
			return fmt.Errorf("%w: listeners.categories: %w", core.ErrConfigInvalid, err)
		}
		if cat == core.CategoryNoNetworkLayer {
			return fmt.Errorf("%w: listeners.categories: %s frames are never forwarded", core.ErrConfigInvalid, name)
		}
		// A category has one channel per interface, so it gets one listener.
		if enabled[cat] {
			continue
		}
		enabled[cat] = true
		categories = append(categories, cat.String())
	}
	cfg.Listeners.Categories = categories

	// ── Status validation ──
	if cfg.Status.Enabled {
		if cfg.Status.Port < 1 || cfg.Status.Port > 65535 {
			return fmt.Errorf("%w: status.port out of range: %d", core.ErrConfigInvalid, cfg.Status.Port)
		}
		if err := checkDuration("status.request_timeout", cfg.Status.RequestTimeout); err != nil {
			return err
		}
	}

	// ── Metrics validation ──
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			return fmt.Errorf("%w: metrics.listen is required when metrics are enabled", core.ErrConfigInvalid)
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			cfg.Metrics.Path = "/" + cfg.Metrics.Path
		}
	}

	return nil
}

func checkDuration(key, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrConfigInvalid, key, err)
	}
	if d <= 0 {
		return fmt.Errorf("%w: %s must be positive", core.ErrConfigInvalid, key)
	}
	return nil
}

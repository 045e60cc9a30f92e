package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"firestige.xyz/psniff/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	if cfg.Capture.Engine != "pcap" {
		t.Errorf("Expected engine pcap, got %s", cfg.Capture.Engine)
	}
	if len(cfg.Capture.Interfaces) != 0 {
		t.Errorf("Expected no interfaces, got %v", cfg.Capture.Interfaces)
	}
	if !cfg.Capture.Promiscuous {
		t.Error("Expected promiscuous capture by default")
	}
	if cfg.Capture.SnapLen != 65535 {
		t.Errorf("Expected snaplen 65535, got %d", cfg.Capture.SnapLen)
	}
	if cfg.Capture.PollInterval() != 100*time.Millisecond {
		t.Errorf("Expected poll timeout 100ms, got %v", cfg.Capture.PollInterval())
	}
	if cfg.Channels.Capacity != 1024 {
		t.Errorf("Expected capacity 1024, got %d", cfg.Channels.Capacity)
	}
	if cfg.Channels.SendPolicy != "block" {
		t.Errorf("Expected send policy block, got %s", cfg.Channels.SendPolicy)
	}
	if len(cfg.Listeners.Categories) != 7 {
		t.Errorf("Expected 7 listener categories, got %v", cfg.Listeners.Categories)
	}
	if cfg.Status.Host != "127.0.0.1" || cfg.Status.Port != 3000 {
		t.Errorf("Expected status on 127.0.0.1:3000, got %s:%d", cfg.Status.Host, cfg.Status.Port)
	}
	if cfg.Status.RequestDeadline() != 250*time.Millisecond {
		t.Errorf("Expected request timeout 250ms, got %v", cfg.Status.RequestDeadline())
	}
	if cfg.Metrics.Listen != "127.0.0.1:9091" || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Unexpected metrics defaults: %+v", cfg.Metrics)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log defaults: %+v", cfg.Log)
	}
}

func TestLoadValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
psniff:
  capture:
    interfaces: ["eth0", "eth1", "eth0"]
    engine: afpacket
    promiscuous: false
    poll_timeout: 250ms
    bpf_filter: "tcp port 443"
    afpacket:
      buffer_mb: 32
  channels:
    capacity: 64
    send_policy: drop
    send_timeout: 10ms
  listeners:
    categories: ["ipv4-tcp", "unexpected"]
  status:
    port: 8080
  metrics:
    enabled: false
  log:
    level: WARNING
    format: text
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if !reflect.DeepEqual(cfg.Capture.Interfaces, []string{"eth0", "eth1"}) {
		t.Errorf("Expected deduplicated interfaces, got %v", cfg.Capture.Interfaces)
	}
	if cfg.Capture.Engine != "afpacket" {
		t.Errorf("Expected engine afpacket, got %s", cfg.Capture.Engine)
	}
	if cfg.Capture.Promiscuous {
		t.Error("Expected promiscuous false")
	}
	if cfg.Capture.PollInterval() != 250*time.Millisecond {
		t.Errorf("Expected poll timeout 250ms, got %v", cfg.Capture.PollInterval())
	}
	if cfg.Capture.AFPacket.BufferMB != 32 {
		t.Errorf("Expected buffer_mb 32, got %d", cfg.Capture.AFPacket.BufferMB)
	}
	if cfg.Channels.Capacity != 64 || cfg.Channels.SendPolicy != "drop" || cfg.Channels.SendWait() != 10*time.Millisecond {
		t.Errorf("Unexpected channels config: %+v", cfg.Channels)
	}
	want := []core.Category{core.CategoryIPv4TCP, core.CategoryUnexpected}
	if got := cfg.Listeners.Parsed(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected categories %v, got %v", want, got)
	}
	if cfg.Status.Port != 8080 || cfg.Status.Host != "127.0.0.1" {
		t.Errorf("Unexpected status config: %+v", cfg.Status)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled")
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected warning to normalize to warn, got %s", cfg.Log.Level)
	}
}

func TestListenerCategoriesDeduplicated(t *testing.T) {
	configPath := writeConfig(t, `
psniff:
  listeners:
    categories: ["arp", "ARP", "ipv4-udp", " arp "]
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if !reflect.DeepEqual(cfg.Listeners.Categories, []string{"arp", "ipv4-udp"}) {
		t.Errorf("Expected deduplicated categories, got %v", cfg.Listeners.Categories)
	}

	// Parsed also collapses duplicates on a config that skipped validation.
	raw := ListenersConfig{Categories: []string{"ipv6-tcp", "ipv6-tcp"}}
	if got := raw.Parsed(); !reflect.DeepEqual(got, []core.Category{core.CategoryIPv6TCP}) {
		t.Errorf("Expected a single ipv6-tcp category, got %v", got)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"log level", "psniff:\n  log:\n    level: loud\n"},
		{"log format", "psniff:\n  log:\n    format: xml\n"},
		{"engine", "psniff:\n  capture:\n    engine: netmap\n"},
		{"file engine without file", "psniff:\n  capture:\n    engine: file\n"},
		{"poll timeout", "psniff:\n  capture:\n    poll_timeout: soon\n"},
		{"send policy", "psniff:\n  channels:\n    send_policy: maybe\n"},
		{"capacity", "psniff:\n  channels:\n    capacity: 0\n"},
		{"category", "psniff:\n  listeners:\n    categories: [\"sctp\"]\n"},
		{"no network layer listener", "psniff:\n  listeners:\n    categories: [\"no-network-layer\"]\n"},
		{"port", "psniff:\n  status:\n    port: 70000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PSNIFF_CAPTURE_ENGINE", "afpacket")
	t.Setenv("PSNIFF_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Capture.Engine != "afpacket" {
		t.Errorf("Expected engine afpacket from env, got %s", cfg.Capture.Engine)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug from env, got %s", cfg.Log.Level)
	}
}

func TestLoadWithFlags(t *testing.T) {
	configPath := writeConfig(t, `
psniff:
  status:
    port: 8080
  log:
    level: error
`)

	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.StringSliceP("interface", "i", nil, "")
	flags.StringP("read", "r", "", "")
	flags.String("engine", "", "")
	flags.Int("port", 3000, "")
	flags.String("log-level", "info", "")
	if err := flags.Parse([]string{"-i", "eth0", "-i", "eth1", "-r", "/tmp/dump.pcap", "--port", "9000"}); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}

	cfg, err := LoadWithFlags(configPath, flags)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if !reflect.DeepEqual(cfg.Capture.Interfaces, []string{"eth0", "eth1"}) {
		t.Errorf("Expected interfaces from flags, got %v", cfg.Capture.Interfaces)
	}
	if cfg.Capture.Engine != "file" || cfg.Capture.File != "/tmp/dump.pcap" {
		t.Errorf("Expected --read to select the file engine, got %s %q", cfg.Capture.Engine, cfg.Capture.File)
	}
	if cfg.Status.Port != 9000 {
		t.Errorf("Expected port 9000 from flag, got %d", cfg.Status.Port)
	}
	// Unchanged flags do not override the file.
	if cfg.Log.Level != "error" {
		t.Errorf("Expected log level error from file, got %s", cfg.Log.Level)
	}
}

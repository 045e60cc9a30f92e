// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/psniff/internal/config"
	logpkg "firestige.xyz/psniff/internal/log"
	"firestige.xyz/psniff/internal/version"
)

var (
	// Global flags
	configFile string
	logLevel   string
	logFormat  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "psniff",
	Short: "psniff - live network traffic capture and protocol dispatch",
	Long: `psniff captures frames from one or more network interfaces, classifies them
by network and transport protocol, and hands each category to its own listener.

Features:
  - Capture engines: libpcap, AF_PACKET (TPACKET_V3) and pcap file replay
  - Per-category listeners: TCP session tracking, UDP, ICMP and ARP
  - HTTP status surface and Prometheus metrics
  - Listen-only mode for raw packet accounting`,
	Version:       version.Get().Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults plus PSNIFF_* environment when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json",
		"log format: json or text")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig merges the config file, environment and the flags of cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.LoadWithFlags(configFile, cmd.Flags())
}

// initLogging installs the default logger for cfg.
func initLogging(cfg *config.Config) (io.Closer, error) {
	return logpkg.Init(cfg.Log)
}

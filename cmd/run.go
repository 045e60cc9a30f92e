package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"firestige.xyz/psniff/internal/boot"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture traffic and dispatch it to protocol listeners",
	Long: `Capture traffic and dispatch every protocol category to its listener.

Runs until SIGINT/SIGTERM, or until the first task exits (for example when a
capture file has been replayed).

Examples:
  psniff run                                 # first usable interface, default config
  psniff run -i eth0 -i eth1 --bpf "tcp"     # two interfaces with a capture filter
  psniff run -r dump.pcap --log-level debug  # replay a capture file
  psniff run -c psniff.yml --port 8080       # config file, status on :8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCapture(cmd, boot.ModeRun)
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Capture traffic and only count it",
	Long: `Capture traffic without protocol listeners. Frames are classified and
counted; statistics are served by the status and metrics endpoints.

Examples:
  psniff listen -i eth0
  psniff listen --engine afpacket -i eth0`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCapture(cmd, boot.ModeListen)
	},
}

func init() {
	addCaptureFlags(runCmd)
	addCaptureFlags(listenCmd)
}

// addCaptureFlags registers the flags that override capture, channel and status settings.
func addCaptureFlags(c *cobra.Command) {
	c.Flags().StringSliceP("interface", "i", nil, "interface to capture on (repeatable)")
	c.Flags().String("engine", "", "capture engine: pcap, afpacket or file")
	c.Flags().StringP("read", "r", "", "replay frames from a pcap file (implies --engine file)")
	c.Flags().String("bpf", "", "BPF filter expression")
	c.Flags().String("host", "", "status server host")
	c.Flags().Int("port", 0, "status server port")
	c.Flags().String("send-policy", "", "policy for full listener channels: block or drop")
}

func runCapture(cmd *cobra.Command, mode boot.Mode) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	closer, err := initLogging(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	slog.Debug("logging initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)
	return boot.Start(cfg, mode)
}

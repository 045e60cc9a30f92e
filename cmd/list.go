package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/psniff/internal/capture"
)

// DeviceLister enumerates capture devices.
type DeviceLister interface {
	ListDevices() ([]capture.Device, error)
}

type pcapLister struct{}

func (pcapLister) ListDevices() ([]capture.Device, error) {
	return capture.ListDevices()
}

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List capture devices",
	Long: `List the devices libpcap can capture on, with their flags and addresses.

Examples:
  psniff list
  psniff list --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(pcapLister{}, cmd.OutOrStdout(), listJSON)
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print devices as JSON")
}

func runList(l DeviceLister, w io.Writer, asJSON bool) error {
	devices, err := l.ListDevices()
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(devices)
	}

	if len(devices) == 0 {
		fmt.Fprintln(w, "no capture devices found")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tFLAGS\tADDRESSES\tDESCRIPTION")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			d.Name,
			orDash(strings.Join(d.Flags, ",")),
			orDash(strings.Join(d.Addresses, ", ")),
			orDash(d.Description))
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

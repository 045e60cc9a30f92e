package cmd

import (
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/psniff/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration that run would use, after merging defaults,
the config file, PSNIFF_* environment variables and flags. The output is a
valid config file.

Examples:
  psniff config > psniff.yml
  psniff config -c psniff.yml -i eth1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return writeConfig(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	addCaptureFlags(configCmd)
}

func writeConfig(w io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]*config.Config{"psniff": cfg}); err != nil {
		return err
	}
	return enc.Close()
}

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shelffs/shelf/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a default shelfd configuration file.

By default the file is created at $XDG_CONFIG_HOME/shelf/config.yaml.
Use --config to pick a different path, and --force to overwrite an
existing file.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.DefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	}

	cfg := config.GetDefaultConfig()
	if err := config.Save(cfg, path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created at: %s\n", path)
	fmt.Fprintln(cmd.OutOrStdout(), "\nNext steps:")
	fmt.Fprintln(cmd.OutOrStdout(), "  1. Edit the configuration file to customize your setup")
	fmt.Fprintln(cmd.OutOrStdout(), "  2. Start the daemon with: shelfd serve")
	return nil
}

// Package commands implements the shelfd CLI: starting the daemon and
// administering a running library's locations and paired devices.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time via -ldflags.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "shelfd",
	Short: "shelfd - personal file library engine",
	Long: `shelfd indexes directory trees into a content-addressed catalog,
generates derived artifacts (thumbnails, proxies, metadata), and ships
files between paired devices over an encrypted peer-to-peer transport.

Use "shelfd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command, for tests.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetConfigFile returns the --config flag value.
func GetConfigFile() string {
	return cfgFile
}

// PrintErr prints a formatted error to the command's stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and terminates with status 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/shelf/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(locationsCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(completionCmd)
	rootCmd.AddCommand(schemaCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

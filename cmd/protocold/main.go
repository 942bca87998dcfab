// Protocold is a protocol orchestration daemon for agent-driven
// development tasks.
//
// It plans protocol runs into step graphs, dispatches steps to an
// execution backend, gates results through QA checks, and exposes an
// HTTP control surface.
//
// Usage:
//
//	# Start the daemon with defaults
//	protocold serve
//
//	# Start with a config file
//	protocold serve --config protocold.yaml
//
//	# Run a Temporal worker that executes steps
//	protocold worker --server http://localhost:8321
//
//	# One-shot recovery sweep
//	protocold recover
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "protocold",
	Short: "Protocol orchestration daemon for agent-driven development",
	Long: `protocold plans protocol runs into dependency-ordered step graphs,
dispatches steps to an execution backend, and gates results through QA
checks before marking work complete.`,
	Version: version,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("protocold by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(versionCmd)
}

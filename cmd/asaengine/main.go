package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/asaengine/pkg/config"
	"github.com/cuemby/asaengine/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "asaengine",
	Short: "asaengine - autonomous bug-fixing task engine",
	Long: `asaengine accepts a repository and a bug description, drives an LLM
through test-reproduce, fix-generate, and verify cycles inside an isolated
sandbox, and opens a pull request with the result.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"asaengine version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(evalCmd)
}

// initLogging configures the global logger ahead of command execution.
// Level and format come from the environment (ASA_LOG_LEVEL, ASA_LOG_JSON)
// via pkg/config rather than flags, since every other run-time setting is
// environment-driven and a flag-only logging knob would be the odd one out.
func initLogging() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log.Init(log.Config{
		Level:      cfg.LogLevel,
		JSONOutput: cfg.LogJSON,
	})
}

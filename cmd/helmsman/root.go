package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// Global flags
var (
	dataDir    string // Directory holding the database and config
	configPath string // Explicit config file path override
)

// CheckClaudeCLI verifies that the 'claude' CLI is available in PATH.
// Returns an error with installation instructions if not found.
func CheckClaudeCLI() error {
	_, err := exec.LookPath("claude")
	if err != nil {
		return fmt.Errorf("claude CLI not found in PATH\n\n" +
			"Helmsman drives coding agents through the Claude Code CLI.\n\n" +
			"Install it with:\n" +
			"  npm install -g @anthropic-ai/claude-code\n\n" +
			"For more information, visit:\n" +
			"  https://docs.anthropic.com/en/docs/claude-code")
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "helmsman",
	Short: "Autopilot orchestration engine for coding agents",
	Long: `Helmsman drives tasks through their lifecycle by dispatching work to
coding agents: it collects agent feedback, requests a self-review,
funnels approved work through a per-project merge queue, and unblocks
dependent tasks when their prerequisites land.

Available commands:
  serve      Run the orchestration engine
  repo       Register repositories
  version    Show version information

Use "helmsman [command] --help" for more information about a command.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir(), "directory for the database and config")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (defaults to <data-dir>/config.json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(repoCmd)
	rootCmd.AddCommand(versionCmd)
}

// defaultDataDir resolves the XDG data directory for helmsman.
func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir + "/helmsman"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".helmsman"
	}
	return home + "/.local/share/helmsman"
}

// resolvedConfigPath returns the effective config file location.
func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return dataDir + "/config.json"
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

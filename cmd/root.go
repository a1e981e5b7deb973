// Package cmd contains CLI command definitions
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Logger is the shared logger instance for all commands
	Logger *logrus.Logger

	rootCmd = &cobra.Command{
		Use:   "uivet",
		Short: "uivet - automated UI test runner",
		Long: `uivet queues browser-driven UI tests, executes them one at a time and
aggregates functional, performance and visual results into one state snapshot.

Use 'serve' to run the engine, 'enqueue' to submit a test spec to a running
server, and 'state' to inspect the queue and results.`,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Initialize the shared logger
	Logger = newLogger(false)
}

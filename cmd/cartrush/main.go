// Package main is the entry point for the cartrush CLI.
//
// Usage:
//
//	cartrush serve -c config.yaml              # Observer API, sessions started over HTTP
//	cartrush run -c config.yaml [--at <time>]  # One session, exit code by outcome
//	cartrush validate -c config.yaml           # Validate configuration
//	cartrush cart -c config.yaml               # Print the current cart
//	cartrush auth -c config.yaml               # Check credentials
//	cartrush probe -c config.yaml -n 50        # Measure throttling at a concurrency
//	cartrush version                           # Show version info
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "cartrush",
	Short: "Claim a reservation the moment it opens",
	Long: `cartrush polls the reservation service's add-item endpoint at high
concurrency until the target site lands in the cart, backing off when the
service throttles and stopping on terminal rejections.

Quick start:
  1. Export CARTRUSH_ID_TOKEN and CARTRUSH_A1DATA from a logged-in browser
  2. Write a config file (cartrush.yaml) with a target
  3. Run: cartrush run -c cartrush.yaml --at 2026-05-17T07:00:00-04:00

Example config:
  target:
    url: https://www.reserveamerica.com/explore/x/NY/140/245719/campsite-booking
    arrival_date: 2026-05-17
    nights: 2
  polling:
    max_concurrent: 100
    max_duration: 5m`,
	SilenceUsage: true,
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// newLogger creates a JSON logger on stderr at the --log-level level.
func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	raw, _ := cmd.Flags().GetString("log-level")

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(raw))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: use debug, info, warn or error", raw)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})), nil
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this cartrush binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "cartrush %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.AddCommand(versionCmd)
}

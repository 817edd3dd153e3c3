package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/cartrush/config"
)

// validateCmd validates a config file without starting anything.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a cartrush configuration file without contacting the service.

This command parses the YAML, expands environment variables, validates all
fields and resolves the target. It's useful before arming a scheduled run.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  cartrush validate -c cartrush.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	addConfigFlag(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	target := "none (start sessions over HTTP)"
	t, err := config.BuildTarget(cfg.Target)
	switch {
	case err == nil:
		target = t.String()
	case !errors.Is(err, config.ErrNoTarget):
		return fmt.Errorf("invalid config: %w", err)
	}

	stats := "disabled"
	if cfg.Stats.Enabled() {
		stats = cfg.Stats.RedisAddr
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:        %d\n", cfg.Server.Port)
	fmt.Fprintf(out, "  Target:      %s\n", target)
	fmt.Fprintf(out, "  Credentials: %s\n", cfg.Credentials.Source)
	fmt.Fprintf(out, "  Stats:       %s\n", stats)

	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/cartrush"
	"github.com/jpalmerr/cartrush/config"
	"github.com/jpalmerr/cartrush/internal/probe"
)

// Exit codes of the run command.
const (
	exitRejected = 2
	exitStopped  = 3
)

// runCmd runs a single session in the foreground.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one acquisition session",
	Long: `Run one acquisition session against the configured target and print
every status change.

With --at the session starts at that instant (RFC 3339 or unix
milliseconds), so it can be armed before inventory opens.

Exit codes:
  0 - Claim confirmed in the cart
  1 - Could not start (config, credentials, target)
  2 - The service rejected the claim (auth, too early, taken, validation)
  3 - Stopped without a claim (timeout or interrupted)

Example:
  cartrush run -c cartrush.yaml --at 2026-05-17T07:00:00-04:00
  cartrush run -c cartrush.yaml --url "https://.../NY/140/245719/campsite-booking" --arrival 2026-05-17 --nights 2`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addConfigFlag(runCmd)
	addTargetFlags(runCmd)

	runCmd.Flags().String("at", "", "start instant (RFC 3339 or unix milliseconds)")
	runCmd.Flags().BoolP("verbose", "v", false, "print every request and response")
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().String("url", "", "campsite booking URL (overrides target.url)")
	cmd.Flags().String("arrival", "", "arrival date YYYY-MM-DD (overrides target.arrival_date)")
	cmd.Flags().Int("nights", 0, "length of stay (overrides target.nights)")
}

// targetFromFlags merges the target flags over the config's target section.
func targetFromFlags(cmd *cobra.Command, tc config.TargetConfig) (cartrush.Target, error) {
	if v, _ := cmd.Flags().GetString("url"); v != "" {
		tc.URL = v
	}
	if v, _ := cmd.Flags().GetString("arrival"); v != "" {
		tc.ArrivalDate = v
	}
	if v, _ := cmd.Flags().GetInt("nights"); v != 0 {
		tc.Nights = v
	}

	t, err := config.BuildTarget(tc)
	if errors.Is(err, config.ErrNoTarget) {
		return cartrush.Target{}, errors.New("no target: set target in the config or pass --url")
	}
	return t, err
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	target, err := targetFromFlags(cmd, cfg.Target)
	if err != nil {
		return err
	}
	atRaw, _ := cmd.Flags().GetString("at")
	at, err := probe.ParseBurstAt(atRaw)
	if err != nil {
		return fmt.Errorf("invalid --at: %w", err)
	}
	verbose, _ := cmd.Flags().GetBool("verbose")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := printer{out: cmd.OutOrStdout(), verbose: verbose}
	a, err := newApp(ctx, cfg, logger,
		cartrush.WithStatusCallback(p.status),
		cartrush.WithLogCallback(p.log),
	)
	if err != nil {
		return err
	}
	defer a.close()

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		if err := a.watch(watchCtx); err != nil {
			logger.Warn("credential watch stopped", "error", err)
		}
	}()

	st := a.engine.Status()
	p.banner(target, st.MaxConcurrent, st.MaxDuration)

	if !at.IsZero() && time.Until(at) > 0 {
		p.waiting(at)
		if err := sleepUntil(ctx, at); err != nil {
			return &exitError{code: exitStopped, err: errors.New("interrupted before start")}
		}
	}

	if _, err := a.engine.StartSession(ctx, target); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	// the session ends on its own when ctx is cancelled
	final, err := a.engine.WaitSession(context.Background())
	if err != nil {
		return err
	}
	return exitFor(final)
}

// exitFor maps a final status to the command result.
func exitFor(st cartrush.Status) error {
	switch st.State {
	case cartrush.StateSuccess:
		return nil
	case cartrush.StateError:
		return &exitError{code: exitRejected, err: fmt.Errorf("session failed (%s): %s", st.Reason, st.LastMessage)}
	default:
		return &exitError{code: exitStopped, err: fmt.Errorf("session stopped (%s) after %d requests", st.Reason, st.RequestCount)}
	}
}

func sleepUntil(ctx context.Context, at time.Time) error {
	t := time.NewTimer(time.Until(at))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

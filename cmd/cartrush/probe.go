package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/cartrush/config"
	"github.com/jpalmerr/cartrush/internal/inventory"
	"github.com/jpalmerr/cartrush/internal/probe"
)

// probeCmd measures how the service throttles add-item traffic.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Measure throttling at a given concurrency",
	Long: `Keep N add-item requests in flight against the target for a fixed
duration and print a status histogram every second.

With --ramp-to the concurrency grows by --ramp-step every --ramp-every.
With --burst-at a single burst of N requests is sent at that instant
instead.

Warning: a 200 response claims the item, just like a real session.

Example:
  cartrush probe -c cartrush.yaml -n 50 -d 30s
  cartrush probe -c cartrush.yaml -n 10 --ramp-to 100 --ramp-every 5s --ramp-step 10`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	addConfigFlag(probeCmd)
	addTargetFlags(probeCmd)

	f := probeCmd.Flags()
	f.IntP("concurrency", "n", 10, "requests kept in flight")
	f.DurationP("duration", "d", 30*time.Second, "how long to send")
	f.Duration("cadence", 0, "send one request per tick instead of topping up every slot")
	f.Int("ramp-to", 0, "raise concurrency up to this value")
	f.Duration("ramp-every", 0, "interval between ramp steps")
	f.Int("ramp-step", 0, "concurrency added per ramp step")
	f.String("burst-at", "", "send one burst at this instant (RFC 3339 or unix milliseconds)")
	f.Bool("json", false, "print the final report as JSON")
}

func runProbe(cmd *cobra.Command, args []string) error {
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

	f := cmd.Flags()
	pc := probe.Config{}
	pc.Concurrency, _ = f.GetInt("concurrency")
	pc.Duration, _ = f.GetDuration("duration")
	pc.Cadence, _ = f.GetDuration("cadence")
	pc.RampTo, _ = f.GetInt("ramp-to")
	pc.RampEvery, _ = f.GetDuration("ramp-every")
	pc.RampStep, _ = f.GetInt("ramp-step")
	pc.AttemptTimeout = cfg.API.AttemptTimeout.Duration()
	burstRaw, _ := f.GetString("burst-at")
	if pc.BurstAt, err = probe.ParseBurstAt(burstRaw); err != nil {
		return fmt.Errorf("invalid --burst-at: %w", err)
	}
	if err := pc.Validate(); err != nil {
		return fmt.Errorf("invalid probe flags: %w", err)
	}
	asJSON, _ := f.GetBool("json")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := config.BuildCredentials(cfg.Credentials)
	if err != nil {
		return err
	}
	creds, err := provider.Credentials(ctx)
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}
	creds = creds.Normalized()
	if creds.Empty() {
		return errors.New("failed to read credentials: token or a1Data is empty")
	}

	var clientOpts []inventory.ClientOption
	if cfg.API.BaseURL != "" {
		clientOpts = append(clientOpts, inventory.WithBaseURL(cfg.API.BaseURL))
	}
	client := inventory.NewClient(clientOpts...)
	defer client.Close()

	req := inventory.AddItemRequest{
		ContractCode: target.ContractCode(),
		FacilityID:   target.FacilityID(),
		SiteID:       target.SiteID(),
		ArrivalDate:  target.ArrivalDate(),
		Units:        target.Nights(),
		Quantity:     target.Quantity(),
	}

	out := cmd.OutOrStdout()
	p := probe.New(client, creds, req, logger)
	p.OnTick = func(s probe.Snapshot) {
		if !asJSON {
			fmt.Fprintln(out, s.String())
		}
	}

	logger.Info("probe starting", "target", target.String(), "concurrency", pc.Concurrency, "duration", pc.Duration)
	report, err := p.Run(ctx, pc)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintln(out, boxStyle.Render("final "+report.String()))
	fmt.Fprintf(out, "codes seen: %v\n", report.Codes())
	for i, e := range report.Errors {
		fmt.Fprintf(out, "error sample %d (HTTP %d): %s\n", i+1, e.Status, e.Body)
	}
	return nil
}

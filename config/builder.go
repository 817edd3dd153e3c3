package config

import (
	"errors"
	"fmt"

	"github.com/jpalmerr/cartrush"
	"github.com/jpalmerr/cartrush/credentials"
)

// ErrNoTarget is returned by [BuildTarget] when the config names no target.
var ErrNoTarget = errors.New("no target configured")

// BuildOptions converts parsed configuration into engine options.
//
// Zero values are skipped so the engine defaults apply. The credential
// provider comes from [BuildCredentials] and the stats recorder is left to
// the caller, which owns the Redis connection and the file watcher.
func BuildOptions(cfg *Config) []cartrush.Option {
	opts := []cartrush.Option{
		cartrush.WithPort(cfg.Server.Port),
	}

	if cfg.Server.LogLimit > 0 {
		opts = append(opts, cartrush.WithLogLimit(cfg.Server.LogLimit))
	}
	if cfg.API.BaseURL != "" {
		opts = append(opts, cartrush.WithBaseURL(cfg.API.BaseURL))
	}
	if cfg.API.AttemptTimeout != 0 {
		opts = append(opts, cartrush.WithAttemptTimeout(cfg.API.AttemptTimeout.Duration()))
	}

	p := cfg.Polling
	if p.Cadence != 0 {
		opts = append(opts, cartrush.WithCadence(p.Cadence.Duration()))
	}
	if p.MaxConcurrent != 0 {
		opts = append(opts, cartrush.WithMaxConcurrent(p.MaxConcurrent))
	}
	if p.MaxDuration != 0 {
		opts = append(opts, cartrush.WithMaxDuration(p.MaxDuration.Duration()))
	}
	if p.ThrottlePauseMin != 0 || p.ThrottlePauseMax != 0 {
		opts = append(opts, cartrush.WithThrottlePause(p.ThrottlePauseMin.Duration(), p.ThrottlePauseMax.Duration()))
	}
	if p.ThrottleThreshold != 0 {
		opts = append(opts, cartrush.WithThrottleThreshold(p.ThrottleThreshold))
	}
	if p.FailureWarningThreshold != 0 {
		opts = append(opts, cartrush.WithFailureWarningThreshold(p.FailureWarningThreshold))
	}
	if p.DispatchRate != 0 {
		opts = append(opts, cartrush.WithDispatchRate(p.DispatchRate, p.DispatchBurst))
	}
	if p.StrictConfirmation {
		opts = append(opts, cartrush.WithStrictConfirmation(true))
	}

	return opts
}

// BuildTarget converts the target section into a [cartrush.Target].
//
// Returns [ErrNoTarget] if the section is empty.
func BuildTarget(tc TargetConfig) (cartrush.Target, error) {
	if tc.IsZero() {
		return cartrush.Target{}, ErrNoTarget
	}

	var opts []cartrush.TargetOption
	if tc.ContractCode != "" {
		opts = append(opts, cartrush.WithContractCode(tc.ContractCode))
	}
	if tc.Quantity != 0 {
		opts = append(opts, cartrush.WithQuantity(tc.Quantity))
	}

	if tc.URL != "" {
		t, err := cartrush.ParseTargetURL(tc.URL, tc.ArrivalDate, tc.Nights, opts...)
		if err != nil {
			return cartrush.Target{}, fmt.Errorf("target: %w", err)
		}
		return t, nil
	}

	t, err := cartrush.NewTarget(tc.FacilityID, tc.SiteID, tc.ArrivalDate, tc.Nights, opts...)
	if err != nil {
		return cartrush.Target{}, fmt.Errorf("target: %w", err)
	}
	return t, nil
}

// BuildCredentials returns the provider selected by credentials.source.
//
// A file provider with watch enabled is returned as *credentials.File; the
// caller starts its Watch loop.
func BuildCredentials(cc CredentialsConfig) (credentials.Provider, error) {
	switch cc.Source {
	case "", SourceEnv:
		return credentials.Env{
			TokenVar:  cc.TokenVar,
			A1DataVar: cc.A1DataVar,
			Files:     cc.EnvFiles,
		}, nil
	case SourceFile:
		dir := cc.Dir
		if dir == "" {
			dir = "."
		}
		return credentials.NewFile(dir), nil
	case SourceBrowser:
		return credentials.NewBrowser(cc.BrowserURL), nil
	default:
		return nil, fmt.Errorf("unknown credential source %q", cc.Source)
	}
}

// Package config provides YAML configuration parsing for cartrush.
//
// This package enables running cartrush as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	server:
//	  port: 8080
//
//	polling:
//	  max_concurrent: 100
//	  max_duration: 5m
//
//	target:
//	  url: https://www.reserveamerica.com/explore/glen-island/NY/140/245719/campsite-booking
//	  arrival_date: 2026-05-17
//	  nights: 2
//
//	credentials:
//	  source: env
//	  env_files: [.env]
//
//	stats:
//	  redis_addr: ${REDIS_ADDR:-}
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Credential sources accepted in credentials.source.
const (
	SourceEnv     = "env"
	SourceFile    = "file"
	SourceBrowser = "browser"
)

// minCadence keeps a mistyped cadence from turning into a busy loop.
const minCadence = time.Millisecond

// Config is the root configuration structure for cartrush.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	API         APIConfig         `yaml:"api"`
	Polling     PollingConfig     `yaml:"polling"`
	Target      TargetConfig      `yaml:"target"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Stats       StatsConfig       `yaml:"stats"`
}

// ServerConfig configures the observer HTTP API.
type ServerConfig struct {
	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// LogLimit is how many log entries are kept. Defaults to 1000.
	LogLimit int `yaml:"log_limit"`
}

// APIConfig points at the reservation cart API.
type APIConfig struct {
	// BaseURL overrides the production cart endpoint, for example to target
	// a local mock. Supports environment variable substitution.
	BaseURL string `yaml:"base_url"`

	// AttemptTimeout bounds every request. Zero keeps the engine default.
	AttemptTimeout Duration `yaml:"attempt_timeout"`
}

// PollingConfig holds the session tunables. Zero values keep the engine
// defaults.
type PollingConfig struct {
	Cadence                 Duration `yaml:"cadence"`
	MaxConcurrent           int      `yaml:"max_concurrent"`
	MaxDuration             Duration `yaml:"max_duration"`
	ThrottlePauseMin        Duration `yaml:"throttle_pause_min"`
	ThrottlePauseMax        Duration `yaml:"throttle_pause_max"`
	ThrottleThreshold       int      `yaml:"throttle_threshold"`
	FailureWarningThreshold int      `yaml:"failure_warning_threshold"`

	// DispatchRate caps attempts per second. Zero disables the cap.
	DispatchRate  float64 `yaml:"dispatch_rate"`
	DispatchBurst int     `yaml:"dispatch_burst"`

	StrictConfirmation bool `yaml:"strict_confirmation"`
}

// TargetConfig names the item to claim, either by booking page URL or by
// explicit ids. It is optional for serve, where sessions are started over
// HTTP.
type TargetConfig struct {
	// URL is a campsite booking page URL. Supports environment variable
	// substitution.
	URL string `yaml:"url"`

	ContractCode string `yaml:"contract_code"`
	FacilityID   string `yaml:"facility_id"`
	SiteID       string `yaml:"site_id"`
	ArrivalDate  string `yaml:"arrival_date"`
	Nights       int    `yaml:"nights"`
	Quantity     int    `yaml:"quantity"`
}

// IsZero reports whether no target was configured.
func (t TargetConfig) IsZero() bool {
	return t.URL == "" && t.FacilityID == "" && t.SiteID == ""
}

// CredentialsConfig selects where session credentials come from.
type CredentialsConfig struct {
	// Source is "env" (default), "file" or "browser".
	Source string `yaml:"source"`

	// EnvFiles are .env files loaded for source env.
	EnvFiles  []string `yaml:"env_files"`
	TokenVar  string   `yaml:"token_var"`
	A1DataVar string   `yaml:"a1data_var"`

	// Dir holds the token and a1Data files for source file.
	Dir string `yaml:"dir"`

	// Watch keeps the file credentials cached and reloads them on change.
	Watch bool `yaml:"watch"`

	// BrowserURL is the DevTools websocket URL for source browser.
	BrowserURL string `yaml:"browser_url"`
}

// StatsConfig enables the Redis attempt counters when RedisAddr is set.
type StatsConfig struct {
	RedisAddr string   `yaml:"redis_addr"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	Prefix    string   `yaml:"prefix"`
	TTL       Duration `yaml:"ttl"`
}

// Enabled reports whether a Redis address is configured.
func (s StatsConfig) Enabled() bool {
	return s.RedisAddr != ""
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// See [Parse] for defaults and environment variable expansion.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in URLs, env file paths and the stats
// connection settings. Defaults are applied for the port (8080) and the
// credential source (env).
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Credentials.Source == "" {
		cfg.Credentials.Source = SourceEnv
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if err := c.expand(); err != nil {
		return err
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.LogLimit < 0 {
		return fmt.Errorf("server.log_limit cannot be negative, got %d", c.Server.LogLimit)
	}

	if c.API.BaseURL != "" {
		if err := validateHTTPURL(c.API.BaseURL); err != nil {
			return fmt.Errorf("api.base_url: %w", err)
		}
	}
	if c.API.AttemptTimeout.Duration() < 0 {
		return fmt.Errorf("api.attempt_timeout cannot be negative, got %s", c.API.AttemptTimeout.Duration())
	}

	if err := c.Polling.validate(); err != nil {
		return err
	}
	if err := c.Target.validate(); err != nil {
		return err
	}
	if err := c.Credentials.validate(); err != nil {
		return err
	}

	if c.Stats.DB < 0 {
		return fmt.Errorf("stats.db cannot be negative, got %d", c.Stats.DB)
	}
	if c.Stats.TTL.Duration() < 0 {
		return fmt.Errorf("stats.ttl cannot be negative, got %s", c.Stats.TTL.Duration())
	}

	return nil
}

func (c *Config) expand() error {
	fields := []struct {
		path string
		ptr  *string
	}{
		{"api.base_url", &c.API.BaseURL},
		{"target.url", &c.Target.URL},
		{"credentials.dir", &c.Credentials.Dir},
		{"credentials.browser_url", &c.Credentials.BrowserURL},
		{"stats.redis_addr", &c.Stats.RedisAddr},
		{"stats.password", &c.Stats.Password},
	}
	for _, f := range fields {
		expanded, err := expandEnvVars(*f.ptr)
		if err != nil {
			return fmt.Errorf("%s: %w", f.path, err)
		}
		*f.ptr = expanded
	}

	for i, file := range c.Credentials.EnvFiles {
		expanded, err := expandEnvVars(file)
		if err != nil {
			return fmt.Errorf("credentials.env_files[%d]: %w", i, err)
		}
		c.Credentials.EnvFiles[i] = expanded
	}
	return nil
}

func (p PollingConfig) validate() error {
	if p.Cadence != 0 && p.Cadence.Duration() < minCadence {
		return fmt.Errorf("polling.cadence must be at least %s, got %s", minCadence, p.Cadence.Duration())
	}
	if p.MaxConcurrent < 0 {
		return fmt.Errorf("polling.max_concurrent cannot be negative, got %d", p.MaxConcurrent)
	}
	if p.MaxDuration.Duration() < 0 {
		return fmt.Errorf("polling.max_duration cannot be negative, got %s", p.MaxDuration.Duration())
	}

	pauseMin, pauseMax := p.ThrottlePauseMin.Duration(), p.ThrottlePauseMax.Duration()
	if pauseMin < 0 || pauseMax < 0 {
		return errors.New("polling.throttle_pause_min and throttle_pause_max cannot be negative")
	}
	if (pauseMin != 0 || pauseMax != 0) && pauseMax < pauseMin {
		return fmt.Errorf("polling.throttle_pause_max (%s) must not be below throttle_pause_min (%s)", pauseMax, pauseMin)
	}

	if p.ThrottleThreshold < 0 {
		return fmt.Errorf("polling.throttle_threshold cannot be negative, got %d", p.ThrottleThreshold)
	}
	if p.FailureWarningThreshold < 0 {
		return fmt.Errorf("polling.failure_warning_threshold cannot be negative, got %d", p.FailureWarningThreshold)
	}
	if p.DispatchRate < 0 {
		return fmt.Errorf("polling.dispatch_rate cannot be negative, got %g", p.DispatchRate)
	}
	return nil
}

func (t TargetConfig) validate() error {
	if t.IsZero() {
		return nil
	}
	if t.URL != "" {
		if err := validateHTTPURL(t.URL); err != nil {
			return fmt.Errorf("target.url: %w", err)
		}
	} else if t.FacilityID == "" || t.SiteID == "" {
		return errors.New("target: url or both facility_id and site_id are required")
	}
	if t.Nights < 0 {
		return fmt.Errorf("target.nights cannot be negative, got %d", t.Nights)
	}
	if t.Quantity < 0 {
		return fmt.Errorf("target.quantity cannot be negative, got %d", t.Quantity)
	}
	return nil
}

func (c CredentialsConfig) validate() error {
	switch c.Source {
	case SourceEnv, SourceFile:
	case SourceBrowser:
		if c.BrowserURL == "" {
			return errors.New("credentials: source browser requires browser_url")
		}
	default:
		return fmt.Errorf("credentials.source must be env, file or browser, got %q", c.Source)
	}
	if c.Watch && c.Source != SourceFile {
		return errors.New("credentials.watch is only supported for source file")
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url must have a host")
	}
	return nil
}

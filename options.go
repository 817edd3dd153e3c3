package cartrush

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jpalmerr/cartrush/credentials"
	"github.com/jpalmerr/cartrush/internal/poller"
)

// StatsRecorder counts attempt and session outcomes. Implementations must
// not block; see the internal stats package for the Redis recorder the CLI
// wires in.
type StatsRecorder interface {
	RecordAttempt(statusCode int, decision string)
	RecordSession(state, reason string)
}

// engineConfig holds mutable state during Engine construction.
type engineConfig struct {
	poll       poller.Config
	baseURL    string
	httpClient *http.Client
	provider   credentials.Provider
	stats      StatsRecorder
	port       int
	logLimit   int
	logger     *slog.Logger

	statusCallbacks   []func(Status)
	logCallbacks      []func(LogEntry)
	navigateCallbacks []func(sessionID string)
}

// Option is a function that configures an [Engine] during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*engineConfig) error

// WithCadence sets the tick interval of the dispatch loop.
//
// Every tick fills the free in-flight slots. Defaults to 10ms.
//
// Returns an error if the duration is zero or negative.
func WithCadence(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d <= 0 {
			return errors.New("cadence must be positive")
		}
		cfg.poll.Cadence = d
		return nil
	}
}

// WithMaxConcurrent sets the initial bound on in-flight attempts.
//
// The bound shrinks by one each time throttling persists, never below 1.
// Defaults to 100.
//
// Returns an error if the value is zero or negative.
func WithMaxConcurrent(n int) Option {
	return func(cfg *engineConfig) error {
		if n <= 0 {
			return errors.New("max concurrent must be positive")
		}
		cfg.poll.MaxConcurrent = n
		return nil
	}
}

// WithMaxDuration sets how long a session polls before stopping with
// reason [ReasonTimeout]. Defaults to 5 minutes.
//
// Returns an error if the duration is zero or negative.
func WithMaxDuration(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d <= 0 {
			return errors.New("max duration must be positive")
		}
		cfg.poll.MaxDuration = d
		return nil
	}
}

// WithAttemptTimeout bounds each request. A timed-out attempt counts as a
// transport throttle. Defaults to 10 seconds.
//
// Returns an error if the duration is zero or negative.
func WithAttemptTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d <= 0 {
			return errors.New("attempt timeout must be positive")
		}
		cfg.poll.AttemptTimeout = d
		return nil
	}
}

// WithThrottlePause sets the window the pause after a throttled attempt is
// drawn from. Defaults to 1s-2s.
//
// Returns an error if min is negative or max is below min.
func WithThrottlePause(pauseMin, pauseMax time.Duration) Option {
	return func(cfg *engineConfig) error {
		if pauseMin < 0 || pauseMax < pauseMin || pauseMax == 0 {
			return errors.New("throttle pause requires 0 <= min <= max and max > 0")
		}
		cfg.poll.ThrottlePauseMin = pauseMin
		cfg.poll.ThrottlePauseMax = pauseMax
		return nil
	}
}

// WithThrottleThreshold sets how many consecutive throttles of one kind
// shrink the concurrency bound. Defaults to 10.
//
// Returns an error if the value is zero or negative.
func WithThrottleThreshold(n int) Option {
	return func(cfg *engineConfig) error {
		if n <= 0 {
			return errors.New("throttle threshold must be positive")
		}
		cfg.poll.ThrottleThreshold = n
		return nil
	}
}

// WithFailureWarningThreshold sets how many consecutive non-throttle
// failures produce a warning status. Defaults to 20.
//
// Returns an error if the value is zero or negative.
func WithFailureWarningThreshold(n int) Option {
	return func(cfg *engineConfig) error {
		if n <= 0 {
			return errors.New("failure warning threshold must be positive")
		}
		cfg.poll.FailureWarningThreshold = n
		return nil
	}
}

// WithDispatchRate caps attempts per second on top of the in-flight bound.
// burst <= 0 uses the concurrency bound. Disabled by default.
//
// Returns an error if perSecond is negative.
func WithDispatchRate(perSecond float64, burst int) Option {
	return func(cfg *engineConfig) error {
		if perSecond < 0 {
			return errors.New("dispatch rate must not be negative")
		}
		cfg.poll.DispatchRate = perSecond
		cfg.poll.DispatchBurst = burst
		return nil
	}
}

// WithStrictConfirmation requires a confirmed claim to show an added cart
// item that references the target site. By default any growth of the cart
// confirms.
func WithStrictConfirmation(strict bool) Option {
	return func(cfg *engineConfig) error {
		cfg.poll.StrictConfirmation = strict
		return nil
	}
}

// WithBaseURL points the engine at a different cart API, such as a local
// mock.
//
// Returns an error if the URL has no scheme or host.
func WithBaseURL(rawURL string) Option {
	return func(cfg *engineConfig) error {
		u, err := url.Parse(rawURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("base URL must be absolute (http:// or https://)")
		}
		cfg.baseURL = rawURL
		return nil
	}
}

// WithHTTPClient replaces the pooled HTTP client.
//
// Returns an error if the client is nil.
func WithHTTPClient(hc *http.Client) Option {
	return func(cfg *engineConfig) error {
		if hc == nil {
			return errors.New("http client cannot be nil")
		}
		cfg.httpClient = hc
		return nil
	}
}

// WithCredentials sets where session credentials come from. Credentials are
// read fresh at every session start. Defaults to [credentials.Env].
//
// Returns an error if the provider is nil.
func WithCredentials(p credentials.Provider) Option {
	return func(cfg *engineConfig) error {
		if p == nil {
			return errors.New("credential provider cannot be nil")
		}
		cfg.provider = p
		return nil
	}
}

// WithStatsRecorder sets the stats sink. Nil disables stats.
func WithStatsRecorder(r StatsRecorder) Option {
	return func(cfg *engineConfig) error {
		cfg.stats = r
		return nil
	}
}

// WithPort sets the HTTP port used by [Engine.Serve]. Defaults to 8080.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *engineConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithLogLimit sets how many log entries are retained. Defaults to 1000.
//
// Returns an error if the value is zero or negative.
func WithLogLimit(n int) Option {
	return func(cfg *engineConfig) error {
		if n <= 0 {
			return errors.New("log limit must be positive")
		}
		cfg.logLimit = n
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Engine instance.
//
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *engineConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithStatusCallback registers a function called on every status
// transition. Duplicate transitions are suppressed, and nothing follows a
// success.
//
// Callbacks must be non-blocking; they run on the session goroutine. Panics
// are recovered and logged. Nil callbacks are silently ignored.
//
// Do not call [Engine] methods such as StopSession, WaitSession or Status
// directly from a callback: StopSession and WaitSession wait for the session
// goroutine that is running the callback and never return. Start a
// goroutine instead:
//
//	cartrush.WithStatusCallback(func(s cartrush.Status) {
//	    if s.RequestCount > 500 {
//	        go e.StopSession()
//	    }
//	})
//
// Example:
//
//	e, err := cartrush.New(
//	    cartrush.WithStatusCallback(func(s cartrush.Status) {
//	        if s.State == cartrush.StateSuccess {
//	            log.Printf("claimed after %d requests", s.RequestCount)
//	        }
//	    }),
//	)
func WithStatusCallback(cb func(Status)) Option {
	return func(cfg *engineConfig) error {
		if cb == nil {
			return nil // no-op for nil callback (safe to call)
		}
		cfg.statusCallbacks = append(cfg.statusCallbacks, cb)
		return nil
	}
}

// WithLogCallback registers a function called for every log entry. The
// same rules as [WithStatusCallback] apply, including not calling Engine
// methods directly.
func WithLogCallback(cb func(LogEntry)) Option {
	return func(cfg *engineConfig) error {
		if cb == nil {
			return nil
		}
		cfg.logCallbacks = append(cfg.logCallbacks, cb)
		return nil
	}
}

// WithNavigateCallback registers a function called once per session when a
// claim is confirmed, for example to open the cart page. The same rules as
// [WithStatusCallback] apply, including not calling Engine methods directly.
func WithNavigateCallback(cb func(sessionID string)) Option {
	return func(cfg *engineConfig) error {
		if cb == nil {
			return nil
		}
		cfg.navigateCallbacks = append(cfg.navigateCallbacks, cb)
		return nil
	}
}

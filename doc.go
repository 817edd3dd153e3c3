// Package cartrush claims a reservation the moment inventory opens by
// polling the reservation service's add-item endpoint at high concurrency.
//
// An [Engine] runs one acquisition session at a time. Every tick it fills
// the free in-flight slots with add-item attempts, classifies each outcome,
// and reacts: throttled attempts pause and, when throttling persists, shrink
// the concurrency bound; terminal rejections end the session; and a
// candidate success is confirmed by reading the cart before the session is
// reported as won.
//
// # Quick Start
//
//	t, _ := cartrush.ParseTargetURL(bookingURL, "2026-05-17", 2)
//	e, _ := cartrush.New(cartrush.WithCredentials(credentials.Env{}))
//	defer e.Close()
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	if _, err := e.StartSession(ctx, t); err != nil { ... }
//	final, _ := e.WaitSession(ctx)
//
// # Configuration
//
// Engines use the functional options pattern:
//
//	e, err := cartrush.New(
//	    cartrush.WithMaxConcurrent(50),
//	    cartrush.WithMaxDuration(10 * time.Minute),
//	    cartrush.WithThrottlePause(time.Second, 2*time.Second),
//	    cartrush.WithStatusCallback(func(s cartrush.Status) { ... }),
//	)
//
// Credentials come from a [credentials.Provider] and are read fresh at
// every session start, so a session always uses the latest browser login.
//
// # Observing sessions
//
// Status transitions and log lines are delivered to callbacks and kept in an
// in-memory store. [Engine.Serve] exposes the store over HTTP as JSON and a
// Server-Sent Events stream, along with routes to start and stop sessions.
//
// # Architecture
//
//   - internal/classify: pure mapping of an attempt outcome to a reaction
//   - internal/poller: the session scheduler, slot manager, throttle and
//     failure counters, cart confirmation and status reporting
//   - internal/inventory: HTTP client for the add-item and cart endpoints
//   - internal/store: in-memory status and log store with pub/sub
//   - internal/server: REST API and Server-Sent Events
//   - internal/stats: optional Redis counters of attempt outcomes
//   - internal/probe: throttle measurement at fixed or ramped concurrency
//
// The internal packages are not part of the public API and may change
// without notice.
package cartrush

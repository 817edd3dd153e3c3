package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/cartrush"
	"github.com/jpalmerr/cartrush/credentials"
	"github.com/jpalmerr/cartrush/example/mockapi"
)

func main() {
	// start mock cart API that opens inventory in 5 seconds
	mock := mockapi.New(time.Now().Add(5*time.Second), nil)
	go func() {
		if err := http.ListenAndServe(":9999", mock.Handler()); err != nil {
			slog.Error("mock server error", "error", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	target, err := cartrush.ParseTargetURL(
		"https://www.reserveamerica.com/explore/glen-island-lake-george-is/NY/140/245719/campsite-booking?arrivalDate=2026-05-17&lengthOfStay=2",
		"", 0,
	)
	if err != nil {
		slog.Error("failed to parse target", "error", err)
		os.Exit(1)
	}

	e, err := cartrush.New(
		cartrush.WithBaseURL("http://localhost:9999/cart"),
		cartrush.WithCredentials(credentials.Static{IDToken: "demo-token", A1Data: "%7B%7D"}),
		cartrush.WithMaxConcurrent(20),
		cartrush.WithMaxDuration(time.Minute),
		cartrush.WithStrictConfirmation(true),
		cartrush.WithPort(8080),
		cartrush.WithStatusCallback(func(s cartrush.Status) {
			fmt.Printf("  %-8s #%-5d %s\n", s.State, s.RequestCount, s.LastMessage)
		}),
	)
	if err != nil {
		slog.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  cartrush demo")
	fmt.Println("  mock inventory opens in 5s; status at http://localhost:8080/api/status")
	fmt.Println("  press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// serve the observer API alongside the session
	go func() {
		if err := e.Serve(ctx); err != nil {
			slog.Error("observer API error", "error", err)
		}
	}()

	if _, err := e.StartSession(ctx, target); err != nil {
		slog.Error("failed to start session", "error", err)
		os.Exit(1)
	}
	final, err := e.WaitSession(context.Background())
	if err != nil {
		slog.Error("wait failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("\n  finished: %s after %d requests (%s)\n", final.State, final.RequestCount, final.Reason)
	stop()
	e.Close()
}

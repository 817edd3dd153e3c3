// Standalone mock cart API for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/cartrush run -c example/config.yaml
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jpalmerr/cartrush/example/mockapi"
)

const opensAfter = 15 * time.Second

func main() {
	opensAt := time.Now().Add(opensAfter)

	fmt.Println("Mock cart API starting on :9999")
	fmt.Printf("Inventory opens at %s; add-item is throttled until then\n", opensAt.Format(time.TimeOnly))
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	mock := mockapi.New(opensAt, slog.Default())
	if err := http.ListenAndServe(":9999", mock.Handler()); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

package cartrush

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jpalmerr/cartrush/credentials"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testCreds = credentials.Static{IDToken: "token-1", A1Data: "%7B%22k%22%3A1%7D"}

// mockAPI is a minimal cart service. handle decides each add-item response;
// a 200 from handle adds an item to the cart unless noClaim is set.
type mockAPI struct {
	*httptest.Server

	mu         sync.Mutex
	handle     func(n int) (int, string)
	noClaim    bool
	cartStatus int
	items      int
	addCalls   int
	cartCalls  int
	lastA1Data string
	lastBody   string
}

type mockOption func(*mockAPI)

// withItems sets the initial cart size.
func withItems(n int) mockOption {
	return func(m *mockAPI) { m.items = n }
}

// withCartStatus makes every cart read fail with status.
func withCartStatus(status int) mockOption {
	return func(m *mockAPI) { m.cartStatus = status }
}

// withoutClaim keeps the cart unchanged on a 200 add-item.
func withoutClaim() mockOption {
	return func(m *mockAPI) { m.noClaim = true }
}

func newMockAPI(t *testing.T, handle func(n int) (int, string), opts ...mockOption) *mockAPI {
	t.Helper()
	m := &mockAPI{handle: handle}
	for _, opt := range opts {
		opt(m)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /cart/additem", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		m.mu.Lock()
		m.addCalls++
		n := m.addCalls
		m.lastA1Data = r.Header.Get("a1data")
		m.lastBody = string(body)
		m.mu.Unlock()

		status, resp := m.handle(n)
		if status == http.StatusOK {
			m.mu.Lock()
			if !m.noClaim {
				m.items++
			}
			m.mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	})
	mux.HandleFunc("GET /cart", func(w http.ResponseWriter, r *http.Request) {
		if m.cartStatus != 0 {
			w.WriteHeader(m.cartStatus)
			return
		}
		if r.Header.Get("authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		m.mu.Lock()
		m.cartCalls++
		items := m.items
		m.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"itemsCount":  items,
			"lastChanges": map[string]any{"addedItems": []any{}},
		})
	})
	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

func (m *mockAPI) baseURL() string {
	return m.URL + "/cart"
}

func (m *mockAPI) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addCalls
}

func testTarget(t *testing.T) Target {
	t.Helper()
	tg, err := NewTarget("140", "245719", "2026-05-17", 2)
	if err != nil {
		t.Fatalf("NewTarget() error = %v", err)
	}
	return tg
}

// testEngine builds an engine with fast timings pointed at api.
func testEngine(t *testing.T, api *mockAPI, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithBaseURL(api.baseURL()),
		WithCredentials(testCreds),
		WithCadence(5 * time.Millisecond),
		WithMaxConcurrent(2),
		WithThrottlePause(time.Millisecond, 2*time.Millisecond),
		WithAttemptTimeout(time.Second),
		WithLogger(testLogger()),
	}
	e, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

// freePort returns a port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	return ln.Addr().(*net.TCPAddr).Port
}

func apiURL(port int, path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
}

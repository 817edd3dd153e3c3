// Package mockapi is a stand-in for the reservation cart API, for demos and
// manual testing of the CLI.
//
// Until the opening instant every add-item call is answered with a mix of
// 429 and 503. The first call after it claims the site (HTTP 200, the cart
// grows by one); later calls see the site as already taken.
package mockapi

import (
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"
)

// Server holds the mock's state.
type Server struct {
	opensAt time.Time
	logger  *slog.Logger

	mu      sync.Mutex
	claimed bool
	items   []map[string]any
	calls   int
}

// New returns a mock that opens inventory at opensAt.
func New(opensAt time.Time, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{opensAt: opensAt, logger: logger}
}

// Handler serves GET /cart and POST /cart/additem.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /cart", s.cart)
	mux.HandleFunc("POST /cart/additem", s.addItem)
	return mux
}

func (s *Server) cart(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("authorization") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "missing token"})
		return
	}

	s.mu.Lock()
	added := []map[string]any{}
	if s.claimed {
		added = append(added, s.items[len(s.items)-1])
	}
	body := map[string]any{
		"itemsCount":  len(s.items),
		"lastChanges": map[string]any{"addedItems": added},
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) addItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SiteID string `json:"siteID"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	// simulate latency of a loaded service
	time.Sleep(time.Duration(20+rand.IntN(80)) * time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	switch {
	case time.Now().Before(s.opensAt):
		if rand.IntN(3) == 0 {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"message": "Too Many Requests"})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"message": "Service busy, try again"})
	case !s.claimed:
		s.claimed = true
		s.items = append(s.items, map[string]any{"siteID": req.SiteID, "addedAt": time.Now().Format(time.RFC3339)})
		s.logger.Info("site claimed", "site", req.SiteID, "calls", s.calls)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		writeJSON(w, http.StatusExpectationFailed, map[string]any{
			"faults": []map[string]string{{
				"msgKey":         "inventory.exception",
				"defaultMessage": "One or more of the Dates not available.",
			}},
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

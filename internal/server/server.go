package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jpalmerr/cartrush/internal/store"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// This prevents goroutine leaks when clients are slow or disconnected.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	maxRequestBody = 64 << 10
)

// Sentinel errors a [Controller] wraps to select the response status.
var (
	ErrInvalid  = errors.New("invalid request")
	ErrConflict = errors.New("conflict")
	ErrNotFound = errors.New("not found")
	ErrNoAuth   = errors.New("missing credentials")
	ErrUpstream = errors.New("upstream failure")
)

// SessionRequest describes the item a session or probe targets. Either URL
// or the explicit identifiers must be set.
type SessionRequest struct {
	URL          string `json:"url,omitempty"`
	ContractCode string `json:"contract_code,omitempty"`
	FacilityID   string `json:"facility_id,omitempty"`
	SiteID       string `json:"site_id,omitempty"`
	ArrivalDate  string `json:"arrival_date"`
	Nights       int    `json:"nights"`
}

// AuthResult is the outcome of a credential check against the holdings endpoint.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// ProbeResult is the outcome of a single add-item request.
type ProbeResult struct {
	Status        int             `json:"status"`
	ServerMessage string          `json:"server_message,omitempty"`
	Body          json.RawMessage `json:"body,omitempty"`
	LatencyMs     int64           `json:"latency_ms"`
	Error         string          `json:"error,omitempty"`
}

// Controller performs the mutating operations behind the API.
type Controller interface {
	StartSession(ctx context.Context, req SessionRequest) (store.Status, error)
	StopSession() (store.Status, error)
	Cart(ctx context.Context) (json.RawMessage, error)
	ProbeAuth(ctx context.Context) AuthResult
	ProbeAddItem(ctx context.Context, req SessionRequest) (ProbeResult, error)
}

// Server handles HTTP requests for the observer API.
//
// Read-only routes are served from the [store.Store]:
//   - GET /api/status: Latest status as JSON
//   - GET /api/sse: Server-Sent Events stream of status and log events
//   - GET /api/logs: Retained log entries, oldest first (?limit=n)
//   - DELETE /api/logs: Clear the log
//
// When a [Controller] is configured the session routes are mounted too:
//   - POST /api/session, DELETE /api/session
//   - GET /api/cart, GET /api/auth/probe, POST /api/probe
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	store      store.Store
	controller Controller
	port       int
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new HTTP [Server]. ctl may be nil.
//
// The server is not started until [Server.Start] is called.
func NewServer(st store.Store, ctl Controller, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:      st,
		controller: ctl,
		port:       port,
		logger:     logger,
	}
}

// Handler returns the routed handler without binding a listener.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/sse", s.handleSSE)
		r.Get("/logs", s.handleLogs)
		r.Delete("/logs", s.handleClearLogs)

		if s.controller != nil {
			r.Post("/session", s.handleStartSession)
			r.Delete("/session", s.handleStopSession)
			r.Get("/cart", s.handleCart)
			r.Get("/auth/probe", s.handleAuthProbe)
			r.Post("/probe", s.handleProbe)
		}
	})
	return r
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, all request contexts are also cancelled,
		// enabling graceful shutdown of long-running handlers like SSE.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	s.logger.Info("api listening", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Status())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, fmt.Errorf("%w: limit must be a non-negative integer", ErrInvalid))
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, s.store.Logs(limit))
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	s.store.ClearLogs()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	status, err := s.controller.StartSession(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, status)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	status, err := s.controller.StopSession()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	cart, err := s.controller.Cart(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(cart); err != nil {
		s.logger.Error("failed to write cart response", "error", err)
	}
}

func (s *Server) handleAuthProbe(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.controller.ProbeAuth(r.Context()))
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.controller.ProbeAddItem(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleSSE streams status and log events via Server-Sent Events.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked Fprintf call would prevent
// the handler from detecting context cancellation or channel closure.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	// check if flushing is supported
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	writeAndFlush := func(event store.EventType, data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				// deadline not supported by underlying connection, continue without
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}

		// ResponseController.Flush respects the write deadline
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	// initial status so a new client renders without waiting for a change
	if data, err := json.Marshal(s.store.Status()); err == nil {
		if err := writeAndFlush(store.EventStatus, data); err != nil {
			return
		}
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			var payload any = ev.Status
			if ev.Type == store.EventLog {
				payload = ev.Log
			}
			data, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			if err := writeAndFlush(ev.Type, data); err != nil {
				return
			}

		case <-r.Context().Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, fmt.Errorf("%w: %w", ErrInvalid, err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("api request failed", "error", err)
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

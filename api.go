package cartrush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jpalmerr/cartrush/internal/server"
	"github.com/jpalmerr/cartrush/internal/store"
)

// apiController exposes an Engine to the HTTP API. Sessions run under the
// serve context rather than the request context.
type apiController struct {
	engine *Engine
	ctx    context.Context
}

func (a *apiController) StartSession(_ context.Context, req server.SessionRequest) (store.Status, error) {
	t, err := targetFromRequest(req)
	if err != nil {
		return store.Status{}, apiError(err)
	}
	st, err := a.engine.StartSession(a.ctx, t)
	if err != nil {
		return store.Status{}, apiError(err)
	}
	return st.toStore(), nil
}

func (a *apiController) StopSession() (store.Status, error) {
	st, err := a.engine.StopSession()
	if err != nil {
		return store.Status{}, apiError(err)
	}
	return st.toStore(), nil
}

func (a *apiController) Cart(ctx context.Context) (json.RawMessage, error) {
	cart, err := a.engine.Cart(ctx)
	if err != nil {
		if errors.Is(err, ErrMissingCredentials) {
			return nil, apiError(err)
		}
		return nil, fmt.Errorf("%w: %w", server.ErrUpstream, err)
	}
	return cart.Raw, nil
}

func (a *apiController) ProbeAuth(ctx context.Context) server.AuthResult {
	r := a.engine.ProbeAuth(ctx)
	return server.AuthResult{OK: r.OK, Status: r.Status, Reason: r.Reason}
}

func (a *apiController) ProbeAddItem(ctx context.Context, req server.SessionRequest) (server.ProbeResult, error) {
	t, err := targetFromRequest(req)
	if err != nil {
		return server.ProbeResult{}, apiError(err)
	}
	r, err := a.engine.ProbeAddItem(ctx, t)
	if err != nil {
		return server.ProbeResult{}, apiError(err)
	}
	out := server.ProbeResult{
		Status:        r.Status,
		ServerMessage: r.ServerMessage,
		Body:          r.Body,
		LatencyMs:     r.Latency.Milliseconds(),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out, nil
}

func targetFromRequest(req server.SessionRequest) (Target, error) {
	var opts []TargetOption
	if req.ContractCode != "" {
		opts = append(opts, WithContractCode(req.ContractCode))
	}
	if req.URL != "" {
		return ParseTargetURL(req.URL, req.ArrivalDate, req.Nights, opts...)
	}
	return NewTarget(req.FacilityID, req.SiteID, req.ArrivalDate, req.Nights, opts...)
}

// apiError tags engine errors with the server sentinel that selects the
// response status.
func apiError(err error) error {
	switch {
	case errors.Is(err, ErrAlreadyPolling):
		return fmt.Errorf("%w: %w", server.ErrConflict, err)
	case errors.Is(err, ErrNoSession):
		return fmt.Errorf("%w: %w", server.ErrNotFound, err)
	case errors.Is(err, ErrMissingCredentials):
		return fmt.Errorf("%w: %w", server.ErrNoAuth, err)
	case errors.Is(err, ErrInvalidTarget):
		return fmt.Errorf("%w: %w", server.ErrInvalid, err)
	default:
		return err
	}
}

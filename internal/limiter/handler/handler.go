// Package handler exposes the admin surface for inspecting and resetting
// limiter state at runtime.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"quell/internal/limiter/models"
	dErrors "quell/pkg/domain-errors"
	"quell/pkg/httputil"
)

// Target is a limiter the admin surface can manage. Concrete limiters are
// wrapped by small adapters in the composition root.
type Target interface {
	Kind() models.LimiterKind
	Limit() int
	Reset(ctx context.Context, key string)
	Snapshot(ctx context.Context, key string) (Snapshot, bool)
}

// Snapshot is the admin view of a single key's state. Count is populated
// for sliding windows, Tokens for token buckets.
type Snapshot struct {
	Count     int     `json:"count,omitempty"`
	Tokens    float64 `json:"tokens,omitempty"`
	Remaining int     `json:"remaining"`
}

// ResetRequest asks for a single key's state to be discarded.
type ResetRequest struct {
	Limiter string `json:"limiter"`
	Key     string `json:"key"`
}

// LimiterInfo describes one registered limiter instance.
type LimiterInfo struct {
	Name     string `json:"name"`
	Strategy string `json:"strategy"`
	Limit    int    `json:"limit"`
}

// KeyStateResponse is the body returned by the peek endpoint.
type KeyStateResponse struct {
	Limiter  string `json:"limiter"`
	Strategy string `json:"strategy"`
	Key      string `json:"key"`
	Limit    int    `json:"limit"`
	Snapshot
}

// Handler routes admin operations to limiter instances by name. Several
// instances may share a strategy (one token bucket per tier), so the
// registry is keyed by instance name rather than kind.
type Handler struct {
	targets map[string]Target
	logger  *slog.Logger
}

func New(logger *slog.Logger) *Handler {
	return &Handler{
		targets: make(map[string]Target),
		logger:  logger,
	}
}

// Add registers a limiter instance under a unique name.
func (h *Handler) Add(name string, t Target) {
	h.targets[name] = t
}

func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/admin/rate-limit/limiters", h.HandleListLimiters)
	r.Get("/admin/rate-limit/limiters/{limiter}/key", h.HandleGetKeyState)
	r.Post("/admin/rate-limit/reset", h.HandleReset)
}

// HandleListLimiters implements GET /admin/rate-limit/limiters.
// Output: [{ "name": "anonymous", "strategy": "sliding_window", "limit": 60 }, ...]
func (h *Handler) HandleListLimiters(w http.ResponseWriter, r *http.Request) {
	infos := make([]LimiterInfo, 0, len(h.targets))
	for name, t := range h.targets {
		infos = append(infos, LimiterInfo{Name: name, Strategy: string(t.Kind()), Limit: t.Limit()})
	}
	httputil.WriteJSON(w, http.StatusOK, infos)
}

// HandleGetKeyState implements GET /admin/rate-limit/limiters/{limiter}/key?key=...
// Limiter keys contain colons, so the key travels as a query parameter.
func (h *Handler) HandleGetKeyState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	name := chi.URLParam(r, "limiter")
	target, ok := h.targets[name]
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "Unknown limiter"))
		return
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "Missing required query parameter: key"))
		return
	}

	snap, found := target.Snapshot(ctx, key)
	if !found {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "No state tracked for key"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, &KeyStateResponse{
		Limiter:  name,
		Strategy: string(target.Kind()),
		Key:      key,
		Limit:    target.Limit(),
		Snapshot: snap,
	})
}

// HandleReset implements POST /admin/rate-limit/reset.
//
// Input: { "limiter": "anonymous", "key": "ip:203.0.113.9:auth" }
// Output: 204 No Content
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Limit request body size to prevent DoS via large payloads
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024) // 64KB max

	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode rate limit reset request", "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "Invalid JSON in request body"))
		return
	}

	target, ok := h.targets[req.Limiter]
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "Unknown limiter"))
		return
	}
	if req.Key == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "Missing required field: key"))
		return
	}

	target.Reset(ctx, req.Key)
	h.logger.InfoContext(ctx, "rate_limit_key_reset",
		"limiter", req.Limiter,
		"key", req.Key,
		"log_type", "audit",
	)
	w.WriteHeader(http.StatusNoContent)
}

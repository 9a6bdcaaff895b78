package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ozturkozgurm/overorunder/internal/content"
	"github.com/ozturkozgurm/overorunder/internal/engine"
	"github.com/ozturkozgurm/overorunder/internal/entitlement"
	"github.com/ozturkozgurm/overorunder/internal/signal"
	"github.com/ozturkozgurm/overorunder/internal/websocket"
)

// Router handles HTTP routing
type Router struct {
	mux    *http.ServeMux
	engine *engine.Engine
	wsHub  *websocket.Hub
}

// NewRouter creates a new router instance
func NewRouter(e *engine.Engine, wsHub *websocket.Hub) http.Handler {
	r := &Router{
		mux:    http.NewServeMux(),
		engine: e,
		wsHub:  wsHub,
	}
	r.setupRoutes()
	return ErrorHandler(r.mux)
}

// setupRoutes configures all routes
func (r *Router) setupRoutes() {
	r.mux.HandleFunc("/api/feed", r.handleFeed)
	r.mux.HandleFunc("/api/access", r.handleAccess)
	r.mux.HandleFunc("/api/plans", r.handlePlans)
	r.mux.HandleFunc("/api/purchase", r.handlePurchase)
	r.mux.HandleFunc("/api/push", r.handlePush)
	r.mux.HandleFunc("/api/signals/", r.handleSignals)
	r.mux.HandleFunc("/api/unlocks", r.handleUnlocks)

	if r.wsHub != nil {
		r.mux.HandleFunc("/ws", r.wsHub.HandleWebSocket)
	}

	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/healthz", r.handleHealth)
}

// handleFeed returns the assembled feed for the requested date. The date
// query parameter uses the dd.MM.yyyy content key; it defaults to today.
func (r *Router) handleFeed(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}

	dateKey := strings.TrimSpace(req.URL.Query().Get("date"))
	if dateKey == "" {
		dateKey = time.Now().Format(content.DateKeyFormat)
	} else if _, err := time.Parse(content.DateKeyFormat, dateKey); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "bad_date", "Date must use the dd.MM.yyyy format")
		return
	}

	state, err := r.engine.Feed(req.Context(), dateKey)
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "engine_unavailable", "Feed unavailable")
		return
	}
	writeJSONResponse(w, http.StatusOK, state)
}

func (r *Router) handleAccess(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}

	decision, err := r.engine.Access(req.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "engine_unavailable", "Access state unavailable")
		return
	}
	writeJSONResponse(w, http.StatusOK, decision)
}

func (r *Router) handlePlans(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}

	plans, err := r.engine.Plans(req.Context())
	if err != nil {
		if errors.Is(err, entitlement.ErrBillingUnavailable) {
			writeErrorResponse(w, http.StatusBadGateway, "billing_unavailable", "Billing service unavailable")
			return
		}
		writeErrorResponse(w, http.StatusServiceUnavailable, "engine_unavailable", "Plans unavailable")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"plans": plans})
}

func (r *Router) handlePurchase(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}

	var body struct {
		PlanID string `json:"planId"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}
	if strings.TrimSpace(body.PlanID) == "" {
		writeErrorResponse(w, http.StatusBadRequest, "missing_plan", "planId is required")
		return
	}

	outcome, err := r.engine.Purchase(req.Context(), body.PlanID)
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "engine_unavailable", "Purchase unavailable")
		return
	}

	switch outcome.Kind {
	case entitlement.OutcomeConfirmed, entitlement.OutcomeCancelled, entitlement.OutcomePending:
		writeJSONResponse(w, http.StatusOK, outcome)
	case entitlement.OutcomeFailed:
		status := http.StatusBadGateway
		code := "purchase_failed"
		switch {
		case errors.Is(outcome.Err, entitlement.ErrUnknownPlan):
			status, code = http.StatusNotFound, "unknown_plan"
		case errors.Is(outcome.Err, entitlement.ErrVerification):
			status, code = http.StatusUnprocessableEntity, "verification_failed"
		case errors.Is(outcome.Err, entitlement.ErrSettleTimeout):
			status, code = http.StatusGatewayTimeout, "settle_timeout"
		}
		writeErrorResponse(w, status, code, "Purchase did not complete")
	default:
		writeErrorResponse(w, http.StatusInternalServerError, "internal_error", "Unknown purchase outcome")
	}
}

// handlePush is the delivery boundary for live signals. Malformed payloads
// are acknowledged with 400 after the pipeline has logged and counted them.
func (r *Router) handlePush(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}

	var payload signal.Payload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid push payload")
		return
	}

	deferred := req.URL.Query().Get("deferred") == "true"
	if deferred {
		if err := r.engine.StorePending(req.Context(), payload); err != nil {
			writeErrorResponse(w, http.StatusServiceUnavailable, "engine_unavailable", "Could not store signal")
			return
		}
		writeJSONResponse(w, http.StatusAccepted, map[string]bool{"stored": true})
		return
	}

	inserted, err := r.engine.Ingest(req.Context(), payload)
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "engine_unavailable", "Could not ingest signal")
		return
	}
	if !inserted && !payload.Valid() {
		writeErrorResponse(w, http.StatusBadRequest, "malformed_signal", "Payload is missing required fields")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"inserted": inserted})
}

// handleSignals serves POST /api/signals/{id}/dismiss.
func (r *Router) handleSignals(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}

	rest := strings.TrimPrefix(req.URL.Path, "/api/signals/")
	id, action, found := strings.Cut(rest, "/")
	if !found || action != "dismiss" || id == "" {
		writeErrorResponse(w, http.StatusNotFound, "not_found", "Not found")
		return
	}

	removed, err := r.engine.Dismiss(req.Context(), id)
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "engine_unavailable", "Could not dismiss signal")
		return
	}
	if !removed {
		writeErrorResponse(w, http.StatusNotFound, "unknown_signal", "No live signal with that id")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"removed": true})
}

// handleUnlocks grants a permanent unlock that survives day rollovers.
func (r *Router) handleUnlocks(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}
	if strings.TrimSpace(body.ID) == "" {
		writeErrorResponse(w, http.StatusBadRequest, "missing_id", "id is required")
		return
	}

	if err := r.engine.GrantUnlock(req.Context(), body.ID); err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "engine_unavailable", "Could not grant unlock")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"granted": true})
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

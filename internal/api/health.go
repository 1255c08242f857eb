package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/finquery/finquery/internal/cache"
	"github.com/finquery/finquery/internal/market"
	"github.com/finquery/finquery/internal/session"
)

// HealthResponse is the /api/health body.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// MCPHealthResponse reports market data gateway connectivity.
type MCPHealthResponse struct {
	Status       string `json:"status"`
	MCPServerURL string `json:"mcp_server_url"`
	Connected    bool   `json:"connected"`
	Message      string `json:"message"`
}

// AIHealthResponse reports AI agent availability. Status is healthy,
// degraded or unavailable; LastError keeps the most recent failure even
// after recovery.
type AIHealthResponse struct {
	Status        string `json:"status"`
	Available     bool   `json:"available"`
	PrimaryModel  string `json:"primary_model"`
	FallbackModel string `json:"fallback_model"`
	Message       string `json:"message"`
	LastError     string `json:"last_error,omitempty"`
}

type healthHandler struct {
	version   string
	market    HealthProber
	marketURL string
	agent     AgentHealth
	sessions  *session.Store
	cache     *cache.Store
}

func (h *healthHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.apiHealth)
	mux.HandleFunc("GET /api/mcp-health", h.mcpHealth)
	mux.HandleFunc("GET /api/ai-health", h.aiHealth)
}

// registerProbes registers the orchestrator probes, served outside the
// middleware stack.
func (h *healthHandler) registerProbes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.liveness)
	mux.HandleFunc("GET /ready", h.readiness)
}

func (h *healthHandler) apiHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   h.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *healthHandler) mcpHealth(w http.ResponseWriter, r *http.Request) {
	resp := MCPHealthResponse{MCPServerURL: h.marketURL}

	if h.market == nil {
		resp.Status = "disconnected"
		resp.Message = "Market data client is not configured"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	err := h.market.Health(r.Context())
	resp.Connected = err == nil
	resp.Message = mcpHealthMessage(err)
	if resp.Connected {
		resp.Status = "connected"
	} else {
		resp.Status = "disconnected"
	}
	writeJSON(w, http.StatusOK, resp)
}

func mcpHealthMessage(err error) string {
	var upstream *market.UpstreamError
	switch {
	case err == nil:
		return "MCP server is healthy"
	case errors.As(err, &upstream):
		return fmt.Sprintf("MCP server returned status %d", upstream.Code)
	case errors.Is(err, context.DeadlineExceeded):
		return "Connection to MCP server timed out"
	case errors.Is(err, market.ErrUnreachable):
		return "Failed to connect to MCP server"
	default:
		return "Error checking MCP server: " + err.Error()
	}
}

func (h *healthHandler) aiHealth(w http.ResponseWriter, _ *http.Request) {
	if h.agent == nil {
		writeJSON(w, http.StatusOK, AIHealthResponse{
			Status:  "unavailable",
			Message: "AI agent is not enabled",
		})
		return
	}

	info := h.agent.HealthInfo()
	resp := AIHealthResponse{
		Available:     info.Available,
		PrimaryModel:  info.PrimaryModel,
		FallbackModel: info.FallbackModel,
		LastError:     info.LastError,
	}
	switch {
	case !info.Available:
		resp.Status = "unavailable"
		resp.Message = "AI agent is unavailable after repeated failures"
	case info.CircuitState != "closed":
		resp.Status = "degraded"
		resp.Message = "AI agent is recovering from recent failures"
	default:
		resp.Status = "healthy"
		resp.Message = "AI agent is ready"
	}
	writeJSON(w, http.StatusOK, resp)
}

// liveness answers as long as the process runs.
func (h *healthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readyResponse struct {
	Status   string       `json:"status"`
	Sessions int          `json:"sessions"`
	Cache    *cache.Stats `json:"cache,omitempty"`
}

// readiness reports the in-memory stores' sizes. The service keeps serving
// through upstream outages, so readiness never depends on the gateway.
func (h *healthHandler) readiness(w http.ResponseWriter, _ *http.Request) {
	resp := readyResponse{Status: "ready", Sessions: h.sessions.Len()}
	if h.cache != nil {
		stats := h.cache.Stats()
		resp.Cache = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

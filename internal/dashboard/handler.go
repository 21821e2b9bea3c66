package dashboard

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kestrelmcp/kestrel/internal/auth"
	"github.com/kestrelmcp/kestrel/pkg/mcprt"
)

// bodySource is the subset of *mcprt.Dispatcher the handler depends on, kept
// narrow so tests can supply a fake without a live registry.
type bodySource interface {
	DashboardBody(ctx context.Context, persona, name string) (string, error)
}

// Handler serves the URLs create_dashboard/dispatch hand out:
// GET /dashboard/{tool_name}. It never talks to the artifact store directly,
// only through the Dispatcher's DashboardBody, so the served body always
// passes through the same kind check dispatch does.
type Handler struct {
	Source  bodySource
	Auth    *auth.Auth
	Persona string
}

func NewHandler(source bodySource, a *auth.Auth) *Handler {
	return &Handler{Source: source, Auth: a, Persona: mcprt.DefaultPersona}
}

func (h *Handler) Mount(mux *http.ServeMux, rl *RateLimiter) {
	mux.HandleFunc("/dashboard/", RateLimitMiddleware(rl, h.serveDashboard))
}

func (h *Handler) serveDashboard(w http.ResponseWriter, r *http.Request) {
	persona := h.Persona
	if h.Auth != nil {
		claims := h.Auth.ExtractClaims(r)
		if claims == nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if claims.Persona != "" {
			persona = claims.Persona
		}
	}

	name := strings.TrimPrefix(r.URL.Path, "/dashboard/")
	if name == "" {
		http.NotFound(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	body, err := h.Source.DashboardBody(ctx, persona, name)
	if err != nil {
		slog.Warn("serving dashboard", "tool", name, "error", err)
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(body))
}

// NewServer builds the dashboard's own http.Server, wrapped in the security
// and no-cache middleware, listening independently of the MCP transport on
// a second listener when dashboard_enabled is set.
func NewServer(addr string, h *Handler) *http.Server {
	mux := http.NewServeMux()
	h.Mount(mux, NewRateLimiter(60, time.Minute))
	return &http.Server{
		Addr:    addr,
		Handler: SecurityHeaders(NoCacheStatic(mux)),
	}
}

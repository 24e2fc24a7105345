package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rjsadow/passage/internal/authn"
	"github.com/rjsadow/passage/internal/db"
)

// handlers binds HTTP handler methods to an App's dependencies.
type handlers struct {
	app *App
}

// pinger is implemented by state stores backed by a remote service.
type pinger interface {
	Ping(ctx context.Context) error
}

const maxActivityLimit = 100

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ready := true
	checks := make(map[string]any)

	if err := h.app.DB.Ping(r.Context()); err != nil {
		ready = false
		checks["database"] = map[string]string{"status": "unhealthy", "error": err.Error()}
	} else {
		checks["database"] = map[string]string{"status": "healthy"}
	}

	if p, ok := h.app.States.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			ready = false
			checks["state_store"] = map[string]string{"status": "unhealthy", "error": err.Error()}
		} else {
			checks["state_store"] = map[string]string{"status": "healthy"}
		}
	}

	if h.app.Plugins != nil {
		statuses := h.app.Plugins.HealthCheck(r.Context())
		for _, ps := range statuses {
			if !ps.Healthy {
				ready = false
			}
		}
		checks["providers"] = statuses
	}

	status := http.StatusOK
	checks["status"] = "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		checks["status"] = "not_ready"
	}
	writeJSON(w, status, checks)
}

// handleMe returns the caller's session.
func (h *handlers) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, authn.SessionFromContext(r.Context()))
}

// handleMyActivity returns the caller's recent audit entries, newest first.
func (h *handlers) handleMyActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	session := authn.SessionFromContext(r.Context())

	filter := db.AuditLogFilter{UserID: session.User.ID, Limit: 20}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = min(n, maxActivityLimit)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid offset", http.StatusBadRequest)
			return
		}
		filter.Offset = n
	}

	page, err := h.app.DB.QueryAuditLogs(r.Context(), filter)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to query audit logs", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

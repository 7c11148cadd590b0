package handlers

import (
	"net/http"
	"strconv"

	"github.com/isdelr/owasp-lab-be/internal/api/respond"
	"github.com/isdelr/owasp-lab-be/internal/monitoring"
	"github.com/isdelr/owasp-lab-be/internal/services"
	"github.com/rs/zerolog/log"
)

// AdminHandler serves the admin-only routes.
type AdminHandler struct {
	users services.UserServiceProvider
	audit services.AuditServiceProvider
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(users services.UserServiceProvider, audit services.AuditServiceProvider) *AdminHandler {
	return &AdminHandler{users: users, audit: audit}
}

// ListUsers returns every identity without password hashes.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.OK(w, http.StatusOK, respond.Envelope{Data: users})
}

// RecentAudit returns the latest audit entries. ?limit= caps the count.
func (h *AdminHandler) RecentAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.audit.Recent(r.Context(), limit)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.OK(w, http.StatusOK, respond.Envelope{Data: entries})
}

// System returns host diagnostics.
func (h *AdminHandler) System(w http.ResponseWriter, r *http.Request) {
	info, err := monitoring.CollectSystemInfo(r.Context())
	if err != nil {
		// Partial data is still useful.
		log.Warn().Err(err).Msg("Failed to collect some host statistics")
	}
	respond.OK(w, http.StatusOK, respond.Envelope{Data: info})
}

package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/isdelr/owasp-lab-be/internal/api/respond"
	"github.com/isdelr/owasp-lab-be/internal/csrf"
	"github.com/isdelr/owasp-lab-be/internal/gate"
	"github.com/isdelr/owasp-lab-be/internal/services"
)

// CSRFHandler serves the anti-forgery token endpoint and the state-changing
// demo actions. Whether the actions are protected is decided by the gate
// route they are mounted behind; protected only changes the annotations.
type CSRFHandler struct {
	manager       *csrf.Manager
	users         services.UserServiceProvider
	protected     bool
	sessionTTL    time.Duration
	secureCookies bool
}

// NewCSRFHandler creates a new CSRFHandler.
func NewCSRFHandler(manager *csrf.Manager, users services.UserServiceProvider, protected bool, sessionTTL time.Duration, secureCookies bool) *CSRFHandler {
	return &CSRFHandler{manager: manager, users: users, protected: protected, sessionTTL: sessionTTL, secureCookies: secureCookies}
}

func (h *CSRFHandler) ok(w http.ResponseWriter, message, unprotectedWarning string) {
	env := respond.Envelope{Message: message}
	if h.protected {
		env.Note = "This endpoint is protected with CSRF token"
	} else {
		env.Warning = unprotectedWarning
	}
	respond.OK(w, http.StatusOK, env)
}

func (h *CSRFHandler) fail(w http.ResponseWriter, err error) {
	if h.protected {
		respond.Error(w, err)
		return
	}
	leak(w, err, "")
}

// Token issues an anti-forgery token bound to the caller's session cookie,
// reusing the cookie only when the server issued it.
func (h *CSRFHandler) Token(w http.ResponseWriter, r *http.Request) {
	var presented string
	if c, err := r.Cookie(gate.SessionCookie); err == nil {
		presented = c.Value
	}

	sid, err := h.manager.ResolveSessionID(r.Context(), presented, csrf.AdoptServerIssued)
	if err != nil {
		respond.Error(w, err)
		return
	}
	token, sid, err := h.manager.IssueToken(r.Context(), sid)
	if err != nil {
		respond.Error(w, err)
		return
	}

	setCookie(w, gate.SessionCookie, sid, h.sessionTTL, h.secureCookies, cookieMode(!h.protected))
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"csrfToken": token,
	})
}

type transferPayload struct {
	ToUser string  `json:"toUser" validate:"required"`
	Amount float64 `json:"amount" validate:"gt=0"`
}

// TransferMoney simulates a funds transfer from the caller.
func (h *CSRFHandler) TransferMoney(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	var payload transferPayload
	if err := decode(r, &payload, "Missing parameters"); err != nil {
		respond.Error(w, err)
		return
	}

	h.ok(w, fmt.Sprintf("Transferred $%v from %s to %s", payload.Amount, id.Username, payload.ToUser),
		"This endpoint has no CSRF protection!")
}

type changeEmailPayload struct {
	NewEmail string `json:"newEmail" validate:"required,email"`
}

// ChangeEmail updates the caller's email address.
func (h *CSRFHandler) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	var payload changeEmailPayload
	if err := decode(r, &payload, "New email is required"); err != nil {
		respond.Error(w, err)
		return
	}

	if _, err := h.users.UpdateEmail(r.Context(), id.ID, payload.NewEmail); err != nil {
		h.fail(w, err)
		return
	}

	h.ok(w, "Email changed to "+payload.NewEmail, "This endpoint has no CSRF protection!")
}

// DeleteAccount simulates account deletion; nothing is removed.
func (h *CSRFHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	if h.protected {
		h.ok(w, fmt.Sprintf("Account %s deletion initiated", id.Username), "")
		return
	}
	h.ok(w, fmt.Sprintf("Account %s would be deleted", id.Username),
		"This endpoint has no CSRF protection! Attacker could delete your account!")
}

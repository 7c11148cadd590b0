package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/isdelr/owasp-lab-be/internal/api/respond"
	"github.com/isdelr/owasp-lab-be/internal/apperr"
	"github.com/isdelr/owasp-lab-be/internal/auth"
	"github.com/isdelr/owasp-lab-be/internal/csrf"
	"github.com/isdelr/owasp-lab-be/internal/gate"
	"github.com/isdelr/owasp-lab-be/internal/metrics"
	"github.com/isdelr/owasp-lab-be/internal/models"
	"github.com/isdelr/owasp-lab-be/internal/services"
	"github.com/rs/zerolog/log"
)

// DemoPolicy selects which side of an authentication-failure demo a handler
// set serves.
type DemoPolicy struct {
	Name string
	// Vulnerable responses carry warnings and echo raw error text.
	Vulnerable      bool
	StrongPasswords bool
	Adoption        csrf.SessionAdoption
	UniformReset    bool
}

var (
	SecureDemo     = DemoPolicy{Name: "secure", StrongPasswords: true, Adoption: csrf.AdoptServerIssued, UniformReset: true}
	VulnerableDemo = DemoPolicy{Name: "vulnerable", Vulnerable: true, Adoption: csrf.AdoptClientSupplied}
)

const serverSessionBytes = 32

// AuthDemoHandler serves the paired authentication-failure routes.
type AuthDemoHandler struct {
	policy        DemoPolicy
	users         services.UserServiceProvider
	sessions      services.SessionServiceProvider
	audit         services.AuditServiceProvider
	issuer        *auth.Issuer
	sessionTTL    time.Duration
	secureCookies bool
}

// NewAuthDemoHandler creates a handler set for policy. issuer decides how
// credentials are signed and how failures are worded.
func NewAuthDemoHandler(policy DemoPolicy, users services.UserServiceProvider, sessions services.SessionServiceProvider, audit services.AuditServiceProvider, issuer *auth.Issuer, sessionTTL time.Duration, secureCookies bool) *AuthDemoHandler {
	return &AuthDemoHandler{
		policy:        policy,
		users:         users,
		sessions:      sessions,
		audit:         audit,
		issuer:        issuer,
		sessionTTL:    sessionTTL,
		secureCookies: secureCookies,
	}
}

func (h *AuthDemoHandler) fail(w http.ResponseWriter, err error, warning string) {
	if h.policy.Vulnerable {
		if apperr.As(err).Status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("policy", h.policy.Name).Msg("Demo request failed")
		}
		leak(w, err, warning)
		return
	}
	respond.Error(w, err)
}

func (h *AuthDemoHandler) ok(w http.ResponseWriter, env respond.Envelope, note, warning string) {
	if h.policy.Vulnerable {
		env.Warning = warning
	} else {
		env.Note = note
	}
	respond.OK(w, http.StatusOK, env)
}

type demoRegisterPayload struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Register creates a user. Only the secure policy enforces password strength.
func (h *AuthDemoHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload demoRegisterPayload
	if err := decode(r, &payload, "All fields are required"); err != nil {
		respond.Error(w, err)
		return
	}
	if h.policy.StrongPasswords {
		if err := auth.CheckPasswordStrength(payload.Password); err != nil {
			respond.Error(w, apperr.ErrBadRequest.WithMessage(err.Error()))
			return
		}
	}

	user, err := h.users.CreateUser(r.Context(), payload.Username, payload.Email, payload.Password, models.RoleUser)
	if err != nil {
		h.fail(w, err, "")
		return
	}

	h.ok(w, respond.Envelope{Data: map[string]string{"username": user.Username}},
		"Password meets strong requirements",
		"This endpoint accepts weak passwords!")
}

// Login issues a credential with the handler's issuer.
func (h *AuthDemoHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload AuthPayload
	if err := decode(r, &payload, "Username and password are required"); err != nil {
		respond.Error(w, err)
		return
	}

	cred, err := h.issuer.Authenticate(r.Context(), payload.Username, payload.Password)
	if err != nil {
		metrics.LoginAttempts.WithLabelValues(h.policy.Name, apperr.As(err).Code).Inc()
		if errors.Is(err, apperr.ErrInvalidCredentials) {
			recordAuth(r.Context(), h.audit, r, "auth.login.failure", nil, map[string]string{"route": h.policy.Name})
			respond.Error(w, err)
			return
		}
		h.fail(w, err, "")
		return
	}
	metrics.LoginAttempts.WithLabelValues(h.policy.Name, "OK").Inc()
	recordAuth(r.Context(), h.audit, r, "auth.login.success", &cred.User.ID, map[string]string{"route": h.policy.Name})

	h.ok(w, respond.Envelope{Data: map[string]string{"token": cred.Token}},
		"JWT properly signed with strong secret",
		`This JWT uses the "none" algorithm and can be forged!`)
}

type sessionLoginPayload struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	SessionID string `json:"sessionId" validate:"omitempty,max=128,printascii"`
}

// LoginSession authenticates and starts a server-side session. Under the
// client-supplied adoption policy the caller picks the session id.
func (h *AuthDemoHandler) LoginSession(w http.ResponseWriter, r *http.Request) {
	var payload sessionLoginPayload
	if err := decode(r, &payload, "Invalid session id"); err != nil {
		respond.Error(w, err)
		return
	}

	user, err := h.issuer.Check(r.Context(), payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidCredentials) {
			recordAuth(r.Context(), h.audit, r, "auth.login.failure", nil, map[string]string{"route": h.policy.Name + "-session"})
			respond.Error(w, err)
			return
		}
		h.fail(w, err, "")
		return
	}

	var sessionID string
	switch {
	case h.policy.Adoption == csrf.AdoptClientSupplied && payload.SessionID != "":
		sessionID = payload.SessionID
	case h.policy.Adoption == csrf.AdoptClientSupplied:
		sessionID = fmt.Sprintf("session_%d", time.Now().UnixMilli())
	default:
		if sessionID, err = csrf.NewSessionID(serverSessionBytes); err != nil {
			respond.Error(w, err)
			return
		}
	}

	data, _ := json.Marshal(map[string]string{"username": user.Username})
	if _, err := h.sessions.CreateSession(r.Context(), user.ID, sessionID, string(data), h.sessionTTL); err != nil {
		h.fail(w, err, "")
		return
	}
	recordAuth(r.Context(), h.audit, r, "auth.login.success", &user.ID, map[string]string{"route": h.policy.Name + "-session"})

	setCookie(w, gate.SessionCookie, sessionID, h.sessionTTL, h.secureCookies, cookieMode(h.policy.Vulnerable))
	h.ok(w, respond.Envelope{Data: map[string]string{"sessionId": sessionID}},
		"Session ID generated server-side, preventing fixation",
		"This endpoint is vulnerable to session fixation!")
}

type resetPayload struct {
	Email string `json:"email" validate:"required"`
}

// ResetPassword starts a password reset. The secure policy answers the same
// way whether or not the email exists.
func (h *AuthDemoHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var payload resetPayload
	if err := decode(r, &payload, "Email is required"); err != nil {
		respond.Error(w, err)
		return
	}

	_, err := h.users.FindByEmail(r.Context(), payload.Email)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		h.fail(w, err, "")
		return
	}

	if h.policy.UniformReset {
		h.ok(w, respond.Envelope{Message: "If that email exists, a password reset link has been sent"},
			"Same message regardless of user existence prevents enumeration", "")
		return
	}

	if err != nil {
		respond.JSON(w, http.StatusNotFound, respond.Envelope{
			Error:   "User not found",
			Code:    apperr.ErrNotFound.Code,
			Warning: "This reveals whether email exists in database!",
		})
		return
	}
	h.ok(w, respond.Envelope{Message: "Password reset email sent"}, "",
		"No rate limiting allows user enumeration!")
}

// Profile echoes the identity the gate attached.
func (h *AuthDemoHandler) Profile(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	h.ok(w, respond.Envelope{Data: id},
		"JWT properly verified with secret",
		"This endpoint uses vulnerable JWT verification (decode without verify)!")
}

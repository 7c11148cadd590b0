package handlers

import (
	"errors"
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

// UserHandler handles the primary login, registration and current-user routes.
type UserHandler struct {
	service       services.UserServiceProvider
	issuer        *auth.Issuer
	csrf          *csrf.Manager
	audit         services.AuditServiceProvider
	tokenTTL      time.Duration
	secureCookies bool
	sameSite      http.SameSite
}

// NewUserHandler creates a new UserHandler. sameSite applies to the
// credential cookie set on login.
func NewUserHandler(service services.UserServiceProvider, issuer *auth.Issuer, manager *csrf.Manager, audit services.AuditServiceProvider, tokenTTL time.Duration, secureCookies bool, sameSite http.SameSite) *UserHandler {
	return &UserHandler{
		service:       service,
		issuer:        issuer,
		csrf:          manager,
		audit:         audit,
		tokenTTL:      tokenTTL,
		secureCookies: secureCookies,
		sameSite:      sameSite,
	}
}

// AuthPayload defines the structure for login requests.
type AuthPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterPayload defines the structure for registration requests.
type RegisterPayload struct {
	Username string `json:"username" validate:"required,alphanum,min=3,max=32"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

// Register handles new user registration under the strong password policy.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload RegisterPayload
	if err := decode(r, &payload, "All fields are required"); err != nil {
		respond.Error(w, err)
		return
	}
	if err := auth.CheckPasswordStrength(payload.Password); err != nil {
		respond.Error(w, apperr.ErrBadRequest.WithMessage(err.Error()))
		return
	}

	user, err := h.service.CreateUser(r.Context(), payload.Username, payload.Email, payload.Password, models.RoleUser)
	if err != nil {
		if !errors.Is(err, apperr.ErrConflict) {
			log.Error().Err(err).Str("username", payload.Username).Msg("Failed to register user")
		}
		respond.Error(w, err)
		return
	}

	respond.OK(w, http.StatusCreated, respond.Envelope{Data: user})
}

// Login authenticates and sets the credential cookie.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload AuthPayload
	if err := decode(r, &payload, "Username and password are required"); err != nil {
		respond.Error(w, err)
		return
	}

	cred, err := h.issuer.Authenticate(r.Context(), payload.Username, payload.Password)
	if err != nil {
		metrics.LoginAttempts.WithLabelValues("primary", apperr.As(err).Code).Inc()
		if errors.Is(err, apperr.ErrInvalidCredentials) {
			log.Warn().Str("username", payload.Username).Msg("Failed authentication attempt")
			recordAuth(r.Context(), h.audit, r, "auth.login.failure", nil, map[string]string{"route": "primary"})
		}
		respond.Error(w, err)
		return
	}
	metrics.LoginAttempts.WithLabelValues("primary", "OK").Inc()
	recordAuth(r.Context(), h.audit, r, "auth.login.success", &cred.User.ID, map[string]string{"route": "primary"})

	setCookie(w, gate.TokenCookie, cred.Token, h.tokenTTL, h.secureCookies, h.sameSite)

	respond.OK(w, http.StatusOK, respond.Envelope{Data: map[string]interface{}{
		"token": cred.Token,
		"user":  cred.User,
	}})
}

// Logout clears the credential cookie and revokes the anti-forgery token of
// the presented session. Issued credentials stay valid until they expire.
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(gate.SessionCookie); err == nil && c.Value != "" {
		if err := h.csrf.Revoke(r.Context(), c.Value); err != nil {
			log.Error().Err(err).Msg("Failed to revoke CSRF token on logout")
		}
		expireCookie(w, gate.SessionCookie, h.secureCookies, h.sameSite)
	}
	expireCookie(w, gate.TokenCookie, h.secureCookies, h.sameSite)
	respond.OK(w, http.StatusOK, respond.Envelope{Message: "Logged out"})
}

// GetMe retrieves the currently authenticated user from the token.
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		respond.Error(w, err)
		return
	}

	user, err := h.service.GetUserByID(r.Context(), id.ID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			respond.Error(w, apperr.ErrNotFound.WithMessage("User not found"))
			return
		}
		respond.Error(w, err)
		return
	}

	respond.OK(w, http.StatusOK, respond.Envelope{Data: user})
}

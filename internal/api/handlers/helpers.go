package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/isdelr/owasp-lab-be/internal/api/respond"
	"github.com/isdelr/owasp-lab-be/internal/apperr"
	"github.com/isdelr/owasp-lab-be/internal/auth"
	"github.com/isdelr/owasp-lab-be/internal/models"
	"github.com/isdelr/owasp-lab-be/internal/ratelimit"
	"github.com/isdelr/owasp-lab-be/internal/services"
	"github.com/rs/zerolog/log"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// decode reads a JSON body into dst and validates its struct tags. Any
// failure becomes a BadRequest carrying msg.
func decode(r *http.Request, dst interface{}, msg string) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.ErrBadRequest.WithMessage("Invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		return apperr.Wrap(apperr.ErrBadRequest.WithMessage(msg), err)
	}
	return nil
}

// leak answers err with its raw text, the way the vulnerable routes do.
func leak(w http.ResponseWriter, err error, warning string) {
	e := apperr.As(err)
	respond.JSON(w, e.Status, respond.Envelope{Error: err.Error(), Code: e.Code, Warning: warning})
}

func setCookie(w http.ResponseWriter, name, value string, ttl time.Duration, secure bool, sameSite http.SameSite) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
		Path:     "/",
	})
}

func expireCookie(w http.ResponseWriter, name string, secure bool, sameSite http.SameSite) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
		Path:     "/",
	})
}

// cookieMode is Strict for hardened routes. Vulnerable routes use Lax so a
// cross-site top-level form post still carries the cookie.
func cookieMode(vulnerable bool) http.SameSite {
	if vulnerable {
		return http.SameSiteLaxMode
	}
	return http.SameSiteStrictMode
}

// recordAuth stores an authentication outcome in the audit trail. Failures
// to record are logged, never surfaced.
func recordAuth(ctx context.Context, audit services.AuditServiceProvider, r *http.Request, action string, userID *int64, meta map[string]string) {
	if audit == nil {
		return
	}
	raw, _ := json.Marshal(meta)
	entry := models.AuditEntry{
		Action:    action,
		UserID:    userID,
		IPAddress: ratelimit.ClientIP(r),
		UserAgent: r.UserAgent(),
		Metadata:  raw,
	}
	if err := audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		log.Error().Err(err).Str("action", action).Msg("Failed to record audit entry")
	}
}

func identity(r *http.Request) (auth.Identity, error) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return auth.Identity{}, apperr.ErrNoToken
	}
	return id, nil
}

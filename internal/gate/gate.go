// Package gate decides, per request, whether a caller may reach a handler:
// credential present, credential valid under the route's verification policy,
// role sufficient, and anti-forgery token valid for state-changing methods.
package gate

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/isdelr/owasp-lab-be/internal/api/respond"
	"github.com/isdelr/owasp-lab-be/internal/apperr"
	"github.com/isdelr/owasp-lab-be/internal/auth"
	"github.com/isdelr/owasp-lab-be/internal/csrf"
	"github.com/isdelr/owasp-lab-be/internal/metrics"
	"github.com/isdelr/owasp-lab-be/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	TokenCookie   = "token"
	SessionCookie = "sessionId"
	CSRFHeader    = "X-CSRF-Token"
	csrfBodyField = "csrfToken"

	maxPeekBody = 1 << 20
)

// CSRFPolicy says whether state-changing requests must carry a valid anti-forgery token.
type CSRFPolicy int

const (
	CSRFEnforced CSRFPolicy = iota
	CSRFBypassed
)

// Route is the protection applied to one route. The zero value is strict
// verification with anti-forgery enforcement and no role requirement.
type Route struct {
	Verification auth.VerificationPolicy
	CSRF         CSRFPolicy
	RequireRole  models.Role
}

// Outcome is the terminal state of one evaluation.
type Outcome int

const (
	Allowed Outcome = iota
	RejectedNoToken
	RejectedInvalidToken
	RejectedForbidden
	RejectedForbiddenCSRF
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case RejectedNoToken:
		return "no_token"
	case RejectedInvalidToken:
		return "invalid_token"
	case RejectedForbidden:
		return "forbidden"
	case RejectedForbiddenCSRF:
		return "forbidden_csrf"
	}
	return "unknown"
}

// Decision is the result of Evaluate.
type Decision struct {
	Outcome  Outcome
	Identity auth.Identity
}

// Gate evaluates routes against incoming requests.
type Gate struct {
	verifier *auth.Verifier
	csrf     *csrf.Manager
}

// New creates a gate.
func New(verifier *auth.Verifier, manager *csrf.Manager) *Gate {
	return &Gate{verifier: verifier, csrf: manager}
}

// Evaluate runs the gate for r. A rejected decision comes with the matching
// apperr kind; store faults surface as InternalError.
func (g *Gate) Evaluate(r *http.Request, route Route) (Decision, error) {
	tokenStr := credentialFrom(r)
	if tokenStr == "" {
		return Decision{Outcome: RejectedNoToken}, apperr.ErrNoToken
	}

	claims, err := g.verifier.Verify(tokenStr, route.Verification)
	if err != nil {
		return Decision{Outcome: RejectedInvalidToken}, err
	}
	id := claims.Identity()

	if route.RequireRole != "" && id.Role != route.RequireRole {
		return Decision{Outcome: RejectedForbidden, Identity: id}, apperr.ErrForbidden
	}

	if route.CSRF == CSRFEnforced && isStateChanging(r.Method) {
		var sessionID string
		if c, err := r.Cookie(SessionCookie); err == nil {
			sessionID = c.Value
		}
		res, err := g.csrf.Validate(r.Context(), sessionID, csrfTokenFrom(r))
		if err != nil {
			return Decision{Outcome: RejectedForbiddenCSRF, Identity: id}, apperr.Wrap(apperr.ErrInternal, err)
		}
		switch res {
		case csrf.ResultMissing:
			return Decision{Outcome: RejectedForbiddenCSRF, Identity: id}, apperr.ErrForbiddenCSRF.WithMessage("CSRF token missing")
		case csrf.ResultMismatch:
			return Decision{Outcome: RejectedForbiddenCSRF, Identity: id}, apperr.ErrForbiddenCSRF
		}
	}

	return Decision{Outcome: Allowed, Identity: id}, nil
}

// Protect returns middleware enforcing route. Allowed requests carry the
// identity in their context.
func (g *Gate) Protect(route Route) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := g.Evaluate(r, route)
			metrics.GateDecisions.WithLabelValues(d.Outcome.String(), route.Verification.String()).Inc()
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Str("outcome", d.Outcome.String()).Msg("Request rejected by gate")
				respond.Error(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), d.Identity)))
		})
	}
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// credentialFrom prefers the Authorization header and falls back to the cookie.
func credentialFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
			if t := strings.TrimSpace(h[7:]); t != "" {
				return t
			}
		}
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return c.Value
	}
	return ""
}

// csrfTokenFrom reads the header, then a csrfToken field in a JSON or form
// body. A JSON body is restored in full so the handler can still decode it;
// only its first maxPeekBody bytes are searched.
func csrfTokenFrom(r *http.Request) string {
	if t := r.Header.Get(CSRFHeader); t != "" {
		return t
	}
	if r.Body == nil {
		return ""
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		return r.PostFormValue(csrfBodyField)
	case "application/json", "":
		body, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBody))
		r.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(body), r.Body), r.Body}
		if err != nil || len(body) == 0 {
			return ""
		}
		var payload struct {
			CSRFToken string `json:"csrfToken"`
		}
		if json.Unmarshal(body, &payload) != nil {
			return ""
		}
		return payload.CSRFToken
	}
	return ""
}

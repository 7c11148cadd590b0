package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/isdelr/owasp-lab-be/internal/auth"
	"github.com/isdelr/owasp-lab-be/internal/config"
	"github.com/isdelr/owasp-lab-be/internal/csrf"
	"github.com/isdelr/owasp-lab-be/internal/database"
	"github.com/isdelr/owasp-lab-be/internal/gate"
	"github.com/isdelr/owasp-lab-be/internal/models"
	"github.com/isdelr/owasp-lab-be/internal/ratelimit"
	"github.com/isdelr/owasp-lab-be/internal/services"
	"github.com/isdelr/owasp-lab-be/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "router-test-secret"

type lab struct {
	t      *testing.T
	router http.Handler
	users  *services.UserService
	audit  *services.AuditService
	nextIP int
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	Error     string          `json:"error"`
	Code      string          `json:"code"`
	Note      string          `json:"note"`
	Warning   string          `json:"warning"`
	CSRFToken string          `json:"csrfToken"`
}

// field decodes data as an object and returns one of its members.
func (e envelope) field(t *testing.T, key string) interface{} {
	t.Helper()
	var obj map[string]interface{}
	require.NoError(t, json.Unmarshal(e.Data, &obj), string(e.Data))
	return obj[key]
}

// list decodes data as an array of objects.
func (e envelope) list(t *testing.T) []map[string]interface{} {
	t.Helper()
	var items []map[string]interface{}
	require.NoError(t, json.Unmarshal(e.Data, &items), string(e.Data))
	return items
}

func newLab(t *testing.T, vulnerable bool) *lab {
	t.Helper()
	db, err := database.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })

	hasher := auth.NewPasswordHasher(bcrypt.MinCost)
	users := services.NewUserService(db, hasher)
	require.NoError(t, services.SeedDemoUsers(context.Background(), users))
	audit := services.NewAuditService(db, websocket.NewHub())
	signer, err := auth.NewHMACSigner(testSecret, time.Hour)
	require.NoError(t, err)

	cfg := &config.Config{
		AppEnv:                    "test",
		JWTSecret:                 testSecret,
		JWTTTL:                    time.Hour,
		CORSOrigins:               []string{"http://localhost:3000"},
		EnableVulnerableEndpoints: vulnerable,
	}
	router := NewRouter(Deps{
		Config:       cfg,
		Users:        users,
		Sessions:     services.NewSessionService(db),
		Audit:        audit,
		Hasher:       hasher,
		Signer:       signer,
		Verifier:     auth.NewVerifier(testSecret),
		CSRF:         csrf.NewManager(csrf.NewMemoryStore()),
		Hub:          websocket.NewHub(),
		LoginLimiter: ratelimit.New("login", 5, 5*time.Minute),
	})
	return &lab{t: t, router: router, users: users, audit: audit}
}

type reqOpt func(*http.Request)

func withBearer(tok string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func withCookie(name, value string) reqOpt {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: name, Value: value}) }
}

func withHeader(k, v string) reqOpt {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func withIP(ip string) reqOpt {
	return func(r *http.Request) { r.RemoteAddr = ip + ":40000" }
}

func (l *lab) do(method, path string, body interface{}, opts ...reqOpt) (*httptest.ResponseRecorder, envelope) {
	l.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(l.t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(r)
	}
	rec := httptest.NewRecorder()
	l.router.ServeHTTP(rec, r)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(l.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

// login uses a fresh client address per call so the login limiter stays out of the way.
func (l *lab) login(username, password string) string {
	l.t.Helper()
	l.nextIP++
	rec, env := l.do(http.MethodPost, "/api/auth/login",
		map[string]string{"username": username, "password": password},
		withIP(fmt.Sprintf("198.51.100.%d", l.nextIP)))
	require.Equal(l.t, http.StatusOK, rec.Code, rec.Body.String())
	return env.field(l.t, "token").(string)
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func cookieValue(rec *httptest.ResponseRecorder, name string) string {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func TestHealth(t *testing.T) {
	l := newLab(t, false)
	rec, env := l.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}

func TestLoginSetsCookieAndOmitsHash(t *testing.T) {
	l := newLab(t, false)
	rec, env := l.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "alice", "password": "alice123"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, cookieValue(rec, gate.TokenCookie))
	assert.NotContains(t, rec.Body.String(), "passwordHash")
	assert.NotContains(t, rec.Body.String(), "$2a$")

	// The cookie alone authenticates.
	rec, env = l.do(http.MethodGet, "/api/auth/me", nil, withCookie(gate.TokenCookie, cookieValue(rec, gate.TokenCookie)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", env.field(t, "username"))
}

func TestLoginFailures(t *testing.T) {
	l := newLab(t, false)

	rec, env := l.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Username and password are required", env.Error)

	recUnknown, unknown := l.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "mallory", "password": "x"})
	recWrong, wrong := l.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "alice", "password": "x"})
	assert.Equal(t, http.StatusUnauthorized, recUnknown.Code)
	assert.Equal(t, http.StatusUnauthorized, recWrong.Code)
	assert.Equal(t, unknown, wrong)
	assert.Equal(t, "Invalid credentials", wrong.Error)
	assert.Equal(t, "INVALID_CREDENTIALS", wrong.Code)
}

func TestAdminRoute(t *testing.T) {
	l := newLab(t, false)

	rec, env := l.do(http.MethodGet, "/api/admin/users", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "NO_TOKEN", env.Code)

	rec, env = l.do(http.MethodGet, "/api/admin/users", nil, withBearer("not-a-token"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", env.Code)

	rec, env = l.do(http.MethodGet, "/api/admin/users", nil, withBearer(l.login("user", "user123")))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", env.Code)
	assert.Equal(t, "Admin access required", env.Error)

	rec, env = l.do(http.MethodGet, "/api/admin/users", nil, withBearer(l.login("admin", "admin123")))
	require.Equal(t, http.StatusOK, rec.Code)
	var names []interface{}
	for _, u := range env.list(t) {
		names = append(names, u["username"])
	}
	assert.ElementsMatch(t, []interface{}{"admin", "user", "alice", "bob"}, names)
	assert.NotContains(t, rec.Body.String(), "$2a$")
}

func TestSecureCSRFFlow(t *testing.T) {
	l := newLab(t, false)
	tok := l.login("alice", "alice123")

	rec, env := l.do(http.MethodGet, "/api/secure/csrf/token", nil, withBearer(tok))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)
	require.NotEmpty(t, env.CSRFToken)
	sid := cookieValue(rec, gate.SessionCookie)
	require.NotEmpty(t, sid)

	transfer := map[string]interface{}{"toUser": "bob", "amount": 100}

	rec, env = l.do(http.MethodPost, "/api/secure/csrf/transfer-money", transfer,
		withBearer(tok), withCookie(gate.SessionCookie, sid), withHeader(gate.CSRFHeader, env.CSRFToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Transferred $100 from alice to bob", env.Message)
	assert.Equal(t, "This endpoint is protected with CSRF token", env.Note)

	rec, env = l.do(http.MethodPost, "/api/secure/csrf/transfer-money", transfer,
		withBearer(tok), withCookie(gate.SessionCookie, sid), withHeader(gate.CSRFHeader, "WRONG"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN_CSRF", env.Code)

	rec, env = l.do(http.MethodPost, "/api/secure/csrf/transfer-money", transfer,
		withBearer(tok), withCookie(gate.SessionCookie, sid))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "CSRF token missing", env.Error)

	// Reads are never checked, whatever token comes along.
	rec, env = l.do(http.MethodGet, "/api/secure/csrf/token", nil,
		withBearer(tok), withCookie(gate.SessionCookie, "unknown-session"), withHeader(gate.CSRFHeader, "WRONG"))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, env.CSRFToken)
}

func TestLogoutRevokesCSRFToken(t *testing.T) {
	l := newLab(t, false)
	tok := l.login("alice", "alice123")

	rec, env := l.do(http.MethodGet, "/api/secure/csrf/token", nil, withBearer(tok))
	require.Equal(t, http.StatusOK, rec.Code)
	sid := cookieValue(rec, gate.SessionCookie)
	csrfToken := env.CSRFToken

	rec, _ = l.do(http.MethodPost, "/api/auth/logout", nil, withCookie(gate.SessionCookie, sid))
	require.Equal(t, http.StatusOK, rec.Code)
	for _, name := range []string{gate.TokenCookie, gate.SessionCookie} {
		c := findCookie(rec, name)
		require.NotNil(t, c, name)
		assert.Empty(t, c.Value, name)
		assert.Negative(t, c.MaxAge, name)
	}

	rec, env = l.do(http.MethodPost, "/api/secure/csrf/transfer-money", map[string]interface{}{"toUser": "bob", "amount": 1},
		withBearer(tok), withCookie(gate.SessionCookie, sid), withHeader(gate.CSRFHeader, csrfToken))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN_CSRF", env.Code)

	// Without a session cookie only the credential cookie is cleared.
	rec, _ = l.do(http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, findCookie(rec, gate.TokenCookie))
	assert.Nil(t, findCookie(rec, gate.SessionCookie))
}

func TestCookieSameSite(t *testing.T) {
	login := map[string]string{"username": "alice", "password": "alice123"}

	hardened := newLab(t, false)
	rec, _ := hardened.do(http.MethodPost, "/api/auth/login", login)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.SameSiteStrictMode, findCookie(rec, gate.TokenCookie).SameSite)

	rec, _ = hardened.do(http.MethodPost, "/api/secure/auth/login-secure-session", login)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.SameSiteStrictMode, findCookie(rec, gate.SessionCookie).SameSite)

	vuln := newLab(t, true)
	rec, _ = vuln.do(http.MethodPost, "/api/auth/login", login)
	require.Equal(t, http.StatusOK, rec.Code)
	tokenCookie := findCookie(rec, gate.TokenCookie)
	assert.Equal(t, http.SameSiteLaxMode, tokenCookie.SameSite)
	assert.True(t, tokenCookie.HttpOnly)

	rec, _ = vuln.do(http.MethodPost, "/api/vulnerable/auth/login-session-fixation", login)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.SameSiteLaxMode, findCookie(rec, gate.SessionCookie).SameSite)

	// The cookie alone carries a forged cross-site post on the vulnerable route.
	rec, _ = vuln.do(http.MethodPost, "/api/vulnerable/csrf/transfer-money",
		map[string]interface{}{"toUser": "mallory", "amount": 5}, withCookie(gate.TokenCookie, tokenCookie.Value))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCSRFTokenInBodyAndEmailChange(t *testing.T) {
	l := newLab(t, false)
	tok := l.login("alice", "alice123")
	rec, env := l.do(http.MethodGet, "/api/secure/csrf/token", nil, withBearer(tok))
	require.Equal(t, http.StatusOK, rec.Code)
	sid := cookieValue(rec, gate.SessionCookie)

	rec, env = l.do(http.MethodPost, "/api/secure/csrf/change-email",
		map[string]string{"newEmail": "alice@new.example.com", "csrfToken": env.CSRFToken},
		withBearer(tok), withCookie(gate.SessionCookie, sid))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	u, err := l.users.FindByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@new.example.com", u.Email)
}

func TestCSRFTokenSessionReuse(t *testing.T) {
	l := newLab(t, false)
	tok := l.login("alice", "alice123")

	rec, first := l.do(http.MethodGet, "/api/secure/csrf/token", nil, withBearer(tok))
	sid := cookieValue(rec, gate.SessionCookie)

	rec, second := l.do(http.MethodGet, "/api/secure/csrf/token", nil, withBearer(tok), withCookie(gate.SessionCookie, sid))
	assert.Equal(t, sid, cookieValue(rec, gate.SessionCookie), "known session is reused")
	assert.NotEqual(t, first.CSRFToken, second.CSRFToken, "token is rotated")

	rec, _ = l.do(http.MethodGet, "/api/secure/csrf/token", nil, withBearer(tok), withCookie(gate.SessionCookie, "attacker-chosen"))
	assert.NotEqual(t, "attacker-chosen", cookieValue(rec, gate.SessionCookie))
}

func TestVulnerableRoutesDisabledByDefault(t *testing.T) {
	l := newLab(t, false)
	rec, _ := l.do(http.MethodPost, "/api/vulnerable/auth/login-none-alg", map[string]string{"username": "alice", "password": "alice123"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVulnerableCSRFAcceptsForgedRequest(t *testing.T) {
	l := newLab(t, true)
	tok := l.login("alice", "alice123")

	rec, env := l.do(http.MethodPost, "/api/vulnerable/csrf/transfer-money",
		map[string]interface{}{"toUser": "mallory", "amount": 5}, withBearer(tok))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "This endpoint has no CSRF protection!", env.Warning)

	rec, _ = l.do(http.MethodPost, "/api/vulnerable/csrf/change-email",
		map[string]string{"newEmail": "mallory@evil.example.com"}, withBearer(tok), withHeader(gate.CSRFHeader, "WRONG"))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Still authenticated.
	rec, _ = l.do(http.MethodPost, "/api/vulnerable/csrf/delete-account", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNoneAlgorithmToken(t *testing.T) {
	l := newLab(t, true)

	rec, env := l.do(http.MethodPost, "/api/vulnerable/auth/login-none-alg", map[string]string{"username": "alice", "password": "alice123"})
	require.Equal(t, http.StatusOK, rec.Code)
	unsigned := env.field(t, "token").(string)

	rec, env = l.do(http.MethodGet, "/api/secure/auth/profile", nil, withBearer(unsigned))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", env.Code)

	rec, env = l.do(http.MethodGet, "/api/vulnerable/auth/profile", nil, withBearer(unsigned))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", env.field(t, "username"))

	forged, _, err := auth.NewUnsignedSigner(time.Hour).Sign(models.User{ID: 1, Username: "admin", Role: models.RoleAdmin})
	require.NoError(t, err)

	rec, env = l.do(http.MethodGet, "/api/vulnerable/auth/profile", nil, withBearer(forged))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", env.field(t, "role"))

	rec, _ = l.do(http.MethodGet, "/api/admin/users", nil, withBearer(forged))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVulnerableLoginEnumerates(t *testing.T) {
	l := newLab(t, true)

	_, unknown := l.do(http.MethodPost, "/api/vulnerable/auth/login-none-alg", map[string]string{"username": "mallory", "password": "x"})
	_, wrong := l.do(http.MethodPost, "/api/vulnerable/auth/login-none-alg", map[string]string{"username": "alice", "password": "x"})
	assert.Equal(t, "User not found", unknown.Error)
	assert.Equal(t, "Invalid password", wrong.Error)
}

func TestSessionFixation(t *testing.T) {
	l := newLab(t, true)
	body := map[string]string{"username": "alice", "password": "alice123", "sessionId": "attacker-chosen"}

	rec, env := l.do(http.MethodPost, "/api/vulnerable/auth/login-session-fixation", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "attacker-chosen", env.field(t, "sessionId"))
	assert.Equal(t, "attacker-chosen", cookieValue(rec, gate.SessionCookie))

	rec, env = l.do(http.MethodPost, "/api/secure/auth/login-secure-session", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sid := env.field(t, "sessionId").(string)
	assert.NotEqual(t, "attacker-chosen", sid)
	assert.Len(t, sid, 64)
}

func TestResetPassword(t *testing.T) {
	l := newLab(t, true)

	_, known := l.do(http.MethodPost, "/api/secure/auth/reset-password", map[string]string{"email": "alice@example.com"})
	_, unknown := l.do(http.MethodPost, "/api/secure/auth/reset-password", map[string]string{"email": "ghost@example.com"})
	assert.Equal(t, known, unknown)
	assert.True(t, known.Success)

	rec, _ := l.do(http.MethodPost, "/api/vulnerable/auth/reset-password", map[string]string{"email": "alice@example.com"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, env := l.do(http.MethodPost, "/api/vulnerable/auth/reset-password", map[string]string{"email": "ghost@example.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not found", env.Error)
}

func TestRegisterPasswordPolicy(t *testing.T) {
	l := newLab(t, true)

	rec, _ := l.do(http.MethodPost, "/api/secure/auth/register", map[string]string{"username": "carol", "email": "carol@example.com", "password": "123"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = l.do(http.MethodPost, "/api/vulnerable/auth/register", map[string]string{"username": "carol", "email": "carol@example.com", "password": "123"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := l.do(http.MethodPost, "/api/auth/register", map[string]string{"username": "dave", "email": "dave@example.com", "password": "Dave123!x"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "dave", env.field(t, "username"))

	rec, env = l.do(http.MethodPost, "/api/auth/register", map[string]string{"username": "dave", "email": "dave2@example.com", "password": "Dave123!x"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", env.Code)
}

func TestLoginRateLimit(t *testing.T) {
	l := newLab(t, false)
	body := map[string]string{"username": "alice", "password": "wrong"}

	for i := 0; i < 5; i++ {
		rec, _ := l.do(http.MethodPost, "/api/secure/auth/login", body, withIP("203.0.113.5"))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec, env := l.do(http.MethodPost, "/api/secure/auth/login", body, withIP("203.0.113.5"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", env.Code)

	rec, _ = l.do(http.MethodPost, "/api/secure/auth/login", body, withIP("203.0.113.6"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuditTrailNeverRecordsSecrets(t *testing.T) {
	l := newLab(t, false)
	tok := l.login("alice", "alice123")
	l.do(http.MethodGet, "/api/auth/me", nil, withBearer(tok))

	entries, err := l.audit.Recent(context.Background(), 50)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	raw, err := json.Marshal(entries)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "alice123")
	assert.NotContains(t, string(raw), tok)

	var sawMe, sawLogin bool
	for _, e := range entries {
		switch e.Action {
		case "GET /api/auth/me":
			sawMe = true
			require.NotNil(t, e.UserID)
			assert.Equal(t, int64(3), *e.UserID)
		case "auth.login.success":
			sawLogin = true
		}
	}
	assert.True(t, sawMe)
	assert.True(t, sawLogin)
}

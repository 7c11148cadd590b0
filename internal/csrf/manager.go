package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/isdelr/owasp-lab-be/internal/metrics"
)

// Result is the outcome of validating a presented token.
type Result int

const (
	ResultMissing Result = iota
	ResultMismatch
	ResultValid
)

func (r Result) String() string {
	switch r {
	case ResultValid:
		return "valid"
	case ResultMismatch:
		return "mismatch"
	default:
		return "missing"
	}
}

// SessionAdoption decides whether a session id presented by the client may be reused.
type SessionAdoption int

const (
	// AdoptServerIssued reuses a presented id only if the store already knows it.
	AdoptServerIssued SessionAdoption = iota
	// AdoptClientSupplied takes whatever id the client presents.
	AdoptClientSupplied
)

const (
	tokenBytes     = 32
	sessionIDBytes = 16
)

// Manager issues and validates anti-forgery tokens.
type Manager struct {
	store Store
}

// NewManager creates a manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// IssueToken creates a fresh token for sessionID, replacing any previous one.
// An empty sessionID gets a newly generated identifier.
func (m *Manager) IssueToken(ctx context.Context, sessionID string) (token, sid string, err error) {
	if sessionID == "" {
		if sessionID, err = randomHex(sessionIDBytes); err != nil {
			return "", "", err
		}
	}
	token, err = randomHex(tokenBytes)
	if err != nil {
		return "", "", err
	}
	if err := m.store.Set(ctx, sessionID, token); err != nil {
		return "", "", err
	}
	metrics.CSRFTokensIssued.Inc()
	return token, sessionID, nil
}

// Validate compares supplied with the token stored for sessionID.
func (m *Manager) Validate(ctx context.Context, sessionID, supplied string) (Result, error) {
	if sessionID == "" || supplied == "" {
		return ResultMissing, nil
	}
	stored, ok, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return ResultMismatch, err
	}
	if !ok || subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) != 1 {
		return ResultMismatch, nil
	}
	return ResultValid, nil
}

// Revoke forgets the token of sessionID.
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	return m.store.Delete(ctx, sessionID)
}

// ResolveSessionID picks the session id a token will be issued for. The
// returned id is empty when a new one should be generated.
func (m *Manager) ResolveSessionID(ctx context.Context, presented string, policy SessionAdoption) (string, error) {
	if presented == "" {
		return "", nil
	}
	if policy == AdoptClientSupplied {
		return presented, nil
	}
	_, ok, err := m.store.Get(ctx, presented)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return presented, nil
}

// NewSessionID returns a random hex identifier of n bytes.
func NewSessionID(n int) (string, error) {
	return randomHex(n)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

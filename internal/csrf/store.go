// Package csrf keeps the per-session anti-forgery tokens and decides whether
// a presented token matches the one issued for its session.
package csrf

import (
	"context"
	"sync"
)

// Store maps session identifiers to anti-forgery tokens.
type Store interface {
	Get(ctx context.Context, sessionID string) (token string, ok bool, err error)
	Set(ctx context.Context, sessionID, token string) error
	Delete(ctx context.Context, sessionID string) error
}

// MemoryStore keeps tokens in process memory for the life of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[sessionID]
	return token, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, sessionID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[sessionID] = token
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, sessionID)
	return nil
}

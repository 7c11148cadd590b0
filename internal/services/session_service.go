package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/isdelr/owasp-lab-be/internal/apperr"
	"github.com/isdelr/owasp-lab-be/internal/models"
)

// ErrSessionExists is returned when a session token is already taken.
var ErrSessionExists = apperr.ErrConflict.WithMessage("Session already exists")

// SessionServiceProvider defines the interface for login session services.
type SessionServiceProvider interface {
	CreateSession(ctx context.Context, userID int64, token, data string, ttl time.Duration) (models.LoginSession, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// SessionService stores server-side login sessions.
type SessionService struct {
	db  *sql.DB
	now func() time.Time
}

// NewSessionService creates a new SessionService.
func NewSessionService(db *sql.DB) *SessionService {
	return &SessionService{db: db, now: time.Now}
}

// CreateSession stores a session row valid for ttl.
func (s *SessionService) CreateSession(ctx context.Context, userID int64, token, data string, ttl time.Duration) (models.LoginSession, error) {
	if data == "" {
		data = "{}"
	}
	now := s.now().UTC()
	session := models.LoginSession{
		UserID:    userID,
		Token:     token,
		Data:      data,
		ExpiresAt: now.Add(ttl).Truncate(time.Second),
		CreatedAt: now,
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions(user_id, token, data, expires_at) VALUES(?, ?, ?, ?)",
		session.UserID, session.Token, session.Data, session.ExpiresAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return models.LoginSession{}, ErrSessionExists
		}
		return models.LoginSession{}, err
	}
	session.ID, err = res.LastInsertId()
	return session, err
}

// DeleteExpired removes sessions whose expiry has passed.
func (s *SessionService) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", s.now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

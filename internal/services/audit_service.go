package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/isdelr/owasp-lab-be/internal/models"
)

// Publisher pushes live updates to subscribers.
type Publisher interface {
	Publish(action string, payload interface{})
}

// AuditServiceProvider defines the interface for audit trail services.
type AuditServiceProvider interface {
	Record(ctx context.Context, entry models.AuditEntry) error
	Recent(ctx context.Context, limit int) ([]models.AuditEntry, error)
}

// AuditService persists audit entries and fans them out to live subscribers.
type AuditService struct {
	db  *sql.DB
	pub Publisher
}

// NewAuditService creates a new AuditService. pub may be nil.
func NewAuditService(db *sql.DB, pub Publisher) *AuditService {
	return &AuditService{db: db, pub: pub}
}

// Record stores entry and publishes it.
func (s *AuditService) Record(ctx context.Context, entry models.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if len(entry.Metadata) == 0 {
		entry.Metadata = json.RawMessage("{}")
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO audit_logs(action, user_id, ip_address, user_agent, metadata, timestamp) VALUES(?, ?, ?, ?, ?, ?)",
		entry.Action, entry.UserID, entry.IPAddress, entry.UserAgent, string(entry.Metadata), entry.Timestamp)
	if err != nil {
		return err
	}
	if entry.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	if s.pub != nil {
		s.pub.Publish("audit_entry", entry)
	}
	return nil
}

// Recent returns the latest entries, newest first.
func (s *AuditService) Recent(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, action, user_id, ip_address, user_agent, metadata, timestamp FROM audit_logs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.AuditEntry{}
	for rows.Next() {
		var (
			entry     models.AuditEntry
			userID    sql.NullInt64
			ip, agent sql.NullString
			metadata  string
		)
		if err := rows.Scan(&entry.ID, &entry.Action, &userID, &ip, &agent, &metadata, &entry.Timestamp); err != nil {
			return nil, err
		}
		if userID.Valid {
			entry.UserID = &userID.Int64
		}
		entry.IPAddress = ip.String
		entry.UserAgent = agent.String
		entry.Metadata = json.RawMessage(metadata)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

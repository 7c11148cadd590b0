package models

import (
	"encoding/json"
	"time"
)

// AuditEntry represents a recorded request or authentication outcome.
type AuditEntry struct {
	ID        int64           `json:"id"`
	Action    string          `json:"action"`           // e.g., "POST /api/secure/csrf/transfer-money", "auth.login.failure"
	UserID    *int64          `json:"userId,omitempty"` // Nullable for anonymous requests
	IPAddress string          `json:"ipAddress,omitempty"`
	UserAgent string          `json:"userAgent,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

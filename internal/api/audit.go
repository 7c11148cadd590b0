package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/isdelr/owasp-lab-be/internal/auth"
	"github.com/isdelr/owasp-lab-be/internal/models"
	"github.com/isdelr/owasp-lab-be/internal/ratelimit"
	"github.com/isdelr/owasp-lab-be/internal/services"
	"github.com/rs/zerolog/log"
)

type auditMetadata struct {
	Status     int    `json:"status"`
	DurationMS int64  `json:"durationMs"`
	RequestID  string `json:"requestId,omitempty"`
}

// AuditTrail records one entry per API request after the handler ran:
// method and path, the authenticated user if any, client IP, user agent,
// status and duration. Request bodies, query strings, cookies and headers
// other than User-Agent are never recorded.
func AuditTrail(audit services.AuditServiceProvider, skip ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range skip {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			start := time.Now()
			ctx, slot := auth.WithIdentitySlot(r.Context())
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			meta, _ := json.Marshal(auditMetadata{
				Status:     status,
				DurationMS: time.Since(start).Milliseconds(),
				RequestID:  middleware.GetReqID(r.Context()),
			})
			entry := models.AuditEntry{
				Action:    r.Method + " " + r.URL.Path,
				IPAddress: ratelimit.ClientIP(r),
				UserAgent: r.UserAgent(),
				Metadata:  meta,
			}
			if slot.Identity != nil {
				uid := slot.Identity.ID
				entry.UserID = &uid
			}

			if err := audit.Record(context.WithoutCancel(r.Context()), entry); err != nil {
				log.Error().Err(err).Str("action", entry.Action).Msg("Failed to record audit entry")
			}
		})
	}
}

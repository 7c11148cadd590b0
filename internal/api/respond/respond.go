// Package respond writes the JSON envelope shared by every endpoint.
package respond

import (
	"encoding/json"
	"net/http"

	"github.com/isdelr/owasp-lab-be/internal/apperr"
	"github.com/rs/zerolog/log"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Note    string      `json:"note,omitempty"`
	Warning string      `json:"warning,omitempty"`
}

// JSON writes v with status.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// OK writes a successful envelope.
func OK(w http.ResponseWriter, status int, env Envelope) {
	env.Success = true
	JSON(w, status, env)
}

// Error maps err onto the envelope. Internal faults are logged with their
// cause and answered with the generic message only.
func Error(w http.ResponseWriter, err error) {
	e := apperr.As(err)
	if e.Status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("code", e.Code).Msg("Request failed")
	}
	JSON(w, e.Status, Envelope{Error: e.Message, Code: e.Code})
}

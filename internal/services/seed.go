package services

import (
	"context"
	"errors"

	"github.com/isdelr/owasp-lab-be/internal/apperr"
	"github.com/isdelr/owasp-lab-be/internal/models"
	"github.com/rs/zerolog/log"
)

type demoUser struct {
	username, email, password string
	role                      models.Role
}

var demoUsers = []demoUser{
	{"admin", "admin@example.com", "admin123", models.RoleAdmin},
	{"user", "user@example.com", "user123", models.RoleUser},
	{"alice", "alice@example.com", "alice123", models.RoleUser},
	{"bob", "bob@example.com", "bob123", models.RoleUser},
}

// SeedDemoUsers creates the lab accounts that do not exist yet.
func SeedDemoUsers(ctx context.Context, users UserServiceProvider) error {
	for _, d := range demoUsers {
		_, err := users.FindByUsername(ctx, d.username)
		if err == nil {
			continue
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		if _, err := users.CreateUser(ctx, d.username, d.email, d.password, d.role); err != nil {
			return err
		}
		log.Info().Str("username", d.username).Str("role", string(d.role)).Msg("Seeded demo user")
	}
	return nil
}

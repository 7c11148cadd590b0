package auth

import (
	"context"

	"github.com/isdelr/owasp-lab-be/internal/models"
)

// Identity is the authenticated subject attached to a request.
type Identity struct {
	ID       int64       `json:"id"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool { return i.Role == models.RoleAdmin }

type contextKey struct{}

var identityKey = contextKey{}

type slotKey struct{}

// IdentitySlot lets middleware that runs before authentication see who the
// request turned out to belong to.
type IdentitySlot struct {
	Identity *Identity
}

// WithIdentity returns a copy of ctx carrying id. If ctx holds an
// IdentitySlot it is filled as well.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	if slot, ok := ctx.Value(slotKey{}).(*IdentitySlot); ok {
		slot.Identity = &id
	}
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity attached by the request gate.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// WithIdentitySlot returns a copy of ctx carrying an empty slot.
func WithIdentitySlot(ctx context.Context) (context.Context, *IdentitySlot) {
	slot := &IdentitySlot{}
	return context.WithValue(ctx, slotKey{}, slot), slot
}

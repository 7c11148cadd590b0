package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/isdelr/owasp-lab-be/internal/apperr"
	"github.com/isdelr/owasp-lab-be/internal/models"
)

// IdentityFinder looks identities up by username. A miss must be reported as
// apperr.ErrNotFound.
type IdentityFinder interface {
	FindByUsername(ctx context.Context, username string) (models.User, error)
}

// Credential is the result of a successful authentication.
type Credential struct {
	Token  string
	Claims *Claims
	User   models.User
}

// Issuer authenticates username/password pairs and mints credentials.
type Issuer struct {
	finder  IdentityFinder
	hasher  *PasswordHasher
	signer  Signer
	verbose bool
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithVerboseFailures makes the issuer tell "unknown user" apart from
// "wrong password". Only the enumeration demo uses it.
func WithVerboseFailures() IssuerOption {
	return func(i *Issuer) { i.verbose = true }
}

// NewIssuer creates an issuer.
func NewIssuer(finder IdentityFinder, hasher *PasswordHasher, signer Signer, opts ...IssuerOption) *Issuer {
	i := &Issuer{finder: finder, hasher: hasher, signer: signer}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Authenticate checks the pair and, on success, returns a signed credential.
func (i *Issuer) Authenticate(ctx context.Context, username, password string) (Credential, error) {
	user, err := i.Check(ctx, username, password)
	if err != nil {
		return Credential{}, err
	}

	token, claims, err := i.signer.Sign(user)
	if err != nil {
		return Credential{}, apperr.Wrap(apperr.ErrInternal, err)
	}
	return Credential{Token: token, Claims: claims, User: user}, nil
}

// Check verifies the pair without minting a credential. The returned user
// carries no password hash.
func (i *Issuer) Check(ctx context.Context, username, password string) (models.User, error) {
	if username == "" || password == "" {
		return models.User{}, apperr.ErrBadRequest.WithMessage("Username and password are required")
	}

	user, err := i.finder.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			i.hasher.Burn(password)
			if i.verbose {
				return models.User{}, apperr.ErrInvalidCredentials.WithMessage("User not found")
			}
			return models.User{}, apperr.ErrInvalidCredentials
		}
		return models.User{}, apperr.Wrap(apperr.ErrInternal, fmt.Errorf("find user %q: %w", username, err))
	}

	if !i.hasher.Verify(password, user.PasswordHash) {
		if i.verbose {
			return models.User{}, apperr.ErrInvalidCredentials.WithMessage("Invalid password")
		}
		return models.User{}, apperr.ErrInvalidCredentials
	}

	user.PasswordHash = ""
	return user, nil
}

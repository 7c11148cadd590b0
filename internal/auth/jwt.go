package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/isdelr/owasp-lab-be/internal/apperr"
	"github.com/isdelr/owasp-lab-be/internal/models"
)

// Claims defines the JWT claims structure.
type Claims struct {
	UserID   int64       `json:"userId"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Identity returns the authenticated subject carried by the claims.
func (c *Claims) Identity() Identity {
	return Identity{ID: c.UserID, Username: c.Username, Role: c.Role}
}

// Signer mints credentials for a user.
type Signer interface {
	Sign(user models.User) (string, *Claims, error)
}

func newClaims(user models.User, now time.Time, ttl time.Duration) *Claims {
	return &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

// HMACSigner signs HS256 credentials with the server secret.
type HMACSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewHMACSigner creates a signer. An empty secret is refused.
func NewHMACSigner(secret string, ttl time.Duration) (*HMACSigner, error) {
	if secret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &HMACSigner{key: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Sign creates a new JWT for a given user.
func (s *HMACSigner) Sign(user models.User) (string, *Claims, error) {
	claims := newClaims(user, s.now(), s.ttl)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return token, claims, nil
}

// UnsignedSigner produces "alg":"none" credentials with an empty signature.
// Anything that verifies strictly rejects them.
type UnsignedSigner struct {
	ttl time.Duration
	now func() time.Time
}

// NewUnsignedSigner creates the none-algorithm signer used by the vulnerable login.
func NewUnsignedSigner(ttl time.Duration) *UnsignedSigner {
	return &UnsignedSigner{ttl: ttl, now: time.Now}
}

// Sign creates an unsigned JWT for a given user.
func (s *UnsignedSigner) Sign(user models.User) (string, *Claims, error) {
	claims := newClaims(user, s.now(), s.ttl)
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return token, claims, nil
}

// VerificationPolicy selects how a presented credential is checked.
type VerificationPolicy int

const (
	// VerifyStrict checks algorithm, signature and expiry.
	VerifyStrict VerificationPolicy = iota
	// VerifyPermissive decodes the payload without checking anything.
	VerifyPermissive
)

func (p VerificationPolicy) String() string {
	if p == VerifyPermissive {
		return "permissive"
	}
	return "strict"
}

// Verifier parses and validates presented credentials.
type Verifier struct {
	key    []byte
	parser *jwt.Parser
}

// NewVerifier creates a verifier bound to the server secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		key: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		),
	}
}

// Verify parses tokenStr under policy. Every failure wraps apperr.ErrInvalidToken.
func (v *Verifier) Verify(tokenStr string, policy VerificationPolicy) (*Claims, error) {
	claims := &Claims{}

	if policy == VerifyPermissive {
		if _, _, err := v.parser.ParseUnverified(tokenStr, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidToken, err)
		}
		return claims, nil
	}

	token, err := v.parser.ParseWithClaims(tokenStr, claims, v.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: token not valid", apperr.ErrInvalidToken)
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", apperr.ErrInvalidToken, claims.Role)
	}
	return claims, nil
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return v.key, nil
}

// Package auth verifies bearer tokens and resolves the calling actor.
// Verification is stateless; role permissions are read through a
// PermissionSource when the token does not carry them.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/amber7117/server-api/domain/access"
	"github.com/amber7117/server-api/pkg/apierr"
	"github.com/amber7117/server-api/ports"
	"github.com/golang-jwt/jwt/v5"
)

// Identity error codes.
const (
	CodeTokenExpired = "auth/id-token-expired"
	CodeInvalidToken = "auth/invalid-id-token"
)

// Claims represents the JWT claims of an actor.
type Claims struct {
	UserID      string   `json:"uid"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// JWT issues and verifies HMAC-signed tokens.
// Thread-safe and suitable for concurrent use.
type JWT struct {
	secret      []byte
	issuer      string
	expiration  time.Duration
	clock       ports.Clock
	permissions ports.PermissionSource
}

// Option configures a JWT.
type Option func(*JWT)

// WithClock sets the time source used for issuing and validating tokens.
func WithClock(c ports.Clock) Option {
	return func(j *JWT) { j.clock = c }
}

// WithPermissions resolves role permissions for tokens that carry none.
func WithPermissions(src ports.PermissionSource) Option {
	return func(j *JWT) { j.permissions = src }
}

// NewJWT creates a token service. If secret is empty, a random 32-byte
// secret is generated.
func NewJWT(secret, issuer string, expiration time.Duration, opts ...Option) *JWT {
	var secretBytes []byte
	if secret == "" {
		secretBytes = make([]byte, 32)
		rand.Read(secretBytes)
	} else {
		secretBytes = []byte(secret)
	}

	if expiration == 0 {
		expiration = 24 * time.Hour
	}

	j := &JWT{
		secret:     secretBytes,
		issuer:     issuer,
		expiration: expiration,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *JWT) now() time.Time {
	if j.clock != nil {
		return j.clock.Now().UTC()
	}
	return time.Now().UTC()
}

// GenerateToken creates a new token for the given actor.
func (j *JWT) GenerateToken(a access.Actor) (string, time.Time, error) {
	now := j.now()
	expiresAt := now.Add(j.expiration)

	claims := Claims{
		UserID:      a.ID,
		Email:       a.Email,
		Role:        a.Role,
		Permissions: a.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   a.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a token and returns its claims. Failures are
// *apierr.AuthError values.
func (j *JWT) ValidateToken(tokenString string) (*Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithTimeFunc(j.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if j.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &apierr.AuthError{Code: CodeTokenExpired, Message: "token has expired"}
		}
		return nil, &apierr.AuthError{Code: CodeInvalidToken, Message: "invalid token"}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, &apierr.AuthError{Code: CodeInvalidToken, Message: "invalid token"}
	}
	return claims, nil
}

// Authenticate implements ports.Authenticator.
func (j *JWT) Authenticate(ctx context.Context, token string) (*access.Actor, error) {
	claims, err := j.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	actor := &access.Actor{
		ID:          claims.UserID,
		Email:       claims.Email,
		Role:        claims.Role,
		Permissions: claims.Permissions,
	}
	if actor.ID == "" {
		actor.ID = claims.Subject
	}
	if len(actor.Permissions) == 0 && actor.Role != "" && j.permissions != nil {
		perms, err := j.permissions.Permissions(ctx, actor.Role)
		if err != nil {
			return nil, err
		}
		actor.Permissions = perms
	}
	return actor, nil
}

// GenerateSecret generates a random secret suitable for JWT signing.
func GenerateSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Ensure interface compliance.
var _ ports.Authenticator = (*JWT)(nil)

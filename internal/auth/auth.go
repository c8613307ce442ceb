// Package auth decides whether a connection may bind itself to a user id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"buddyhub/pkg/interfaces"
	"buddyhub/pkg/types"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrSubjectMismatch = errors.New("token subject does not match user id")
	ErrTokenRequired   = errors.New("token required")
)

// AllowAll accepts any well-formed user id. It is used when no signing secret
// is configured, which matches the trust model of a hub that sits behind the
// social network's own session layer.
type AllowAll struct{}

func (AllowAll) Authenticate(ctx context.Context, userID, token string) error {
	if !types.IsValidUserID(userID) {
		return fmt.Errorf("%w: %w", interfaces.ErrUnauthorized, types.ErrInvalidUserID)
	}
	return nil
}

// JWTAuthenticator accepts an HS256 token whose subject is the user id.
type JWTAuthenticator struct {
	secret []byte
	now    func() time.Time
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), now: time.Now}
}

func (a *JWTAuthenticator) Authenticate(ctx context.Context, userID, token string) error {
	if !types.IsValidUserID(userID) {
		return fmt.Errorf("%w: %w", interfaces.ErrUnauthorized, types.ErrInvalidUserID)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: %w", interfaces.ErrUnauthorized, ErrTokenRequired)
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil || !parsed.Valid {
		return fmt.Errorf("%w: %w", interfaces.ErrUnauthorized, ErrInvalidToken)
	}
	if claims.Subject != userID {
		return fmt.Errorf("%w: %w", interfaces.ErrUnauthorized, ErrSubjectMismatch)
	}
	return nil
}

// Issue signs a token for userID. A non-positive ttl produces a token
// without expiry. Used by tests and local tooling.
func (a *JWTAuthenticator) Issue(userID string, ttl time.Duration) (string, error) {
	if !types.IsValidUserID(userID) {
		return "", types.ErrInvalidUserID
	}
	claims := jwt.RegisteredClaims{
		Subject:  userID,
		IssuedAt: jwt.NewNumericDate(a.now()),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(a.now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// New returns a JWT authenticator when secret is set and AllowAll otherwise.
func New(secret string) interfaces.Authenticator {
	if strings.TrimSpace(secret) == "" {
		return AllowAll{}
	}
	return NewJWTAuthenticator(secret)
}

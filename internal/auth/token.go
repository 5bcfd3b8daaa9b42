// Package auth verifies bearer tokens into session identities and publishes
// sign-in and sign-out events for the session registry.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"eventrides/internal/domain"
	"eventrides/internal/session"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingToken = errors.New("missing token")
)

const issuer = "eventrides"

// Claims carries the profiles attached to an account. A public profile is
// present when Name is set and a school profile when Email is set.
type Claims struct {
	Name          string `json:"name,omitempty"`
	Provider      string `json:"provider,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	jwt.RegisteredClaims
}

// Verifier signs and checks HS256 tokens.
type Verifier struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewVerifier returns a verifier for secret. Issued tokens live for ttl.
func NewVerifier(secret string, ttl time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for identity.
func (v *Verifier) Issue(id session.Identity) (string, error) {
	if id.UID == "" {
		return "", session.ErrInvalidIdentity
	}
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	if id.Public != nil {
		claims.Name = id.Public.DisplayName
		claims.Provider = id.Public.ProviderID
	}
	if id.School != nil {
		claims.Email = id.School.Email
		claims.EmailVerified = id.School.EmailVerified
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of token and returns its identity.
func (v *Verifier) Verify(token string) (session.Identity, error) {
	if token == "" {
		return session.Identity{}, ErrMissingToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil || !parsed.Valid {
		return session.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return session.Identity{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}

	id := session.Identity{UID: claims.Subject}
	if claims.Name != "" {
		id.Public = &domain.PublicProfile{DisplayName: claims.Name, ProviderID: claims.Provider}
	}
	if claims.Email != "" {
		id.School = &domain.SchoolProfile{Email: claims.Email, EmailVerified: claims.EmailVerified}
	}
	return id, nil
}

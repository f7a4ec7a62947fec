// Package credential fetches the short-lived token a device session uses to
// register with the telephony gateway. A fresh credential is requested for
// every registration attempt.
package credential

import (
	"context"
	"errors"
	"time"
)

var ErrEmptyToken = errors.New("credential: issuer returned an empty token")

// Credential is what the gateway needs for one registration handshake.
type Credential struct {
	Identity  string    `json:"identity"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the credential is no longer valid at now. A zero
// ExpiresAt never expires.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Issuer is the signaling/auth boundary.
type Issuer interface {
	FetchSessionCredential(ctx context.Context, authToken string) (Credential, error)
}

// IssuerFunc adapts a function to Issuer.
type IssuerFunc func(ctx context.Context, authToken string) (Credential, error)

func (f IssuerFunc) FetchSessionCredential(ctx context.Context, authToken string) (Credential, error) {
	return f(ctx, authToken)
}

// StaticIssuer hands out a configured secret, e.g. a fixed AMI login. The
// operator token is not consulted.
type StaticIssuer struct {
	Identity string
	Secret   string
	TTL      time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

func (s StaticIssuer) FetchSessionCredential(ctx context.Context, _ string) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	if s.Secret == "" {
		return Credential{}, ErrEmptyToken
	}
	c := Credential{Identity: s.Identity, Token: s.Secret}
	if s.TTL > 0 {
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		c.ExpiresAt = now().Add(s.TTL)
	}
	return c, nil
}

// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package jointoken issues and verifies realtime room join tokens.
//
// A join token authorizes one identity to join the room for one space.
// The sync service issues tokens from its token endpoint; the room
// server verifies them during the signaling join. Tokens are HS256
// JWTs with a short lifetime: they authorize joining, not staying, so
// an expired token never ejects an established connection.
//
// Authorization policy (who may request a token for which space) is
// out of scope here; this package only does the mechanical
// issue/verify work once the policy has said yes.
package jointoken

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/loomchat/loom/lib/clock"
	"github.com/loomchat/loom/lib/ref"
)

// DefaultTTL is the token lifetime when IssuerConfig.TTL is zero.
// Long enough to cover signaling (one HTTP round trip plus ICE
// gathering), short enough that a leaked token goes stale quickly.
const DefaultTTL = 2 * time.Minute

// Claims is the JWT claim set carried by a join token.
type Claims struct {
	// Scope is the space whose room this token grants entry to.
	Scope string `json:"loom_scope"`

	// Identity is the participant identity the holder joins as.
	Identity string `json:"loom_identity"`

	jwt.RegisteredClaims
}

// IssuerConfig holds the parameters for creating an Issuer.
type IssuerConfig struct {
	// Secret is the HMAC signing key, shared between the token
	// endpoint and the room server. Required, minimum 32 bytes.
	Secret []byte

	// TTL is the token lifetime. Zero means DefaultTTL.
	TTL time.Duration

	// Clock stamps IssuedAt/ExpiresAt and drives verification time.
	// Nil means the real clock.
	Clock clock.Clock
}

// Issuer creates and verifies join tokens with a shared HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

// NewIssuer validates the config and returns an Issuer.
func NewIssuer(config IssuerConfig) (*Issuer, error) {
	if len(config.Secret) < 32 {
		return nil, fmt.Errorf("jointoken: secret must be at least 32 bytes, got %d", len(config.Secret))
	}
	ttl := config.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Issuer{secret: config.Secret, ttl: ttl, clock: clk}, nil
}

// Issue creates a signed join token for identity to join scope's room.
func (i *Issuer) Issue(scope ref.SpaceID, identity ref.ParticipantID) (string, error) {
	if scope.IsZero() {
		return "", fmt.Errorf("jointoken: zero scope")
	}
	if identity.IsZero() {
		return "", fmt.Errorf("jointoken: zero identity")
	}

	now := i.clock.Now()
	claims := Claims{
		Scope:    scope.String(),
		Identity: identity.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("jointoken: signing: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, expiry, and scope binding of a join
// token, returning the participant identity it grants. The scope
// check is part of verification: a token for one space is useless for
// any other.
func (i *Issuer) Verify(raw string, scope ref.SpaceID) (ref.ParticipantID, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return ref.ParticipantID{}, fmt.Errorf("jointoken: invalid token: %w", err)
	}

	if claims.Scope != scope.String() {
		return ref.ParticipantID{}, fmt.Errorf("jointoken: token scope %q does not grant %q", claims.Scope, scope)
	}

	identity, err := ref.ParseParticipantID(claims.Identity)
	if err != nil {
		return ref.ParticipantID{}, fmt.Errorf("jointoken: malformed identity claim: %w", err)
	}
	return identity, nil
}

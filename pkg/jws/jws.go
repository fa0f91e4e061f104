// Package jws builds and reads compact signed tokens (JWTs).
//
// Tokens are signed with ES256 and carry the signer's public key in the
// "jwk" header, which is what DPoP proofs require. Reading helpers do not
// verify signatures unless stated; they are meant for inspecting tokens the
// caller received from a trusted endpoint, such as the exp claim of an ID
// token.
package jws

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultLifetime is how long a built token stays valid when no exp is given.
const DefaultLifetime = 5 * time.Minute

var (
	// ErrNotJWT is returned when a token is not in compact serialization.
	ErrNotJWT = errors.New("token is not a compact JWT")

	// ErrNoExpiry is returned when a token carries no exp claim.
	ErrNoExpiry = errors.New("token has no exp claim")
)

// Builder signs compact tokens. The zero value is not usable; use New.
type Builder struct {
	lifetime time.Duration
	now      func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithLifetime sets the default lifetime of built tokens.
func WithLifetime(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.lifetime = d
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// New creates a Builder.
func New(opts ...Option) *Builder {
	b := &Builder{
		lifetime: DefaultLifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Lifetime returns the default token lifetime.
func (b *Builder) Lifetime() time.Duration {
	return b.lifetime
}

// Sign builds a token of the given type with the claims supplied and signs it
// with key. The iat, exp and jti claims are filled in unless the caller
// already set them.
func (b *Builder) Sign(key *ecdsa.PrivateKey, typ string, claims map[string]any) (string, error) {
	if key == nil {
		return "", errors.New("signing key is required")
	}

	now := b.now()
	payload := make(map[string]any, len(claims)+3)
	payload["iat"] = now.Unix()
	payload["exp"] = now.Add(b.lifetime).Unix()
	payload["jti"] = uuid.New().String()
	for k, v := range claims {
		payload[k] = v
	}

	opts := (&jose.SignerOptions{}).WithHeader("jwk", jose.JSONWebKey{
		Key:       &key.PublicKey,
		Algorithm: string(jose.ES256),
	})
	if typ != "" {
		opts = opts.WithType(jose.ContentType(typ))
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: key}, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}

	token, err := josejwt.Signed(signer).Claims(payload).Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize token: %w", err)
	}
	return token, nil
}

// Decode splits a compact token and returns its header and claims without
// checking the signature.
func Decode(token string) (header, claims map[string]any, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, nil, ErrNotJWT
	}

	if err := decodeSegment(parts[0], &header); err != nil {
		return nil, nil, fmt.Errorf("failed to decode header: %w", err)
	}
	if err := decodeSegment(parts[1], &claims); err != nil {
		return nil, nil, fmt.Errorf("failed to decode claims: %w", err)
	}
	return header, claims, nil
}

func decodeSegment(seg string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// ExpiresAt reads the exp claim of a token without verifying it.
func ExpiresAt(token string) (time.Time, error) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, ErrNotJWT
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrNotJWT, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, ErrNoExpiry
	}
	return exp.Time, nil
}

// VerifyEmbedded checks the signature of an ES256 token against the public
// key in its own jwk header and decodes the claims into out.
// It returns the embedded key.
func VerifyEmbedded(token string, out any) (*jose.JSONWebKey, error) {
	parsed, err := josejwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if len(parsed.Headers) == 0 || parsed.Headers[0].JSONWebKey == nil {
		return nil, errors.New("token has no embedded jwk")
	}

	jwk := parsed.Headers[0].JSONWebKey
	if err := parsed.Claims(jwk.Key, out); err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}
	return jwk, nil
}

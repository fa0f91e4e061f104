// Package dpop creates DPoP proofs (RFC 9449) that bind access tokens to a
// key held by the client.
//
// A proof is a compact ES256 JWT with typ "dpop+jwt" whose header embeds the
// public key and whose claims name the HTTP method (htm) and target URI (htu)
// of exactly one request. A new proof is made for every request.
package dpop

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"podauth/pkg/jws"

	"github.com/go-jose/go-jose/v4"
)

// HeaderName is the request header carrying the proof.
const HeaderName = "DPoP"

// ProofType is the typ header value of a DPoP proof.
const ProofType = "dpop+jwt"

// DefaultProofLifetime is the validity window of a proof.
const DefaultProofLifetime = jws.DefaultLifetime

// Claims is the payload of a DPoP proof.
type Claims struct {
	HTU string `json:"htu"`
	HTM string `json:"htm"`
	IAT int64  `json:"iat"`
	EXP int64  `json:"exp"`
	JTI string `json:"jti"`
}

// Signer makes DPoP proofs.
type Signer struct {
	builder *jws.Builder
}

// SignerOption configures a Signer.
type SignerOption func(*signerConfig)

type signerConfig struct {
	lifetime time.Duration
	now      func() time.Time
}

// WithLifetime sets how long proofs stay valid.
func WithLifetime(d time.Duration) SignerOption {
	return func(c *signerConfig) { c.lifetime = d }
}

// WithClock replaces the time source used for iat and exp.
func WithClock(now func() time.Time) SignerOption {
	return func(c *signerConfig) { c.now = now }
}

// NewSigner creates a proof signer.
func NewSigner(opts ...SignerOption) *Signer {
	cfg := signerConfig{lifetime: DefaultProofLifetime, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Signer{builder: jws.New(jws.WithLifetime(cfg.lifetime), jws.WithClock(cfg.now))}
}

// Lifetime returns the proof validity window.
func (s *Signer) Lifetime() time.Duration {
	return s.builder.Lifetime()
}

// Proof signs a proof for one request. targetURI and method are embedded
// exactly as given; use TargetURI to derive the former from a request URL.
func (s *Signer) Proof(targetURI, method string, key *KeyPair) (string, error) {
	if key == nil || key.Private == nil {
		return "", errors.New("DPoP key is required")
	}
	proof, err := s.builder.Sign(key.Private, ProofType, map[string]any{
		"htu": targetURI,
		"htm": method,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign DPoP proof: %w", err)
	}
	return proof, nil
}

// TargetURI returns u without its query and fragment, the form used for htu.
func TargetURI(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	c.ForceQuery = false
	c.Fragment = ""
	c.RawFragment = ""
	c.User = nil
	return c.String()
}

// ParseProof verifies a proof against the key embedded in it and returns
// its claims together with the embedded key.
func ParseProof(proof string) (*Claims, *jose.JSONWebKey, error) {
	header, _, err := jws.Decode(proof)
	if err != nil {
		return nil, nil, err
	}
	if typ, _ := header["typ"].(string); typ != ProofType {
		return nil, nil, fmt.Errorf("unexpected proof type %q", typ)
	}

	var claims Claims
	jwk, err := jws.VerifyEmbedded(proof, &claims)
	if err != nil {
		return nil, nil, err
	}
	return &claims, jwk, nil
}

package dpop

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// KeyPair is an ECDSA P-256 key used to sign DPoP proofs. A key is created
// when tokens are obtained and lives exactly as long as the tokens bound to
// it.
type KeyPair struct {
	Private *ecdsa.PrivateKey
}

// GenerateKey creates a fresh P-256 key pair.
func GenerateKey() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate DPoP key: %w", err)
	}
	return &KeyPair{Private: priv}, nil
}

// PublicJWK returns the public half as a JSON Web Key.
func (k *KeyPair) PublicJWK() jose.JSONWebKey {
	return jose.JSONWebKey{Key: &k.Private.PublicKey, Algorithm: string(jose.ES256), Use: "sig"}
}

// Thumbprint returns the base64url SHA-256 JWK thumbprint of the public key
// (the value a server stores as "jkt").
func (k *KeyPair) Thumbprint() (string, error) {
	jwk := k.PublicJWK()
	sum, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

type keyPairJSON struct {
	PublicKey  jose.JSONWebKey `json:"publicKey"`
	PrivateKey jose.JSONWebKey `json:"privateKey"`
}

// MarshalJSON encodes the pair as {"publicKey": JWK, "privateKey": JWK}.
func (k *KeyPair) MarshalJSON() ([]byte, error) {
	if k == nil || k.Private == nil {
		return []byte("null"), nil
	}
	return json.Marshal(keyPairJSON{
		PublicKey:  k.PublicJWK(),
		PrivateKey: jose.JSONWebKey{Key: k.Private, Algorithm: string(jose.ES256), Use: "sig"},
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (k *KeyPair) UnmarshalJSON(data []byte) error {
	var raw keyPairJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode DPoP key pair: %w", err)
	}
	priv, ok := raw.PrivateKey.Key.(*ecdsa.PrivateKey)
	if !ok {
		return errors.New("DPoP key pair has no ECDSA private key")
	}
	if priv.Curve != elliptic.P256() {
		return errors.New("DPoP key pair must use P-256")
	}
	k.Private = priv
	return nil
}

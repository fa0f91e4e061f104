// Package handoff moves a token response from the authentication window back
// to the process that opened it without exposing it in URLs.
//
// The opener generates an RSA-OAEP key pair and passes the public half, as a
// base64 encoded JWK, in the window URL. The window encrypts its payload with
// a fresh AES-256-GCM key, wraps that key (as a JWK) with the opener's public
// key and posts a Message. Only the opener can unwrap the key and decrypt the
// payload.
package handoff

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// DefaultKeyBits is the modulus length of opener keys.
const DefaultKeyBits = 4096

// Message types.
const (
	TypeAuthorized = "authorized"
	TypeError      = "error"
)

const (
	aesKeyBytes = 32
	ivBytes     = 12
)

// ErrNotAuthorized is returned by Open for error messages.
var ErrNotAuthorized = errors.New("authentication window reported an error")

// Algorithm describes the symmetric encryption of Message.Response.
type Algorithm struct {
	Name   string `json:"name"`
	Length int    `json:"length"`
	IV     []byte `json:"iv"`
}

// Message is what the authentication window posts to its opener.
type Message struct {
	Type      string     `json:"type"`
	Algorithm *Algorithm `json:"algorithm,omitempty"`

	// Key is the AES key as JWK JSON, encrypted with RSA-OAEP (SHA-256).
	Key []byte `json:"key,omitempty"`

	// Response is the AES-GCM ciphertext of the JSON payload.
	Response []byte `json:"response,omitempty"`

	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// OpenerKey is the opener's RSA-OAEP key pair. It is used for one
// acquisition only.
type OpenerKey struct {
	priv *rsa.PrivateKey
}

// GenerateOpenerKey creates an opener key. bits <= 0 selects DefaultKeyBits.
func GenerateOpenerKey(bits int) (*OpenerKey, error) {
	if bits <= 0 {
		bits = DefaultKeyBits
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate opener key: %w", err)
	}
	return &OpenerKey{priv: priv}, nil
}

// PublicParam returns the public key as base64 encoded JWK JSON, the value
// of the window's "key" URL parameter.
func (k *OpenerKey) PublicParam() (string, error) {
	raw, err := json.Marshal(jose.JSONWebKey{
		Key:       &k.priv.PublicKey,
		Algorithm: string(jose.RSA_OAEP_256),
		Use:       "enc",
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode opener key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// ParsePublicParam decodes a value produced by PublicParam.
func ParsePublicParam(param string) (*rsa.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(param)
	if err != nil {
		return nil, fmt.Errorf("invalid key parameter: %w", err)
	}
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("invalid key parameter: %w", err)
	}
	pub, ok := jwk.Key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("key parameter is not an RSA public key")
	}
	return pub, nil
}

// Seal encrypts payload for the holder of pub.
func Seal(pub *rsa.PublicKey, payload any) (*Message, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	aesKey := make([]byte, aesKeyBytes)
	iv := make([]byte, ivBytes)
	if _, err := rand.Read(aesKey); err != nil {
		return nil, err
	}
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	gcm, err := newGCM(aesKey)
	if err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, iv, plaintext, nil)

	keyJWK, err := json.Marshal(jose.JSONWebKey{Key: aesKey, Algorithm: string(jose.A256GCM)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode content key: %w", err)
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, keyJWK, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap content key: %w", err)
	}

	return &Message{
		Type:      TypeAuthorized,
		Algorithm: &Algorithm{Name: "AES-GCM", Length: aesKeyBytes * 8, IV: iv},
		Key:       wrapped,
		Response:  ciphertext,
	}, nil
}

// ErrorMessage builds the message posted when authorization failed.
func ErrorMessage(code, description string) *Message {
	return &Message{Type: TypeError, Error: code, ErrorDescription: description}
}

// Open unwraps the content key of msg, decrypts the payload and decodes it
// into out.
func (k *OpenerKey) Open(msg *Message, out any) error {
	if msg == nil {
		return errors.New("no message")
	}
	if msg.Type == TypeError {
		return fmt.Errorf("%w: %s %s", ErrNotAuthorized, msg.Error, msg.ErrorDescription)
	}
	if msg.Type != TypeAuthorized || msg.Algorithm == nil {
		return fmt.Errorf("unexpected message type %q", msg.Type)
	}
	if msg.Algorithm.Name != "AES-GCM" || msg.Algorithm.Length != aesKeyBytes*8 {
		return fmt.Errorf("unsupported content algorithm %s/%d", msg.Algorithm.Name, msg.Algorithm.Length)
	}

	keyJWK, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, k.priv, msg.Key, nil)
	if err != nil {
		return fmt.Errorf("failed to unwrap content key: %w", err)
	}
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(keyJWK); err != nil {
		return fmt.Errorf("failed to decode content key: %w", err)
	}
	aesKey, ok := jwk.Key.([]byte)
	if !ok || len(aesKey) != aesKeyBytes {
		return errors.New("content key is not a 256-bit symmetric key")
	}

	gcm, err := newGCM(aesKey)
	if err != nil {
		return err
	}
	if len(msg.Algorithm.IV) != gcm.NonceSize() {
		return errors.New("invalid IV length")
	}
	plaintext, err := gcm.Open(nil, msg.Algorithm.IV, msg.Response, nil)
	if err != nil {
		return fmt.Errorf("failed to decrypt response: %w", err)
	}

	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

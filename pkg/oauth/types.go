package oauth

import (
	"strings"
	"time"

	"podauth/pkg/dpop"

	"golang.org/x/oauth2"
)

// ExpiryMargin is how close to expiry credentials, UMA tokens and client
// registrations may get before they are treated as expired.
const ExpiryMargin = 10 * time.Second

// DefaultScopes are requested in every authorization request.
var DefaultScopes = []string{"openid", "webid"}

// Authorization schemes used when upgrading a request.
const (
	SchemeBearer = "Bearer"
	SchemeDPoP   = "DPoP"
)

// Token is a credential that can be attached to a request.
type Token interface {
	// Value returns the raw token string.
	Value() string

	// DPoPKey returns the key the token is bound to, or nil for plain
	// bearer tokens.
	DPoPKey() *dpop.KeyPair
}

// AccessToken is a plain bearer token.
type AccessToken string

func (t AccessToken) Value() string { return string(t) }

func (t AccessToken) DPoPKey() *dpop.KeyPair { return nil }

// DPoPBoundAccessToken is a token that must be presented together with a
// DPoP proof signed by Key.
type DPoPBoundAccessToken struct {
	Token string
	Key   *dpop.KeyPair
}

func (t DPoPBoundAccessToken) Value() string { return t.Token }

func (t DPoPBoundAccessToken) DPoPKey() *dpop.KeyPair { return t.Key }

// AuthorizationScheme returns "DPoP" for bound tokens and "Bearer" otherwise.
func AuthorizationScheme(t Token) string {
	if t.DPoPKey() != nil {
		return SchemeDPoP
	}
	return SchemeBearer
}

// TokenResponse is the token endpoint response of an authorization code
// exchange.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`

	// ReceivedAt is when the response arrived. It anchors ExpiresIn.
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// tokenResponseFromOAuth2 converts a golang.org/x/oauth2 token.
func tokenResponseFromOAuth2(tok *oauth2.Token, receivedAt time.Time) *TokenResponse {
	resp := &TokenResponse{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    tok.ExpiresIn,
		RefreshToken: tok.RefreshToken,
		ReceivedAt:   receivedAt,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		resp.IDToken = idToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	if resp.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(tok.Expiry.Sub(receivedAt).Round(time.Second) / time.Second)
	}
	return resp
}

// Scopes returns the scope as a slice of individual scopes.
func (t *TokenResponse) Scopes() []string {
	if t.Scope == "" {
		return nil
	}
	return strings.Fields(t.Scope)
}

// Metadata is an OpenID Provider / OAuth 2.0 Authorization Server metadata
// document.
type Metadata struct {
	// Issuer is the authorization server's issuer identifier.
	Issuer string `json:"issuer"`

	// AuthorizationEndpoint is the URL of the authorization endpoint.
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// TokenEndpoint is the URL of the token endpoint.
	TokenEndpoint string `json:"token_endpoint"`

	// UserinfoEndpoint is the URL of the userinfo endpoint (OIDC).
	UserinfoEndpoint string `json:"userinfo_endpoint,omitempty"`

	// JwksURI is the URL of the JSON Web Key Set.
	JwksURI string `json:"jwks_uri,omitempty"`

	// RegistrationEndpoint is the URL for dynamic client registration.
	RegistrationEndpoint string `json:"registration_endpoint,omitempty"`

	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	DPoPSigningAlgValuesSupported     []string `json:"dpop_signing_alg_values_supported,omitempty"`
}

// SupportsPKCE returns true if the server supports S256 PKCE.
func (m *Metadata) SupportsPKCE() bool {
	for _, method := range m.CodeChallengeMethodsSupported {
		if method == PKCEMethod {
			return true
		}
	}
	// If not specified, assume S256 is supported (OAuth 2.1 requirement)
	return len(m.CodeChallengeMethodsSupported) == 0
}

// SupportsDPoP reports whether the provider advertises ES256 DPoP proofs.
// Providers that say nothing are assumed to accept them.
func (m *Metadata) SupportsDPoP() bool {
	for _, alg := range m.DPoPSigningAlgValuesSupported {
		if alg == "ES256" {
			return true
		}
	}
	return len(m.DPoPSigningAlgValuesSupported) == 0
}

// ClientMetadata is the dynamic client registration request (RFC 7591).
type ClientMetadata struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// ClientRegistration is the registration response (RFC 7591 section 3.2.1).
type ClientRegistration struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at,omitempty"`
	RegistrationAccessToken string   `json:"registration_access_token,omitempty"`
	RegistrationClientURI   string   `json:"registration_client_uri,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
}

// ExpiresWithin reports whether the client secret expires less than margin
// after now. A ClientSecretExpiresAt of 0 means the registration never
// expires.
func (r *ClientRegistration) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if r.ClientSecretExpiresAt == 0 {
		return false
	}
	return time.Unix(r.ClientSecretExpiresAt, 0).Sub(now) < margin
}

// CacheExpiry is when the client secret expires, or the zero time when it
// never does.
func (r ClientRegistration) CacheExpiry() time.Time {
	if r.ClientSecretExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(r.ClientSecretExpiresAt, 0)
}

func (r *ClientRegistration) allowsRedirect(redirectURI string) bool {
	if len(r.RedirectURIs) == 0 {
		return true
	}
	for _, u := range r.RedirectURIs {
		if u == redirectURI {
			return true
		}
	}
	return false
}

// PKCEChallenge represents a PKCE (Proof Key for Code Exchange) challenge.
type PKCEChallenge struct {
	// CodeVerifier is kept by the client and sent only with the code exchange.
	CodeVerifier string

	// CodeChallenge is sent in the authorization request.
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}

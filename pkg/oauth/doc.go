// Package oauth implements the OpenID Connect pieces podauth needs to obtain
// tokens: provider discovery, dynamic client registration, authorization
// URLs with PKCE, and DPoP-bound authorization code exchange.
//
// # Core Components
//
//   - Client: discovery, registration and code exchange against one or more
//     identity providers, with pluggable caches
//   - Token, AccessToken, DPoPBoundAccessToken: credentials attached to requests
//   - TokenResponse: the token endpoint response
//   - ClientRegistration: a dynamically registered client and its expiry
//   - PKCE: Proof Key for Code Exchange generation (RFC 7636)
//   - ParseWWWAuthenticate: challenge header parsing
//
// # Usage
//
//	client := oauth.NewClient(oauth.WithLogger(logger))
//	meta, err := client.DiscoverMetadata(ctx, issuer)
//	reg, err := client.Register(ctx, issuer, redirectURI)
//	pkce, err := oauth.GeneratePKCE()
//	authURL := client.AuthorizationURL(meta, reg, redirectURI, state, pkce)
//	// ... user authorizes, callback delivers code ...
//	tokens, err := client.ExchangeCode(ctx, meta, reg, redirectURI, code, pkce.CodeVerifier, dpopKey)
package oauth

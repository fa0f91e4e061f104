package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"podauth/pkg/cache"
	"podauth/pkg/dpop"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultClientName is sent with dynamic registration requests.
	DefaultClientName = "podauth"
)

// ErrNoRegistrationEndpoint is returned by Register when the provider does
// not support dynamic client registration.
var ErrNoRegistrationEndpoint = errors.New("identity provider has no registration endpoint")

// Client handles the OpenID Connect protocol operations.
// It provides metadata discovery, dynamic registration and code exchange.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	signer     *dpop.Signer
	now        func() time.Time
	clientName string

	metadataCache cache.Cache[Metadata]
	registrations cache.Cache[ClientRegistration]

	// group deduplicates concurrent discovery and registration calls
	group singleflight.Group
}

// ClientOption configures the OAuth client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDPoPSigner sets the signer used for token endpoint proofs.
func WithDPoPSigner(signer *dpop.Signer) ClientOption {
	return func(c *Client) {
		c.signer = signer
	}
}

// WithClock replaces the time source used for registration expiry.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// WithMetadataCache sets the cache holding discovery documents by issuer.
func WithMetadataCache(mc cache.Cache[Metadata]) ClientOption {
	return func(c *Client) {
		c.metadataCache = mc
	}
}

// WithRegistrationCache sets the cache holding client registrations by issuer.
func WithRegistrationCache(rc cache.Cache[ClientRegistration]) ClientOption {
	return func(c *Client) {
		c.registrations = rc
	}
}

// WithClientName sets the client_name sent when registering.
func WithClientName(name string) ClientOption {
	return func(c *Client) {
		c.clientName = name
	}
}

// NewClient creates a new OAuth client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: DefaultHTTPTimeout},
		logger:        slog.Default(),
		signer:        dpop.NewSigner(),
		now:           time.Now,
		clientName:    DefaultClientName,
		metadataCache: cache.NewMemory[Metadata](),
		registrations: cache.NewMemory[ClientRegistration](),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func normalizeIssuer(issuer string) string {
	return strings.TrimSuffix(issuer, "/")
}

// DiscoverMetadata fetches the provider configuration from
// /.well-known/openid-configuration, falling back to RFC 8414
// (/.well-known/oauth-authorization-server).
//
// Results are cached for the lifetime of the metadata cache.
func (c *Client) DiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	issuer = normalizeIssuer(issuer)

	if m, ok, err := c.metadataCache.Get(ctx, issuer); err != nil {
		c.logger.Warn("Metadata cache read failed", "issuer", issuer, "error", err)
	} else if ok {
		return &m, nil
	}

	result, err, _ := c.group.Do("discover:"+issuer, func() (interface{}, error) {
		// Double-check cache after acquiring singleflight lock
		if m, ok, err := c.metadataCache.Get(ctx, issuer); err == nil && ok {
			return &m, nil
		}
		return c.doDiscoverMetadata(ctx, issuer)
	})
	if err != nil {
		return nil, err
	}

	return result.(*Metadata), nil
}

func (c *Client) doDiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	wellKnownURL := issuer + "/.well-known/openid-configuration"
	metadata, err := c.fetchMetadata(ctx, wellKnownURL)
	if err != nil {
		c.logger.Debug("OIDC metadata fetch failed, trying RFC 8414",
			"issuer", issuer,
			"error", err)

		wellKnownURL = issuer + "/.well-known/oauth-authorization-server"
		metadata, err = c.fetchMetadata(ctx, wellKnownURL)
		if err != nil {
			return nil, fmt.Errorf("failed to discover OIDC metadata for %s: %w", issuer, err)
		}
	}

	if err := c.metadataCache.Set(ctx, issuer, *metadata); err != nil {
		c.logger.Warn("Metadata cache write failed", "issuer", issuer, "error", err)
	}

	c.logger.Debug("Cached OIDC metadata",
		"issuer", issuer,
		"authorization_endpoint", metadata.AuthorizationEndpoint,
		"token_endpoint", metadata.TokenEndpoint)

	return metadata, nil
}

func (c *Client) fetchMetadata(ctx context.Context, metadataURL string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata request failed with status %d", resp.StatusCode)
	}

	var metadata Metadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if metadata.AuthorizationEndpoint == "" || metadata.TokenEndpoint == "" {
		return nil, errors.New("metadata lacks authorization or token endpoint")
	}

	return &metadata, nil
}

// Register returns a client registration for issuer, registering a new
// client when none is cached, the cached one expires within ExpiryMargin or
// it was registered for a different redirect URI.
func (c *Client) Register(ctx context.Context, issuer, redirectURI string) (*ClientRegistration, error) {
	issuer = normalizeIssuer(issuer)

	if reg, ok := c.cachedRegistration(ctx, issuer, redirectURI); ok {
		return reg, nil
	}

	result, err, _ := c.group.Do("register:"+issuer, func() (interface{}, error) {
		if reg, ok := c.cachedRegistration(ctx, issuer, redirectURI); ok {
			return reg, nil
		}
		return c.doRegister(ctx, issuer, redirectURI)
	})
	if err != nil {
		return nil, err
	}

	return result.(*ClientRegistration), nil
}

func (c *Client) cachedRegistration(ctx context.Context, issuer, redirectURI string) (*ClientRegistration, bool) {
	reg, ok, err := c.registrations.Get(ctx, issuer)
	if err != nil {
		c.logger.Warn("Registration cache read failed", "issuer", issuer, "error", err)
		return nil, false
	}
	if !ok || reg.ExpiresWithin(c.now(), ExpiryMargin) || !reg.allowsRedirect(redirectURI) {
		return nil, false
	}
	return &reg, true
}

func (c *Client) doRegister(ctx context.Context, issuer, redirectURI string) (*ClientRegistration, error) {
	metadata, err := c.DiscoverMetadata(ctx, issuer)
	if err != nil {
		return nil, err
	}
	if metadata.RegistrationEndpoint == "" {
		return nil, ErrNoRegistrationEndpoint
	}

	body, err := json.Marshal(ClientMetadata{
		RedirectURIs:  []string{redirectURI},
		ClientName:    c.clientName,
		GrantTypes:    []string{"authorization_code"},
		ResponseTypes: []string{"code"},
		Scope:         strings.Join(DefaultScopes, " "),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, metadata.RegistrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read registration response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.logger.Debug("Registration request failed",
			"status", resp.StatusCode,
			"body", string(respBody))
		return nil, fmt.Errorf("registration request failed with status %d", resp.StatusCode)
	}

	var reg ClientRegistration
	if err := json.Unmarshal(respBody, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse registration response: %w", err)
	}
	if reg.ClientID == "" {
		return nil, errors.New("registration response has no client_id")
	}

	if err := c.registrations.Set(ctx, issuer, reg); err != nil {
		c.logger.Warn("Registration cache write failed", "issuer", issuer, "error", err)
	}

	c.logger.Info("SECURITY_AUDIT: Registered OAuth client",
		"issuer", issuer,
		"client_id", reg.ClientID,
		"secret_expires_at", reg.ClientSecretExpiresAt)

	return &reg, nil
}

// ForgetRegistration drops the cached registration for issuer.
func (c *Client) ForgetRegistration(ctx context.Context, issuer string) error {
	return c.registrations.Delete(ctx, normalizeIssuer(issuer))
}

// oauth2Config builds the golang.org/x/oauth2 configuration for a provider
// and client. Confidential clients authenticate with HTTP Basic.
func oauth2Config(metadata *Metadata, reg *ClientRegistration, redirectURI string) *oauth2.Config {
	style := oauth2.AuthStyleInParams
	if reg.ClientSecret != "" {
		style = oauth2.AuthStyleInHeader
	}

	return &oauth2.Config{
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   metadata.AuthorizationEndpoint,
			TokenURL:  metadata.TokenEndpoint,
			AuthStyle: style,
		},
		RedirectURL: redirectURI,
		Scopes:      DefaultScopes,
	}
}

// AuthorizationURL constructs the authorization request URL with the
// code flow, the default scopes, state and PKCE challenge.
func (c *Client) AuthorizationURL(metadata *Metadata, reg *ClientRegistration, redirectURI, state string, pkce *PKCEChallenge) string {
	var opts []oauth2.AuthCodeOption
	if pkce != nil {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", pkce.CodeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", pkce.CodeChallengeMethod),
		)
	}
	return oauth2Config(metadata, reg, redirectURI).AuthCodeURL(state, opts...)
}

// ExchangeCode exchanges an authorization code for tokens. When key is not
// nil every token endpoint request carries a DPoP proof signed by key, so
// the issued tokens are bound to it.
func (c *Client) ExchangeCode(ctx context.Context, metadata *Metadata, reg *ClientRegistration, redirectURI, code, codeVerifier string, key *dpop.KeyPair) (*TokenResponse, error) {
	httpClient := c.httpClient
	if key != nil {
		httpClient = &http.Client{
			Timeout:   c.httpClient.Timeout,
			Transport: &dpop.Transport{Base: c.httpClient.Transport, Signer: c.signer, Key: key},
		}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	opts := []oauth2.AuthCodeOption{oauth2.VerifierOption(codeVerifier)}
	if reg.ClientSecret != "" {
		opts = append(opts, oauth2.SetAuthURLParam("client_id", reg.ClientID))
	}

	tok, err := oauth2Config(metadata, reg, redirectURI).Exchange(ctx, code, opts...)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			c.logger.Debug("Token request failed",
				"status", retrieveErr.Response.StatusCode,
				"error_code", retrieveErr.ErrorCode)
		}
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}

	return tokenResponseFromOAuth2(tok, c.now()), nil
}

// Package uma implements the client side of User-Managed Access 2.0:
// discovering an authorization server and exchanging permission tickets,
// issued in 401 challenges, for access tokens.
package uma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"podauth/pkg/cache"
	"podauth/pkg/dpop"
	"podauth/pkg/jws"
	"podauth/pkg/oauth"

	"golang.org/x/sync/singleflight"
)

const (
	// DiscoveryPath is the well-known location of the UMA configuration.
	DiscoveryPath = "/.well-known/uma2-configuration"

	// TicketGrantType is the grant type of a ticket exchange.
	TicketGrantType = "urn:ietf:params:oauth:grant-type:uma-ticket"

	// IDTokenFormat identifies an OpenID Connect ID token as claim token.
	IDTokenFormat = "http://openid.net/specs/openid-connect-core-1_0.html#IDToken"
)

// ChallengePattern matches a UMA challenge and captures the authorization
// server URI and the ticket.
var ChallengePattern = regexp.MustCompile(`UMA as_uri="([^"]+)", ticket="([^"]+)"`)

// ErrNoAccessToken is returned when the token endpoint answers without an
// access_token.
var ErrNoAccessToken = errors.New("UMA token response has no access_token")

// Metadata is the UMA authorization server configuration.
type Metadata struct {
	Issuer                        string   `json:"issuer"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	PermissionEndpoint            string   `json:"permission_endpoint,omitempty"`
	ResourceRegistrationEndpoint  string   `json:"resource_registration_endpoint,omitempty"`
	IntrospectionEndpoint         string   `json:"introspection_endpoint,omitempty"`
	ClaimsInteractionEndpoint     string   `json:"claims_interaction_endpoint,omitempty"`
	UMAProfilesSupported          []string `json:"uma_profiles_supported,omitempty"`
	ClaimTokenProfilesSupported   []string `json:"claim_token_profiles_supported,omitempty"`
	DPoPSigningAlgValuesSupported []string `json:"dpop_signing_alg_values_supported,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

// Client talks to one UMA authorization server.
type Client struct {
	authorizationServer string
	httpClient          *http.Client
	logger              *slog.Logger
	signer              *dpop.Signer
	metadataCache       cache.Cache[Metadata]
	group               *singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDPoPSigner sets the signer used for ticket exchange proofs.
func WithDPoPSigner(signer *dpop.Signer) Option {
	return func(c *Client) {
		c.signer = signer
	}
}

// WithMetadataCache shares a discovery cache between clients. The cache is
// keyed by authorization server.
func WithMetadataCache(mc cache.Cache[Metadata]) Option {
	return func(c *Client) {
		c.metadataCache = mc
	}
}

// WithSingleflight shares the group deduplicating discovery requests.
func WithSingleflight(g *singleflight.Group) Option {
	return func(c *Client) {
		c.group = g
	}
}

// NewClient creates a client for the authorization server at asURI.
func NewClient(asURI string, opts ...Option) *Client {
	c := &Client{
		authorizationServer: asURI,
		httpClient:          &http.Client{Timeout: oauth.DefaultHTTPTimeout},
		logger:              slog.Default(),
		signer:              dpop.NewSigner(),
		metadataCache:       cache.NewMemory[Metadata](),
		group:               &singleflight.Group{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthorizationServer returns the server URI the client was created for.
func (c *Client) AuthorizationServer() string {
	return c.authorizationServer
}

// Discover returns the authorization server configuration, fetching it on
// first use.
func (c *Client) Discover(ctx context.Context) (*Metadata, error) {
	key := strings.TrimSuffix(c.authorizationServer, "/")

	if m, ok, err := c.metadataCache.Get(ctx, key); err != nil {
		c.logger.Warn("UMA metadata cache read failed", "as_uri", key, "error", err)
	} else if ok {
		return &m, nil
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		if m, ok, err := c.metadataCache.Get(ctx, key); err == nil && ok {
			return &m, nil
		}
		return c.doDiscover(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Metadata), nil
}

func (c *Client) doDiscover(ctx context.Context, key string) (*Metadata, error) {
	base, err := url.Parse(c.authorizationServer)
	if err != nil {
		return nil, fmt.Errorf("invalid authorization server %q: %w", c.authorizationServer, err)
	}
	discoveryURL := base.ResolveReference(&url.URL{Path: DiscoveryPath})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("UMA discovery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("UMA discovery failed with status %d", resp.StatusCode)
	}

	var metadata Metadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to parse UMA metadata: %w", err)
	}
	if metadata.TokenEndpoint == "" {
		return nil, errors.New("UMA metadata has no token_endpoint")
	}

	if err := c.metadataCache.Set(ctx, key, metadata); err != nil {
		c.logger.Warn("UMA metadata cache write failed", "as_uri", key, "error", err)
	}
	c.logger.Debug("Cached UMA metadata", "as_uri", key, "token_endpoint", metadata.TokenEndpoint)

	return &metadata, nil
}

// ExchangeTicket trades a permission ticket and an ID token for an access
// token. When key is not nil the request carries a DPoP proof and the
// returned token is bound to key.
func (c *Client) ExchangeTicket(ctx context.Context, ticket, idToken string, key *dpop.KeyPair) (oauth.Token, error) {
	metadata, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"ticket":             {ticket},
		"grant_type":         {TicketGrantType},
		"claim_token":        {idToken},
		"claim_token_format": {IDTokenFormat},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, metadata.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	if key != nil {
		if err := c.signer.SignRequest(req, key); err != nil {
			return nil, err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ticket exchange failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ticket response: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse ticket response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("Ticket exchange rejected",
			"status", resp.StatusCode,
			"error", tr.Error,
			"error_description", tr.ErrorDesc)
		return nil, fmt.Errorf("ticket exchange failed with status %d: %s", resp.StatusCode, tr.Error)
	}
	if tr.AccessToken == "" {
		return nil, ErrNoAccessToken
	}

	if key != nil {
		return oauth.DPoPBoundAccessToken{Token: tr.AccessToken, Key: key}, nil
	}
	return oauth.AccessToken(tr.AccessToken), nil
}

// ParseChallenge extracts the authorization server URI and ticket from a
// UMA challenge. ok is false when the challenge is not UMA-shaped.
func ParseChallenge(challenge string) (asURI, ticket string, ok bool) {
	m := ChallengePattern.FindStringSubmatch(challenge)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// ParseUMAChallenge issues req and, when the response is a 401 with a UMA
// challenge, also returns the authorization server URI and ticket. Any other
// response is returned alone. The caller closes the response body.
func ParseUMAChallenge(client *http.Client, req *http.Request) (resp *http.Response, asURI, ticket string, err error) {
	if client == nil {
		client = &http.Client{Timeout: oauth.DefaultHTTPTimeout}
	}

	resp, err = client.Do(req)
	if err != nil {
		return nil, "", "", err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, "", "", nil
	}

	asURI, ticket, _ = ParseChallenge(resp.Header.Get("WWW-Authenticate"))
	return resp, asURI, ticket, nil
}

// ExpiresWithin reports whether a UMA token expires less than margin after
// now. Tokens whose expiry cannot be read count as expired.
func ExpiresWithin(token string, now time.Time, margin time.Duration) bool {
	exp, err := jws.ExpiresAt(token)
	if err != nil {
		return true
	}
	return exp.Sub(now) < margin
}

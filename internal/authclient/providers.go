package authclient

import (
	"context"
	"regexp"
	"sync"
	"time"

	"podauth/internal/credentials"
	"podauth/pkg/oauth"
	"podauth/pkg/uma"
)

// TokenProvider produces tokens for one class of challenge.
type TokenProvider interface {
	// Matches reports whether the provider handles challenge.
	Matches(challenge string) bool

	// Token returns a token for challenge. A nil token without error
	// means the provider has nothing to offer and the 401 stands.
	Token(ctx context.Context, challenge string) (oauth.Token, error)
}

// CredentialSource is the part of credentials.Manager the providers use.
type CredentialSource interface {
	GetCredentials(ctx context.Context) (*credentials.Credentials, error)
}

var (
	bearerPattern = regexp.MustCompile(`Bearer`)
	dpopPattern   = regexp.MustCompile(`DPoP`)
)

// OIDCProvider answers Bearer challenges with the user's ID token (or
// access token), bound to the DPoP key when the login produced one.
type OIDCProvider struct {
	Credentials CredentialSource
}

func (p *OIDCProvider) Matches(challenge string) bool {
	return bearerPattern.MatchString(challenge)
}

func (p *OIDCProvider) Token(ctx context.Context, _ string) (oauth.Token, error) {
	creds, err := p.Credentials.GetCredentials(ctx)
	if err != nil || creds == nil {
		return nil, err
	}
	if creds.DPoPKey != nil {
		return oauth.DPoPBoundAccessToken{Token: creds.Token(), Key: creds.DPoPKey}, nil
	}
	return oauth.AccessToken(creds.Token()), nil
}

// DPoPProvider answers DPoP challenges. It only ever returns key-bound
// tokens; credentials without a key yield no token.
type DPoPProvider struct {
	Credentials CredentialSource
}

func (p *DPoPProvider) Matches(challenge string) bool {
	return dpopPattern.MatchString(challenge)
}

func (p *DPoPProvider) Token(ctx context.Context, _ string) (oauth.Token, error) {
	creds, err := p.Credentials.GetCredentials(ctx)
	if err != nil || creds == nil || creds.DPoPKey == nil {
		return nil, err
	}
	return oauth.DPoPBoundAccessToken{Token: creds.Token(), Key: creds.DPoPKey}, nil
}

// UMAClientFactory returns a UMA client for an authorization server.
type UMAClientFactory func(asURI string) *uma.Client

// UMAProvider answers UMA challenges by exchanging the ticket, together
// with the user's ID token, for an access token. The exchange is DPoP-bound
// when the credentials carry a key. Tokens are cached per
// challenge string. A cached token within oauth.ExpiryMargin of expiry is
// not refreshed: the provider returns no token so the 401 stands.
type UMAProvider struct {
	credentials CredentialSource
	newClient   UMAClientFactory
	now         func() time.Time

	mu    sync.Mutex
	cache map[string]oauth.Token
}

// UMAOption configures a UMAProvider.
type UMAOption func(*UMAProvider)

// WithUMAClock replaces the time source used for expiry checks.
func WithUMAClock(now func() time.Time) UMAOption {
	return func(p *UMAProvider) { p.now = now }
}

// NewUMAProvider creates a UMA provider.
func NewUMAProvider(creds CredentialSource, newClient UMAClientFactory, opts ...UMAOption) *UMAProvider {
	p := &UMAProvider{
		credentials: creds,
		newClient:   newClient,
		now:         time.Now,
		cache:       make(map[string]oauth.Token),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *UMAProvider) Matches(challenge string) bool {
	return uma.ChallengePattern.MatchString(challenge)
}

func (p *UMAProvider) Token(ctx context.Context, challenge string) (oauth.Token, error) {
	p.mu.Lock()
	cached, ok := p.cache[challenge]
	p.mu.Unlock()
	if ok {
		if uma.ExpiresWithin(cached.Value(), p.now(), oauth.ExpiryMargin) {
			return nil, nil
		}
		return cached, nil
	}

	asURI, ticket, ok := uma.ParseChallenge(challenge)
	if !ok {
		return nil, nil
	}

	creds, err := p.credentials.GetCredentials(ctx)
	if err != nil || creds == nil {
		return nil, err
	}

	tok, err := p.newClient(asURI).ExchangeTicket(ctx, ticket, creds.Token(), creds.DPoPKey)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[challenge] = tok
	p.mu.Unlock()

	return tok, nil
}

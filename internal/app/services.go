package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"podauth/internal/authclient"
	"podauth/internal/cli"
	"podauth/internal/config"
	"podauth/internal/credentials"
	"podauth/internal/store"
	"podauth/pkg/cache"
	"podauth/pkg/dpop"
	"podauth/pkg/logging"
	"podauth/pkg/oauth"
	"podauth/pkg/uma"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const redisPingTimeout = 5 * time.Second

// Services are the long-lived components built from the configuration.
type Services struct {
	Store       *store.Store
	OAuth       *oauth.Client
	Signer      *dpop.Signer
	Manager     *credentials.Manager
	Transport   *authclient.Transport
	HTTPClient  *http.Client
	Interaction credentials.Interaction

	redis redis.UniversalClient
}

// caches are the discovery and registration caches of one backend.
type caches struct {
	metadata     cache.Cache[oauth.Metadata]
	registration cache.Cache[oauth.ClientRegistration]
	umaMetadata  cache.Cache[uma.Metadata]
	redis        redis.UniversalClient
}

// InitializeServices builds the services for cfg.
func InitializeServices(cfg *Config) (*Services, error) {
	pc := cfg.Podauth

	st, err := store.Open(pc.StatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open state: %w", err)
	}

	cs, err := newCaches(pc.Cache)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: pc.HTTPTimeout}
	signer := dpop.NewSigner(dpop.WithLifetime(pc.DPoP.ProofLifetime))

	oauthOpts := []oauth.ClientOption{
		oauth.WithHTTPClient(httpClient),
		oauth.WithLogger(logging.Logger("OAuth")),
		oauth.WithDPoPSigner(signer),
		oauth.WithMetadataCache(cs.metadata),
		oauth.WithRegistrationCache(cs.registration),
	}
	if pc.ClientName != "" {
		oauthOpts = append(oauthOpts, oauth.WithClientName(pc.ClientName))
	}
	oauthClient := oauth.NewClient(oauthOpts...)

	ui := cfg.Interaction
	if ui == nil {
		ui = cli.NewTerminal(cfg.Output,
			cli.WithIdentityProvider(pc.IdentityProvider),
			cli.WithStore(st))
	}

	windowCfg := credentials.WindowConfig{
		Port:     pc.CallbackPort,
		ClientID: pc.ClientID,
		OAuth:    oauthClient,
		DPoP:     pc.DPoP.Enabled,
		Logger:   logging.Logger("Window"),
	}
	managerOpts := []credentials.Option{
		credentials.WithLogger(logging.Logger("Credentials")),
		credentials.WithOAuthClient(oauthClient),
	}
	if cfg.OpenerKeyBits > 0 {
		managerOpts = append(managerOpts, credentials.WithOpenerKeyBits(cfg.OpenerKeyBits))
	}
	if cfg.OpenBrowser != nil {
		managerOpts = append(managerOpts, credentials.WithBrowser(cfg.OpenBrowser))
	}
	manager := credentials.NewManager(ui, func() credentials.Window {
		return credentials.NewLocalWindow(windowCfg)
	}, managerOpts...)

	providers, err := buildProviders(pc.Providers, manager, httpClient, signer, cs.umaMetadata)
	if err != nil {
		cs.close()
		return nil, err
	}

	transport := authclient.NewTransport(providers,
		authclient.WithSigner(signer),
		authclient.WithLogger(logging.Logger("Transport")))

	return &Services{
		Store:       st,
		OAuth:       oauthClient,
		Signer:      signer,
		Manager:     manager,
		Transport:   transport,
		HTTPClient:  &http.Client{Transport: transport},
		Interaction: ui,
		redis:       cs.redis,
	}, nil
}

// buildProviders returns the token providers in the configured order.
func buildProviders(names []string, creds authclient.CredentialSource, httpClient *http.Client, signer *dpop.Signer, umaCache cache.Cache[uma.Metadata]) ([]authclient.TokenProvider, error) {
	// UMA clients are created per challenge but share discovery.
	group := &singleflight.Group{}
	newUMAClient := func(asURI string) *uma.Client {
		return uma.NewClient(asURI,
			uma.WithHTTPClient(httpClient),
			uma.WithLogger(logging.Logger("UMA")),
			uma.WithDPoPSigner(signer),
			uma.WithMetadataCache(umaCache),
			uma.WithSingleflight(group))
	}

	providers := make([]authclient.TokenProvider, 0, len(names))
	for _, name := range names {
		switch name {
		case config.ProviderUMA:
			providers = append(providers, authclient.NewUMAProvider(creds, newUMAClient))
		case config.ProviderDPoP:
			providers = append(providers, &authclient.DPoPProvider{Credentials: creds})
		case config.ProviderOIDC:
			providers = append(providers, &authclient.OIDCProvider{Credentials: creds})
		default:
			return nil, fmt.Errorf("unknown token provider %q", name)
		}
	}
	return providers, nil
}

func newCaches(cc config.CacheConfig) (*caches, error) {
	if cc.Backend != config.CacheBackendRedis {
		return &caches{
			metadata:     cache.NewMemory[oauth.Metadata](),
			registration: cache.NewMemory[oauth.ClientRegistration](),
			umaMetadata:  cache.NewMemory[uma.Metadata](),
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cc.Redis.Addr},
		Password: cc.Redis.Password,
		DB:       cc.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cc.Redis.Addr, err)
	}

	rc := cache.RedisConfig{Client: client, KeyPrefix: cc.Redis.KeyPrefix}
	metadata, err := cache.NewRedis[oauth.Metadata](rc, "oidc")
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	registration, err := cache.NewRedis[oauth.ClientRegistration](rc, "registration")
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	umaMetadata, err := cache.NewRedis[uma.Metadata](rc, "uma")
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	logging.Info("Bootstrap", "Caching discovery documents in redis at %s", cc.Redis.Addr)
	return &caches{
		metadata:     metadata,
		registration: registration,
		umaMetadata:  umaMetadata,
		redis:        client,
	}, nil
}

func (c *caches) close() {
	if c.redis != nil {
		_ = c.redis.Close()
	}
}

// Close releases the redis connection, if any.
func (s *Services) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

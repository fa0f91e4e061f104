package config

import "time"

const (
	// DefaultCallbackPort is the port of the local authentication window.
	DefaultCallbackPort = 3000

	// DefaultHTTPTimeout bounds discovery, registration and token requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultProofLifetime is how long a DPoP proof stays valid.
	DefaultProofLifetime = 5 * time.Minute

	// DefaultRedisAddr is used when the redis backend has no address.
	DefaultRedisAddr = "localhost:6379"
)

// DefaultProviders is the order in which challenges are offered to token
// providers.
var DefaultProviders = []string{ProviderUMA, ProviderDPoP, ProviderOIDC}

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() Config {
	return Config{
		CallbackPort: DefaultCallbackPort,
		HTTPTimeout:  DefaultHTTPTimeout,
		DPoP: DPoPConfig{
			Enabled:       true,
			ProofLifetime: DefaultProofLifetime,
		},
		Providers: append([]string(nil), DefaultProviders...),
		Cache: CacheConfig{
			Backend: CacheBackendMemory,
			Redis: RedisConfig{
				Addr: DefaultRedisAddr,
			},
		},
	}
}

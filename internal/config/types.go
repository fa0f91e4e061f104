package config

import "time"

// Provider names accepted in Config.Providers.
const (
	ProviderUMA  = "uma"
	ProviderDPoP = "dpop"
	ProviderOIDC = "oidc"
)

// Cache backends accepted in CacheConfig.Backend.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config is the top-level podauth configuration.
type Config struct {
	IdentityProvider string        `yaml:"identityProvider,omitempty" env:"PODAUTH_IDENTITY_PROVIDER,strict"`
	ClientID         string        `yaml:"clientID,omitempty" env:"PODAUTH_CLIENT_ID,strict"`
	ClientName       string        `yaml:"clientName,omitempty" env:"PODAUTH_CLIENT_NAME,strict"`
	CallbackPort     int           `yaml:"callbackPort" env:"PODAUTH_CALLBACK_PORT,strict"`
	HTTPTimeout      time.Duration `yaml:"httpTimeout" env:"PODAUTH_HTTP_TIMEOUT,strict"`
	StatePath        string        `yaml:"statePath,omitempty" env:"PODAUTH_STATE_PATH,strict"`

	DPoP      DPoPConfig  `yaml:"dpop"`
	Providers []string    `yaml:"providers" env:"PODAUTH_PROVIDERS,strict"`
	Cache     CacheConfig `yaml:"cache"`
}

// DPoPConfig controls proof-of-possession binding.
type DPoPConfig struct {
	Enabled       bool          `yaml:"enabled" env:"PODAUTH_DPOP,strict"`
	ProofLifetime time.Duration `yaml:"proofLifetime" env:"PODAUTH_PROOF_LIFETIME,strict"`
}

// CacheConfig selects where discovery documents and client registrations
// are cached.
type CacheConfig struct {
	Backend string      `yaml:"backend" env:"PODAUTH_CACHE_BACKEND,strict"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis cache backend.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"PODAUTH_REDIS_ADDR,strict"`
	Password  string `yaml:"password,omitempty" env:"PODAUTH_REDIS_PASSWORD,strict"`
	DB        int    `yaml:"db,omitempty" env:"PODAUTH_REDIS_DB,strict"`
	KeyPrefix string `yaml:"keyPrefix,omitempty" env:"PODAUTH_REDIS_KEY_PREFIX,strict"`
}

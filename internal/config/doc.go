// Package config loads podauth configuration.
//
// Configuration is read from a single YAML file, by default
// ~/.config/podauth/config.yaml. Missing files are not an error: defaults
// apply. Environment variables override file values:
//
//	PODAUTH_IDENTITY_PROVIDER   identity provider URI
//	PODAUTH_CLIENT_ID           public client id (skips dynamic registration)
//	PODAUTH_CALLBACK_PORT       local callback server port (0 picks a free port)
//	PODAUTH_HTTP_TIMEOUT        timeout for discovery and token requests
//	PODAUTH_DPOP                whether logins bind tokens to a DPoP key
//	PODAUTH_PROOF_LIFETIME      lifetime of DPoP proofs
//	PODAUTH_PROVIDERS           provider order, separated by ";"
//	PODAUTH_CACHE_BACKEND       memory or redis
//	PODAUTH_REDIS_ADDR          Redis address for the redis backend
//	PODAUTH_STATE_PATH          file holding the remembered identity provider
//
// Example config.yaml:
//
//	identityProvider: https://login.example
//	callbackPort: 3000
//	dpop:
//	  enabled: true
//	  proofLifetime: 5m
//	providers: [uma, dpop, oidc]
//	cache:
//	  backend: redis
//	  redis:
//	    addr: localhost:6379
package config

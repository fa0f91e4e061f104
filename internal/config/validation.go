package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	messages := make([]string, 0, len(ve))
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// Add records a validation error.
func (ve *ValidationErrors) Add(field, message string, value interface{}) {
	*ve = append(*ve, ValidationError{Field: field, Value: value, Message: message})
}

// Validate checks the configuration for values podauth cannot work with.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.IdentityProvider != "" {
		if err := validateAbsoluteURL(c.IdentityProvider); err != nil {
			errs.Add("identityProvider", err.Error(), c.IdentityProvider)
		}
	}
	if c.CallbackPort < 0 || c.CallbackPort > 65535 {
		errs.Add("callbackPort", "must be between 0 and 65535", c.CallbackPort)
	}
	if c.HTTPTimeout <= 0 {
		errs.Add("httpTimeout", "must be positive", c.HTTPTimeout)
	}
	if c.DPoP.ProofLifetime <= 0 {
		errs.Add("dpop.proofLifetime", "must be positive", c.DPoP.ProofLifetime)
	}

	if len(c.Providers) == 0 {
		errs.Add("providers", "must name at least one provider", c.Providers)
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if err := validateOneOf(p, []string{ProviderUMA, ProviderDPoP, ProviderOIDC}); err != nil {
			errs.Add("providers", err.Error(), p)
			continue
		}
		if seen[p] {
			errs.Add("providers", "lists "+p+" more than once", p)
		}
		seen[p] = true
	}

	if err := validateOneOf(c.Cache.Backend, []string{CacheBackendMemory, CacheBackendRedis}); err != nil {
		errs.Add("cache.backend", err.Error(), c.Cache.Backend)
	}
	if c.Cache.Backend == CacheBackendRedis && c.Cache.Redis.Addr == "" {
		errs.Add("cache.redis.addr", "is required for the redis backend", "")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateOneOf(value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("must be one of: %s", strings.Join(allowed, ", "))
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("must be an http or https URL")
	}
	if u.Host == "" {
		return fmt.Errorf("must include a host")
	}
	return nil
}

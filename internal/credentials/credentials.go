package credentials

import (
	"time"

	"podauth/pkg/dpop"
	"podauth/pkg/jws"
	"podauth/pkg/oauth"
)

// Credentials is the result of one successful login: the token response
// and the key its tokens are bound to. Credentials are never modified after
// creation; a new login replaces them.
type Credentials struct {
	TokenResponse *oauth.TokenResponse `json:"tokenResponse"`
	DPoPKey       *dpop.KeyPair        `json:"dpopKey,omitempty"`
}

// ExpiresAt returns when the credentials expire, read from the exp claim of
// the ID token, then the access token, then expires_in. The zero time means
// no expiry is known.
func (c *Credentials) ExpiresAt() time.Time {
	if c == nil || c.TokenResponse == nil {
		return time.Time{}
	}
	tr := c.TokenResponse
	for _, tok := range []string{tr.IDToken, tr.AccessToken} {
		if tok == "" {
			continue
		}
		if exp, err := jws.ExpiresAt(tok); err == nil {
			return exp
		}
	}
	if tr.ExpiresIn > 0 && !tr.ReceivedAt.IsZero() {
		return tr.ReceivedAt.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return time.Time{}
}

// ValidAt reports whether at least oauth.ExpiryMargin remains at now.
// Credentials without a known expiry stay valid until cleared.
func (c *Credentials) ValidAt(now time.Time) bool {
	if c == nil || c.TokenResponse == nil {
		return false
	}
	exp := c.ExpiresAt()
	if exp.IsZero() {
		return true
	}
	return exp.Sub(now) >= oauth.ExpiryMargin
}

// Token returns the ID token, or the access token when there is none.
func (c *Credentials) Token() string {
	if c == nil || c.TokenResponse == nil {
		return ""
	}
	if c.TokenResponse.IDToken != "" {
		return c.TokenResponse.IDToken
	}
	return c.TokenResponse.AccessToken
}

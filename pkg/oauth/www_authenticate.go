package oauth

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// DefaultChallenge is assumed when a 401 response carries no
// WWW-Authenticate header.
const DefaultChallenge = SchemeBearer

var authParamRegex = regexp.MustCompile(`([\w-]+)="([^"]*)"`)

// AuthChallenge is a parsed WWW-Authenticate header value.
type AuthChallenge struct {
	// Scheme is the authentication scheme, e.g. "Bearer", "DPoP" or "UMA".
	Scheme string

	// Params holds the quoted auth-params, keyed by lower-case name.
	Params map[string]string
}

// Param returns the named parameter or "".
func (c *AuthChallenge) Param(name string) string {
	if c == nil {
		return ""
	}
	return c.Params[strings.ToLower(name)]
}

// ParseWWWAuthenticate parses a WWW-Authenticate header value. Only the
// first challenge's scheme is reported; parameters of all challenges are
// collected.
//
// Example headers:
//
//	Bearer realm="https://pod.example", scope="openid webid"
//	UMA as_uri="https://as.example", ticket="t-123"
//	DPoP algs="ES256"
func ParseWWWAuthenticate(header string) (*AuthChallenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	parts := strings.SplitN(header, " ", 2)
	challenge := &AuthChallenge{
		Scheme: strings.TrimSuffix(parts[0], ","),
		Params: make(map[string]string),
	}

	if len(parts) > 1 {
		for _, match := range authParamRegex.FindAllStringSubmatch(parts[1], -1) {
			challenge.Params[strings.ToLower(match[1])] = match[2]
		}
	}

	return challenge, nil
}

// ChallengeFromResponse returns the challenge of a 401 response: its
// WWW-Authenticate header, or DefaultChallenge when the header is absent.
// It returns "" for any other status.
func ChallengeFromResponse(resp *http.Response) string {
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		return ""
	}
	if header := resp.Header.Get("WWW-Authenticate"); header != "" {
		return header
	}
	return DefaultChallenge
}

package authclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"podauth/pkg/dpop"
	"podauth/pkg/oauth"
)

// maxDrainBytes bounds how much of a 401 body is read before the
// connection is reused for the retry.
const maxDrainBytes = 64 << 10

// DefaultMaxBodyBytes is the largest request body buffered for replay.
const DefaultMaxBodyBytes = 32 << 20

// ErrBodyTooLarge is returned for request bodies that cannot be buffered
// for replay.
var ErrBodyTooLarge = errors.New("request body too large to replay")

// TokenError reports a provider failing to produce a token for a
// challenge.
type TokenError struct {
	URL       string
	Challenge string
	Err       error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("failed to obtain token for %s: %v", e.URL, e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

// Transport authenticates requests in reaction to 401 challenges.
type Transport struct {
	base       http.RoundTripper
	providers  []TokenProvider
	challenges *ChallengeCache
	signer     *dpop.Signer
	logger     *slog.Logger
	maxBody    int64
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithBase sets the RoundTripper that actually sends requests.
func WithBase(rt http.RoundTripper) TransportOption {
	return func(t *Transport) { t.base = rt }
}

// WithChallengeCache shares a challenge cache between transports.
func WithChallengeCache(c *ChallengeCache) TransportOption {
	return func(t *Transport) { t.challenges = c }
}

// WithSigner sets the signer for request-bound DPoP proofs.
func WithSigner(s *dpop.Signer) TransportOption {
	return func(t *Transport) { t.signer = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) { t.logger = logger }
}

// WithMaxBodyBytes bounds the request bodies buffered for replay.
func WithMaxBodyBytes(n int64) TransportOption {
	return func(t *Transport) { t.maxBody = n }
}

// NewTransport creates a Transport that consults providers in order.
func NewTransport(providers []TokenProvider, opts ...TransportOption) *Transport {
	t := &Transport{
		base:       http.DefaultTransport,
		providers:  providers,
		challenges: NewChallengeCache(),
		signer:     dpop.NewSigner(),
		logger:     slog.Default(),
		maxBody:    DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Challenges returns the challenges seen so far, sorted by URL.
func (t *Transport) Challenges() []Entry {
	return t.challenges.Snapshot()
}

// RoundTrip implements http.RoundTripper. The caller's request is not
// modified; its body is consumed and closed.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req, err := t.replayable(req)
	if err != nil {
		return nil, err
	}
	return t.roundTrip(req)
}

func (t *Transport) roundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Authorization") != "" {
		return t.send(req)
	}

	url := req.URL.String()
	ctx := req.Context()

	if challenge, ok := t.challenges.Get(url); ok {
		if p := t.match(challenge); p != nil {
			tok, err := p.Token(ctx, challenge)
			if err != nil {
				return nil, &TokenError{URL: url, Challenge: challenge, Err: err}
			}
			if tok != nil {
				upgraded, err := t.upgrade(req, tok)
				if err != nil {
					return nil, err
				}
				return t.roundTrip(upgraded)
			}
		}
	}

	resp, err := t.send(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	challenge := oauth.ChallengeFromResponse(resp)
	t.challenges.Set(url, challenge)

	p := t.match(challenge)
	if p == nil {
		t.logger.Debug("No provider for challenge", "url", url, "challenge", challenge)
		return resp, nil
	}

	tok, err := p.Token(ctx, challenge)
	if err != nil {
		resp.Body.Close()
		return nil, &TokenError{URL: url, Challenge: challenge, Err: err}
	}
	if tok == nil {
		t.logger.Debug("Provider returned no token", "url", url, "challenge", challenge)
		return resp, nil
	}

	upgraded, err := t.upgrade(req, tok)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	drain(resp)
	return t.send(upgraded)
}

func (t *Transport) match(challenge string) TokenProvider {
	for _, p := range t.providers {
		if p.Matches(challenge) {
			return p
		}
	}
	return nil
}

// send issues a copy of req with a fresh body so the original can be
// replayed.
func (t *Transport) send(req *http.Request) (*http.Response, error) {
	out, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}
	return t.base.RoundTrip(out)
}

// upgrade returns a copy of req carrying tok, plus a DPoP proof for
// key-bound tokens.
func (t *Transport) upgrade(req *http.Request, tok oauth.Token) (*http.Request, error) {
	out, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}

	scheme := oauth.AuthorizationScheme(tok)
	out.Header.Set("Authorization", scheme+" "+tok.Value())

	if key := tok.DPoPKey(); key != nil {
		proof, err := t.signer.Proof(dpop.TargetURI(req.URL), req.Method, key)
		if err != nil {
			return nil, fmt.Errorf("failed to create DPoP proof: %w", err)
		}
		out.Header.Set(dpop.HeaderName, proof)
	}
	return out, nil
}

// replayable returns req itself when its body can be replayed, or a
// shallow copy whose body is buffered in memory.
func (t *Transport) replayable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}

	data, err := io.ReadAll(io.LimitReader(req.Body, t.maxBody+1))
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}
	if int64(len(data)) > t.maxBody {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, t.maxBody)
	}

	out := new(http.Request)
	*out = *req
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	out.Body, _ = out.GetBody()
	out.ContentLength = int64(len(data))
	return out, nil
}

func cloneRequest(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to replay request body: %w", err)
		}
		out.Body = body
	}
	return out, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	resp.Body.Close()
}

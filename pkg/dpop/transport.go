package dpop

import (
	"fmt"
	"net/http"
)

// Transport implements http.RoundTripper and adds a fresh DPoP proof header
// to every request it sends. It is used for token endpoint requests, where
// the proof binds the issued tokens to Key.
type Transport struct {
	// Base is the base RoundTripper used to make HTTP requests.
	// If nil, http.DefaultTransport is used.
	Base http.RoundTripper

	// Signer makes the proofs. If nil, a default Signer is used.
	Signer *Signer

	// Key signs the proofs.
	Key *KeyPair
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	signer := t.Signer
	if signer == nil {
		signer = NewSigner()
	}

	proof, err := signer.Proof(TargetURI(req.URL), req.Method, t.Key)
	if err != nil {
		return nil, fmt.Errorf("generate dpop proof: %w", err)
	}

	// RoundTrippers must not modify the caller's request.
	r := req.Clone(req.Context())
	r.Header.Set(HeaderName, proof)

	return t.base().RoundTrip(r)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// SignRequest adds a proof for req to its headers.
func (s *Signer) SignRequest(req *http.Request, key *KeyPair) error {
	proof, err := s.Proof(TargetURI(req.URL), req.Method, key)
	if err != nil {
		return err
	}
	req.Header.Set(HeaderName, proof)
	return nil
}

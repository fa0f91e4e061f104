// Package authclient upgrades outgoing HTTP requests with credentials in
// reaction to server challenges.
//
// Transport is an http.RoundTripper. It sends a request as-is; when the
// server answers 401 it reads the WWW-Authenticate challenge, asks the
// first TokenProvider that recognizes the challenge for a token and retries
// once with that token (and a DPoP proof for key-bound tokens). Challenges
// are remembered per URL so later requests to the same URL are
// authenticated up front.
//
//	transport := authclient.NewTransport(
//		[]authclient.TokenProvider{uma, dpopProvider, oidc},
//	)
//	client := &http.Client{Transport: transport}
//	resp, err := client.Get("https://pod.example/private/notes.ttl")
package authclient

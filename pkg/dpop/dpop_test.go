package dpop

import (
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T) *KeyPair {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	return key
}

func TestSigner_Proof(t *testing.T) {
	now := time.Unix(1700000000, 0)
	signer := NewSigner(WithClock(func() time.Time { return now }))
	key := mustKey(t)

	proof, err := signer.Proof("https://idp.example/token", "POST", key)
	require.NoError(t, err)

	claims, jwk, err := ParseProof(proof)
	require.NoError(t, err)

	assert.Equal(t, "https://idp.example/token", claims.HTU)
	assert.Equal(t, "POST", claims.HTM)
	assert.Equal(t, now.Unix(), claims.IAT)
	assert.Equal(t, now.Add(5*time.Minute).Unix(), claims.EXP)
	assert.NotEmpty(t, claims.JTI)

	assert.True(t, jwk.IsPublic())
	pub, ok := jwk.Key.(*ecdsa.PublicKey)
	require.True(t, ok)
	assert.True(t, pub.Equal(&key.Private.PublicKey))
}

func TestKeyPair_Thumbprint(t *testing.T) {
	key := mustKey(t)
	a, err := key.Thumbprint()
	require.NoError(t, err)
	b, err := key.Thumbprint()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 43)

	other, err := mustKey(t).Thumbprint()
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}

func TestSigner_Proof_EmbedsValuesVerbatim(t *testing.T) {
	signer := NewSigner()
	key := mustKey(t)

	// The signer does not normalize; callers strip query and fragment.
	proof, err := signer.Proof("https://pod.example/a?x=1#frag", "get", key)
	require.NoError(t, err)

	claims, _, err := ParseProof(proof)
	require.NoError(t, err)
	assert.Equal(t, "https://pod.example/a?x=1#frag", claims.HTU)
	assert.Equal(t, "get", claims.HTM)
}

func TestSigner_Proof_FreshPerCall(t *testing.T) {
	signer := NewSigner()
	key := mustKey(t)

	p1, err := signer.Proof("https://pod.example/", "GET", key)
	require.NoError(t, err)
	p2, err := signer.Proof("https://pod.example/", "GET", key)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)

	c1, _, err := ParseProof(p1)
	require.NoError(t, err)
	c2, _, err := ParseProof(p2)
	require.NoError(t, err)
	assert.NotEqual(t, c1.JTI, c2.JTI)
}

func TestSigner_Lifetime(t *testing.T) {
	now := time.Unix(1700000000, 0)
	signer := NewSigner(WithLifetime(time.Minute), WithClock(func() time.Time { return now }))
	assert.Equal(t, time.Minute, signer.Lifetime())

	proof, err := signer.Proof("https://pod.example/", "GET", mustKey(t))
	require.NoError(t, err)
	claims, _, err := ParseProof(proof)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute).Unix(), claims.EXP)
}

func TestSigner_Proof_NoKey(t *testing.T) {
	_, err := NewSigner().Proof("https://pod.example/", "GET", nil)
	assert.Error(t, err)
}

func TestTargetURI(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://pod.example/a/b?x=1", "https://pod.example/a/b"},
		{"https://pod.example/a#frag", "https://pod.example/a"},
		{"https://pod.example:8443/a?", "https://pod.example:8443/a"},
		{"http://user:pw@pod.example/a", "http://pod.example/a"},
		{"https://pod.example", "https://pod.example"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			u, err := url.Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, TargetURI(u))
		})
	}
}

func TestKeyPair_JSON(t *testing.T) {
	key := mustKey(t)

	raw, err := json.Marshal(key)
	require.NoError(t, err)

	var shape map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &shape))
	assert.Contains(t, shape, "publicKey")
	assert.Contains(t, shape, "privateKey")
	assert.NotContains(t, shape["publicKey"], "d")
	assert.Contains(t, shape["privateKey"], "d")

	var decoded KeyPair
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.True(t, key.Private.Equal(decoded.Private))

	// A key restored from JSON still signs verifiable proofs.
	proof, err := NewSigner().Proof("https://pod.example/", "GET", &decoded)
	require.NoError(t, err)
	_, _, err = ParseProof(proof)
	assert.NoError(t, err)
}

func TestKeyPair_UnmarshalRejectsMissingPrivate(t *testing.T) {
	key := mustKey(t)
	pub, err := json.Marshal(key.PublicJWK())
	require.NoError(t, err)

	var decoded KeyPair
	err = json.Unmarshal([]byte(`{"publicKey":`+string(pub)+`,"privateKey":`+string(pub)+`}`), &decoded)
	assert.Error(t, err)
}

func TestTransport_AddsFreshProof(t *testing.T) {
	var proofs []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proofs = append(proofs, r.Header.Get(HeaderName))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	key := mustKey(t)
	client := &http.Client{Transport: &Transport{Key: key}}

	for i := 0; i < 2; i++ {
		resp, err := client.Post(server.URL+"/token?ignored=1", "application/x-www-form-urlencoded", nil)
		require.NoError(t, err)
		resp.Body.Close()
	}

	require.Len(t, proofs, 2)
	assert.NotEqual(t, proofs[0], proofs[1])

	claims, _, err := ParseProof(proofs[0])
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/token", claims.HTU)
	assert.Equal(t, http.MethodPost, claims.HTM)
}

func TestTransport_DoesNotMutateRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := (&Transport{Key: mustKey(t)}).RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, req.Header.Get(HeaderName))
}

func TestTransport_NoKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://pod.example/", nil)
	_, err := (&Transport{}).RoundTrip(req)
	assert.Error(t, err)
}

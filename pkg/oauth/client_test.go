package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"podauth/pkg/cache"
	"podauth/pkg/dpop"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// providerStub is a minimal OpenID provider.
type providerStub struct {
	server *httptest.Server

	discoveryHits    atomic.Int32
	registrationHits atomic.Int32
	secretExpiresAt  int64
	noRegistration   bool
	oidcMissing      bool

	mu         sync.Mutex
	lastToken  url.Values
	lastDPoP   string
	lastBasicU string
	lastBasicP string
}

func newProviderStub(t *testing.T) *providerStub {
	p := &providerStub{}
	mux := http.NewServeMux()

	writeMeta := func(w http.ResponseWriter, r *http.Request) {
		p.discoveryHits.Add(1)
		meta := Metadata{
			Issuer:                p.server.URL,
			AuthorizationEndpoint: p.server.URL + "/authorize",
			TokenEndpoint:         p.server.URL + "/token",
		}
		if !p.noRegistration {
			meta.RegistrationEndpoint = p.server.URL + "/register"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(meta)
	}

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		if p.oidcMissing {
			http.NotFound(w, r)
			return
		}
		writeMeta(w, r)
	})
	mux.HandleFunc("/.well-known/oauth-authorization-server", writeMeta)

	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		n := p.registrationHits.Add(1)
		var body ClientMetadata
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.RedirectURIs) != 1 {
			http.Error(w, "bad registration", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(ClientRegistration{
			ClientID:              "client-" + string(rune('0'+n)),
			ClientSecret:          "secret",
			ClientSecretExpiresAt: p.secretExpiresAt,
			RedirectURIs:          body.RedirectURIs,
		})
	})

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		p.mu.Lock()
		p.lastToken = r.PostForm
		p.lastDPoP = r.Header.Get("DPoP")
		p.lastBasicU, p.lastBasicP, _ = r.BasicAuth()
		p.mu.Unlock()

		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","token_type":"DPoP","expires_in":300,"id_token":"a.b.c"}`))
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func TestDiscoverMetadata(t *testing.T) {
	t.Run("uses openid-configuration", func(t *testing.T) {
		p := newProviderStub(t)
		c := NewClient(WithHTTPClient(p.server.Client()))

		meta, err := c.DiscoverMetadata(context.Background(), p.server.URL+"/")
		require.NoError(t, err)
		assert.Equal(t, p.server.URL+"/token", meta.TokenEndpoint)
		assert.Equal(t, int32(1), p.discoveryHits.Load())
	})

	t.Run("falls back to RFC 8414", func(t *testing.T) {
		p := newProviderStub(t)
		p.oidcMissing = true
		c := NewClient(WithHTTPClient(p.server.Client()))

		meta, err := c.DiscoverMetadata(context.Background(), p.server.URL)
		require.NoError(t, err)
		assert.Equal(t, p.server.URL+"/authorize", meta.AuthorizationEndpoint)
	})

	t.Run("caches per issuer", func(t *testing.T) {
		p := newProviderStub(t)
		c := NewClient(WithHTTPClient(p.server.Client()))

		for i := 0; i < 3; i++ {
			_, err := c.DiscoverMetadata(context.Background(), p.server.URL)
			require.NoError(t, err)
		}
		assert.Equal(t, int32(1), p.discoveryHits.Load())
	})

	t.Run("concurrent callers share one fetch", func(t *testing.T) {
		p := newProviderStub(t)
		c := NewClient(WithHTTPClient(p.server.Client()))

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := c.DiscoverMetadata(context.Background(), p.server.URL)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.LessOrEqual(t, p.discoveryHits.Load(), int32(2))
	})

	t.Run("fails when both documents are missing", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		_, err := c.DiscoverMetadata(context.Background(), server.URL)
		assert.Error(t, err)
	})
}

func TestRegister(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }

	t.Run("caches registration that never expires", func(t *testing.T) {
		p := newProviderStub(t)
		p.secretExpiresAt = 0
		c := NewClient(WithHTTPClient(p.server.Client()), WithClock(clock))

		reg1, err := c.Register(context.Background(), p.server.URL, "http://localhost:3000/callback")
		require.NoError(t, err)
		reg2, err := c.Register(context.Background(), p.server.URL, "http://localhost:3000/callback")
		require.NoError(t, err)

		assert.Equal(t, reg1.ClientID, reg2.ClientID)
		assert.Equal(t, int32(1), p.registrationHits.Load())
	})

	t.Run("re-registers when secret expires within margin", func(t *testing.T) {
		p := newProviderStub(t)
		p.secretExpiresAt = now.Add(5 * time.Second).Unix()
		c := NewClient(WithHTTPClient(p.server.Client()), WithClock(clock))

		_, err := c.Register(context.Background(), p.server.URL, "http://localhost:3000/callback")
		require.NoError(t, err)
		_, err = c.Register(context.Background(), p.server.URL, "http://localhost:3000/callback")
		require.NoError(t, err)
		assert.Equal(t, int32(2), p.registrationHits.Load())
	})

	t.Run("keeps registration valid beyond margin", func(t *testing.T) {
		p := newProviderStub(t)
		p.secretExpiresAt = now.Add(time.Hour).Unix()
		c := NewClient(WithHTTPClient(p.server.Client()), WithClock(clock))

		_, err := c.Register(context.Background(), p.server.URL, "http://localhost:3000/callback")
		require.NoError(t, err)
		_, err = c.Register(context.Background(), p.server.URL, "http://localhost:3000/callback")
		require.NoError(t, err)
		assert.Equal(t, int32(1), p.registrationHits.Load())
	})

	t.Run("forget forces a new registration", func(t *testing.T) {
		p := newProviderStub(t)
		c := NewClient(WithHTTPClient(p.server.Client()), WithClock(clock))

		_, err := c.Register(context.Background(), p.server.URL, "http://localhost:3000/callback")
		require.NoError(t, err)
		require.NoError(t, c.ForgetRegistration(context.Background(), p.server.URL))
		_, err = c.Register(context.Background(), p.server.URL, "http://localhost:3000/callback")
		require.NoError(t, err)
		assert.Equal(t, int32(2), p.registrationHits.Load())
	})

	t.Run("no registration endpoint", func(t *testing.T) {
		p := newProviderStub(t)
		p.noRegistration = true
		c := NewClient(WithHTTPClient(p.server.Client()))

		_, err := c.Register(context.Background(), p.server.URL, "http://localhost:3000/callback")
		assert.ErrorIs(t, err, ErrNoRegistrationEndpoint)
	})
}

func TestRegister_SharedRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	newRegistrations := func(t *testing.T) cache.Cache[ClientRegistration] {
		rc, err := cache.NewRedis[ClientRegistration](cache.RedisConfig{Client: rdb}, "registration")
		require.NoError(t, err)
		return rc
	}
	redirect := "http://localhost:3000/callback"

	t.Run("secret that never expires survives a long lapse", func(t *testing.T) {
		mr.FlushAll()
		p := newProviderStub(t)
		p.secretExpiresAt = 0
		c := NewClient(WithHTTPClient(p.server.Client()), WithRegistrationCache(newRegistrations(t)))

		reg1, err := c.Register(context.Background(), p.server.URL, redirect)
		require.NoError(t, err)

		mr.FastForward(25 * time.Hour)

		reg2, err := c.Register(context.Background(), p.server.URL, redirect)
		require.NoError(t, err)
		assert.Equal(t, reg1.ClientID, reg2.ClientID)
		assert.Equal(t, int32(1), p.registrationHits.Load())
	})

	t.Run("expiring secret is dropped with it", func(t *testing.T) {
		mr.FlushAll()
		p := newProviderStub(t)
		p.secretExpiresAt = time.Now().Add(time.Hour).Unix()
		c := NewClient(WithHTTPClient(p.server.Client()), WithRegistrationCache(newRegistrations(t)))

		_, err := c.Register(context.Background(), p.server.URL, redirect)
		require.NoError(t, err)
		assert.Equal(t, 1, len(mr.Keys()))

		mr.FastForward(2 * time.Hour)
		assert.Empty(t, mr.Keys())
	})
}

func TestAuthorizationURL(t *testing.T) {
	c := NewClient()
	meta := &Metadata{AuthorizationEndpoint: "https://idp.example/authorize", TokenEndpoint: "https://idp.example/token"}
	reg := &ClientRegistration{ClientID: "client-1"}
	pkce, err := GeneratePKCE()
	require.NoError(t, err)

	raw := c.AuthorizationURL(meta, reg, "http://localhost:3000/callback", "state-1", pkce)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "idp.example", u.Host)
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, "http://localhost:3000/callback", q.Get("redirect_uri"))
	assert.Equal(t, "openid webid", q.Get("scope"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, pkce.CodeChallenge, q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Empty(t, q.Get("code_verifier"))
}

func TestExchangeCode(t *testing.T) {
	p := newProviderStub(t)
	c := NewClient(WithHTTPClient(p.server.Client()))
	meta, err := c.DiscoverMetadata(context.Background(), p.server.URL)
	require.NoError(t, err)

	key, err := dpop.GenerateKey()
	require.NoError(t, err)

	t.Run("confidential client with DPoP", func(t *testing.T) {
		reg := &ClientRegistration{ClientID: "client-1", ClientSecret: "s3cret"}
		tokens, err := c.ExchangeCode(context.Background(), meta, reg, "http://localhost:3000/callback", "good-code", "verifier-1", key)
		require.NoError(t, err)

		assert.Equal(t, "at", tokens.AccessToken)
		assert.Equal(t, "a.b.c", tokens.IDToken)
		assert.Equal(t, int64(300), tokens.ExpiresIn)

		p.mu.Lock()
		defer p.mu.Unlock()
		assert.Equal(t, "authorization_code", p.lastToken.Get("grant_type"))
		assert.Equal(t, "verifier-1", p.lastToken.Get("code_verifier"))
		assert.Equal(t, "http://localhost:3000/callback", p.lastToken.Get("redirect_uri"))
		assert.Equal(t, "client-1", p.lastToken.Get("client_id"))
		assert.Equal(t, "client-1", p.lastBasicU)
		assert.Equal(t, "s3cret", p.lastBasicP)

		require.NotEmpty(t, p.lastDPoP)
		claims, _, err := dpop.ParseProof(p.lastDPoP)
		require.NoError(t, err)
		assert.Equal(t, "POST", claims.HTM)
		assert.Equal(t, p.server.URL+"/token", claims.HTU)
	})

	t.Run("public client without DPoP", func(t *testing.T) {
		reg := &ClientRegistration{ClientID: "public-client"}
		_, err := c.ExchangeCode(context.Background(), meta, reg, "http://localhost:3000/callback", "good-code", "v", nil)
		require.NoError(t, err)

		p.mu.Lock()
		defer p.mu.Unlock()
		assert.Empty(t, p.lastDPoP)
		assert.Empty(t, p.lastBasicU)
		assert.Equal(t, "public-client", p.lastToken.Get("client_id"))
	})

	t.Run("token endpoint error", func(t *testing.T) {
		reg := &ClientRegistration{ClientID: "public-client"}
		_, err := c.ExchangeCode(context.Background(), meta, reg, "http://localhost:3000/callback", "bad-code", "v", key)
		assert.Error(t, err)
	})
}

func TestRegister_RedirectURIChange(t *testing.T) {
	p := newProviderStub(t)
	c := NewClient(WithHTTPClient(p.server.Client()))

	_, err := c.Register(context.Background(), p.server.URL, "http://localhost:3000/callback")
	require.NoError(t, err)
	reg, err := c.Register(context.Background(), p.server.URL, "http://localhost:4000/callback")
	require.NoError(t, err)

	assert.Equal(t, []string{"http://localhost:4000/callback"}, reg.RedirectURIs)
	assert.Equal(t, int32(2), p.registrationHits.Load())
}

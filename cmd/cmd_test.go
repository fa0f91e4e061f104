package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"podauth/internal/app"
	"podauth/internal/cli"
	"podauth/internal/config"
	"podauth/internal/store"
	"podauth/pkg/dpop"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useTestApplication makes commands build their application from pc. The
// browser visits the login URL in the background and stops at the identity
// provider.
func useTestApplication(t *testing.T, pc *config.Config) {
	t.Helper()
	original := newApplication
	t.Cleanup(func() { newApplication = original })

	browser := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	newApplication = func(cmd *cobra.Command) (*app.Application, error) {
		cfg := app.NewConfig(false, "", &bytes.Buffer{})
		cfg.Podauth = pc
		cfg.OpenerKeyBits = 2048
		cfg.OpenBrowser = func(u string) error {
			go func() {
				if resp, err := browser.Get(u); err == nil {
					resp.Body.Close()
				}
			}()
			return nil
		}
		return app.NewApplication(cfg)
	}
}

func testConfig(t *testing.T) *config.Config {
	pc := config.GetDefaultConfig()
	pc.CallbackPort = 0
	pc.StatePath = filepath.Join(t.TempDir(), "state.yaml")
	return &pc
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "podauth", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)

	found := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		found[c.Name()] = true
	}
	for _, name := range []string{"version", "fetch", "login", "logout", "status", "proof"} {
		assert.True(t, found[name], "missing subcommand %s", name)
	}
}

func TestVersionCommand(t *testing.T) {
	original := rootCmd.Version
	defer func() { rootCmd.Version = original }()
	SetVersion("1.2.3-test")

	out, err := run(t, newVersionCmd())
	require.NoError(t, err)
	assert.Equal(t, "podauth version 1.2.3-test\n", out)
	assert.Equal(t, "1.2.3-test", GetVersion())
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"generic", errors.New("boom"), ExitCodeError},
		{"auth required", &cli.AuthRequiredError{URL: "https://pod.example"}, ExitCodeAuthRequired},
		{"wrapped auth required", fmt.Errorf("x: %w", &cli.AuthRequiredError{}), ExitCodeAuthRequired},
		{"auth failed", &cli.AuthFailedError{Reason: errors.New("denied")}, ExitCodeAuthFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, getExitCode(tt.err))
		})
	}
}

func TestFetch_PublicResource(t *testing.T) {
	var gotMethod, gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		b := new(bytes.Buffer)
		_, _ = b.ReadFrom(r.Body)
		gotBody = b.String()
		w.Header().Set("X-Test", "yes")
		_, _ = w.Write([]byte("stored"))
	}))
	defer srv.Close()
	useTestApplication(t, testConfig(t))

	out, err := run(t, newFetchCmd(), "-X", "put", "-H", "Content-Type: text/turtle", "-d", "<#a> <#b> <#c> .", "-i", srv.URL+"/notes.ttl")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "text/turtle", gotType)
	assert.Equal(t, "<#a> <#b> <#c> .", gotBody)
	assert.Contains(t, out, "200 OK")
	assert.Contains(t, out, "X-Test: yes")
	assert.Contains(t, out, "stored")
}

func TestFetch_UnansweredChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Basic realm="pod"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	useTestApplication(t, testConfig(t))

	_, err := run(t, newFetchCmd(), srv.URL+"/private")
	require.Error(t, err)

	var authErr *cli.AuthRequiredError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, `Basic realm="pod"`, authErr.Challenge)
	assert.Equal(t, ExitCodeAuthRequired, getExitCode(err))
}

func TestFetch_LoginFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	pc := testConfig(t)
	// Nothing listens here, so discovery fails during login.
	pc.IdentityProvider = "http://127.0.0.1:1"
	useTestApplication(t, pc)

	_, err := run(t, newFetchCmd(), srv.URL+"/private")
	require.Error(t, err)
	assert.Equal(t, ExitCodeAuthFailed, getExitCode(err))
}

func TestFetch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()
	useTestApplication(t, testConfig(t))

	out, err := run(t, newFetchCmd(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, out, "nope")
	assert.Equal(t, ExitCodeError, getExitCode(err))
}

func TestFetch_InvalidInput(t *testing.T) {
	useTestApplication(t, testConfig(t))

	_, err := run(t, newFetchCmd(), "-H", "no-colon", "https://pod.example")
	assert.ErrorContains(t, err, "invalid header")

	_, err = run(t, newFetchCmd(), "ftp://pod.example/file")
	assert.ErrorContains(t, err, "unsupported URL scheme")

	_, err = run(t, newFetchCmd(), "-d", "x", "--data-file", "y", "https://pod.example")
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestLogout_ForgetIDP(t *testing.T) {
	pc := testConfig(t)
	st, err := store.Open(pc.StatePath)
	require.NoError(t, err)
	require.NoError(t, st.Set(store.KeyIdentityProvider, "https://login.example"))
	require.NoError(t, st.Set(store.KeyWebID, "https://alice.example/profile/card#me"))
	useTestApplication(t, pc)

	out, err := run(t, newLogoutCmd())
	require.NoError(t, err)
	assert.Equal(t, "Logged out\n", out)

	st, err = store.Open(pc.StatePath)
	require.NoError(t, err)
	assert.Len(t, st.Keys(), 2)

	out, err = run(t, newLogoutCmd(), "--forget-idp")
	require.NoError(t, err)
	assert.Contains(t, out, "forgot the identity provider")

	st, err = store.Open(pc.StatePath)
	require.NoError(t, err)
	assert.Empty(t, st.Keys())
}

func TestStatus_ShowsSettingsAndProbes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/private" {
			w.Header().Set("WWW-Authenticate", `UMA as_uri="https://as.example", ticket="t1"`)
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	pc := testConfig(t)
	pc.IdentityProvider = "https://login.example"
	useTestApplication(t, pc)

	out, err := run(t, newStatusCmd(), srv.URL+"/public", srv.URL+"/private")
	require.NoError(t, err)

	assert.Contains(t, out, "https://login.example (config)")
	assert.Contains(t, out, "dynamic registration")
	assert.Contains(t, out, "idle")
	assert.Contains(t, out, "UMA token")
	assert.Contains(t, out, "401 Unauthorized")
}

func TestAnsweredBy(t *testing.T) {
	assert.Contains(t, answeredBy(`UMA as_uri="https://as", ticket="t"`), "UMA token")
	assert.Contains(t, answeredBy(`DPoP realm="pod"`), "DPoP-bound token")
	assert.Contains(t, answeredBy("Bearer"), "ID token")
	assert.Contains(t, answeredBy("Basic"), "none")
	assert.Contains(t, answeredBy(""), "public")
}

func TestProof(t *testing.T) {
	useTestApplication(t, testConfig(t))

	out, err := run(t, newProofCmd(), "-X", "post", "--key", "https://alice.example/inbox/?x=1#f")
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace([]byte(out)), []byte("\n"))
	require.Len(t, lines, 3)

	claims, jwk, err := dpop.ParseProof(string(lines[0]))
	require.NoError(t, err)
	assert.Equal(t, "https://alice.example/inbox/", claims.HTU)
	assert.Equal(t, http.MethodPost, claims.HTM)
	assert.NotNil(t, jwk)
	assert.Contains(t, string(lines[1]), `"kty":"EC"`)
	assert.Contains(t, string(lines[2]), "jkt: ")

	_, err = run(t, newProofCmd(), "not a url")
	assert.Error(t, err)
}

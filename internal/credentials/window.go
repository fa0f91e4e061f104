package credentials

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"podauth/internal/handoff"
	"podauth/pkg/dpop"
	"podauth/pkg/oauth"

	"github.com/Masterminds/sprig/v3"
)

// DefaultCallbackPort is the default port of the local authentication window.
const DefaultCallbackPort = 3000

const (
	authenticationPath = "/authentication"
	callbackPath       = "/callback"
)

// ErrStateMismatch is reported when the callback state does not match the
// state sent with the authorization request.
var ErrStateMismatch = errors.New("state parameter mismatch")

//go:embed templates/authorized.html
var authorizedHTML string

//go:embed templates/error.html
var errorHTML string

var (
	authorizedTemplate = template.Must(template.New("authorized").Funcs(sprig.FuncMap()).Parse(authorizedHTML))
	errorTemplate      = template.Must(template.New("error").Funcs(sprig.FuncMap()).Parse(errorHTML))
)

// WindowConfig configures a LocalWindow.
type WindowConfig struct {
	// Port is the local port to listen on. 0 picks a free port.
	Port int

	// ClientID is a public client identifier. When empty the window
	// registers a client dynamically.
	ClientID string

	// OAuth performs discovery, registration and code exchange.
	OAuth *oauth.Client

	// DPoP binds the issued tokens to a fresh key when true.
	DPoP bool

	Logger *slog.Logger
}

// LocalWindow is a Window served by a temporary HTTP server on the loopback
// interface. The browser first visits /authentication, which redirects to
// the identity provider; the provider redirects back to /callback, which
// exchanges the code and posts the sealed credentials.
type LocalWindow struct {
	cfg WindowConfig

	server   *http.Server
	listener net.Listener
	baseURL  string
	msgCh    chan *handoff.Message
	errCh    chan error
	once     sync.Once

	// per-login state, the equivalent of the window's session storage
	mu       sync.Mutex
	idp      string
	keyParam string
	state    string
	pkce     *oauth.PKCEChallenge
	metadata *oauth.Metadata
	reg      *oauth.ClientRegistration
}

// NewLocalWindow creates a window. It does not listen until Open.
func NewLocalWindow(cfg WindowConfig) *LocalWindow {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OAuth == nil {
		cfg.OAuth = oauth.NewClient(oauth.WithLogger(cfg.Logger))
	}
	return &LocalWindow{
		cfg:   cfg,
		msgCh: make(chan *handoff.Message, 1),
		errCh: make(chan error, 1),
	}
}

// Open starts the local server and returns the window URL.
func (w *LocalWindow) Open(ctx context.Context, idp, keyParam string) (string, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", w.cfg.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}

	w.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port
	w.baseURL = fmt.Sprintf("http://localhost:%d", port)

	mux := http.NewServeMux()
	mux.HandleFunc(authenticationPath, w.handleAuthentication)
	mux.HandleFunc(callbackPath, w.handleCallback)

	w.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := w.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case w.errCh <- err:
			default:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		w.Close()
	}()

	q := url.Values{"idp": {idp}, "key": {keyParam}}
	return w.baseURL + authenticationPath + "?" + q.Encode(), nil
}

// RedirectURI returns the callback URL registered with the provider.
func (w *LocalWindow) RedirectURI() string {
	return w.baseURL + callbackPath
}

// WaitForMessage waits for the window's message or ctx.
func (w *LocalWindow) WaitForMessage(ctx context.Context) (*handoff.Message, error) {
	select {
	case msg := <-w.msgCh:
		return msg, nil
	case err := <-w.errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close gracefully shuts down the local server.
func (w *LocalWindow) Close() {
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.server.Shutdown(ctx)
	}
	if w.listener != nil {
		_ = w.listener.Close()
	}
}

func setSecurityHeaders(rw http.ResponseWriter) {
	rw.Header().Set("X-Content-Type-Options", "nosniff")
	rw.Header().Set("X-Frame-Options", "DENY")
	rw.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	rw.Header().Set("Referrer-Policy", "no-referrer")
	rw.Header().Set("Cache-Control", "no-store")
}

// handleAuthentication starts the authorization code flow.
func (w *LocalWindow) handleAuthentication(rw http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(rw)

	query := r.URL.Query()
	idp, keyParam := query.Get("idp"), query.Get("key")
	if idp == "" || keyParam == "" {
		http.Error(rw, "missing idp or key parameter", http.StatusBadRequest)
		return
	}

	authURL, err := w.prepareAuthorization(r.Context(), idp, keyParam)
	if err != nil {
		w.cfg.Logger.Error("Failed to prepare authorization", "issuer", idp, "error", err)
		w.fail(rw, "authorization_setup_failed", err.Error())
		return
	}

	http.Redirect(rw, r, authURL, http.StatusFound)
}

func (w *LocalWindow) prepareAuthorization(ctx context.Context, idp, keyParam string) (string, error) {
	metadata, err := w.cfg.OAuth.DiscoverMetadata(ctx, idp)
	if err != nil {
		return "", err
	}

	reg := &oauth.ClientRegistration{ClientID: w.cfg.ClientID}
	if w.cfg.ClientID == "" {
		if reg, err = w.cfg.OAuth.Register(ctx, idp, w.RedirectURI()); err != nil {
			return "", err
		}
	}

	pkce, err := oauth.GeneratePKCE()
	if err != nil {
		return "", err
	}
	state, err := oauth.GenerateState()
	if err != nil {
		return "", err
	}

	w.mu.Lock()
	w.idp, w.keyParam = idp, keyParam
	w.state, w.pkce = state, pkce
	w.metadata, w.reg = metadata, reg
	w.mu.Unlock()

	return w.cfg.OAuth.AuthorizationURL(metadata, reg, w.RedirectURI(), state, pkce), nil
}

// handleCallback handles the provider's redirect. Only the first callback
// is processed.
func (w *LocalWindow) handleCallback(rw http.ResponseWriter, r *http.Request) {
	var handled bool
	w.once.Do(func() {
		handled = true
		w.processCallback(rw, r)
	})

	if !handled {
		http.Error(rw, "Callback already processed", http.StatusBadRequest)
	}
}

func (w *LocalWindow) processCallback(rw http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(rw)

	w.mu.Lock()
	idp, keyParam, state, pkce, metadata, reg := w.idp, w.keyParam, w.state, w.pkce, w.metadata, w.reg
	w.mu.Unlock()

	query := r.URL.Query()
	if code := query.Get("error"); code != "" {
		w.fail(rw, code, query.Get("error_description"))
		return
	}
	if state == "" || query.Get("state") != state {
		w.cfg.Logger.Warn("SECURITY_AUDIT: OAuth callback state mismatch")
		w.fail(rw, "state_mismatch", ErrStateMismatch.Error())
		return
	}

	opener, err := handoff.ParsePublicParam(keyParam)
	if err != nil {
		w.fail(rw, "invalid_key", err.Error())
		return
	}

	var key *dpop.KeyPair
	if w.cfg.DPoP {
		if key, err = dpop.GenerateKey(); err != nil {
			w.fail(rw, "server_error", err.Error())
			return
		}
	}

	tokens, err := w.cfg.OAuth.ExchangeCode(r.Context(), metadata, reg, w.RedirectURI(), query.Get("code"), pkce.CodeVerifier, key)
	if err != nil {
		w.fail(rw, "token_exchange_failed", err.Error())
		return
	}

	msg, err := handoff.Seal(opener, Credentials{TokenResponse: tokens, DPoPKey: key})
	if err != nil {
		w.fail(rw, "server_error", err.Error())
		return
	}

	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := authorizedTemplate.Execute(rw, map[string]string{
		"Title":  "Login complete",
		"Issuer": idp,
		"Client": "podauth",
	}); err != nil {
		w.cfg.Logger.Debug("Failed to render page", "error", err)
	}
	w.post(msg)
}

// fail renders the error page and posts an error message to the opener.
func (w *LocalWindow) fail(rw http.ResponseWriter, code, description string) {
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.WriteHeader(http.StatusBadRequest)
	_ = errorTemplate.Execute(rw, map[string]string{
		"Error":       code,
		"Description": description,
	})
	w.post(handoff.ErrorMessage(code, description))
}

func (w *LocalWindow) post(msg *handoff.Message) {
	select {
	case w.msgCh <- msg:
	default:
	}
}

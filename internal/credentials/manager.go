package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"podauth/internal/handoff"
	"podauth/pkg/oauth"

	"golang.org/x/sync/singleflight"
)

// CallbackTimeout bounds how long an acquisition waits for the user.
const CallbackTimeout = 10 * time.Minute

// ErrLoginCleared is returned to callers waiting on a login that
// ClearCredentials discarded.
var ErrLoginCleared = errors.New("login discarded by clearing credentials")

// State is the acquisition state of a Manager.
type State int

const (
	// StateIdle means there are no valid credentials and no acquisition is running.
	StateIdle State = iota

	// StateAcquiring means an interactive login is in progress.
	StateAcquiring

	// StateCached means valid credentials are held.
	StateCached
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateCached:
		return "cached"
	default:
		return "unknown"
	}
}

// Interaction is what a Manager needs from the user interface.
type Interaction interface {
	// IdentityProviderURI returns the provider to log in with. An empty
	// string means the user declined.
	IdentityProviderURI(ctx context.Context) (string, error)

	// NotifyInteractionRequired is called when the authentication window
	// could not be opened automatically. The user has to open url.
	NotifyInteractionRequired(url string)

	// NotifyInteractionComplete is called once the window has answered.
	NotifyInteractionComplete()
}

// Window is the authentication window of one acquisition.
type Window interface {
	// Open prepares the window for idp and returns the URL to show the
	// user. keyParam is the opener's public key (handoff.OpenerKey.PublicParam).
	Open(ctx context.Context, idp, keyParam string) (string, error)

	// WaitForMessage blocks until the window posts its message.
	WaitForMessage(ctx context.Context) (*handoff.Message, error)

	// Close releases the window.
	Close()
}

// WindowFactory creates a new Window for each acquisition.
type WindowFactory func() Window

// Manager owns the user's credentials and runs logins.
type Manager struct {
	ui          Interaction
	newWindow   WindowFactory
	openBrowser func(url string) error
	oauthClient *oauth.Client
	logger      *slog.Logger
	now         func() time.Time
	keyBits     int
	timeout     time.Duration

	group singleflight.Group

	mu          sync.RWMutex
	credentials *Credentials
	issuer      string
	acquiring   bool
	generation  uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock replaces the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithBrowser replaces the function that opens the window URL.
func WithBrowser(open func(url string) error) Option {
	return func(m *Manager) { m.openBrowser = open }
}

// WithOAuthClient sets the client whose registrations ClearCredentials
// forgets.
func WithOAuthClient(c *oauth.Client) Option {
	return func(m *Manager) { m.oauthClient = c }
}

// WithOpenerKeyBits sets the RSA modulus length of opener keys.
func WithOpenerKeyBits(bits int) Option {
	return func(m *Manager) { m.keyBits = bits }
}

// WithTimeout bounds how long an acquisition waits for the window.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// NewManager creates a Manager.
func NewManager(ui Interaction, newWindow WindowFactory, opts ...Option) *Manager {
	m := &Manager{
		ui:          ui,
		newWindow:   newWindow,
		openBrowser: OpenBrowser,
		logger:      slog.Default(),
		now:         time.Now,
		keyBits:     handoff.DefaultKeyBits,
		timeout:     CallbackTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current acquisition state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.acquiring:
		return StateAcquiring
	case m.credentials.ValidAt(m.now()):
		return StateCached
	default:
		return StateIdle
	}
}

// Issuer returns the identity provider of the current credentials.
func (m *Manager) Issuer() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.issuer
}

func (m *Manager) cached() *Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.credentials.ValidAt(m.now()) {
		return m.credentials
	}
	return nil
}

// GetCredentials returns valid credentials, running an interactive login
// when needed. Concurrent callers share one login. It returns nil without
// error when the user declined to name an identity provider.
//
// The login itself is not cancelled with ctx; cancelling only stops this
// caller from waiting for it.
func (m *Manager) GetCredentials(ctx context.Context) (*Credentials, error) {
	if c := m.cached(); c != nil {
		return c, nil
	}

	ch := m.group.DoChan("acquire", func() (interface{}, error) {
		if c := m.cached(); c != nil {
			return c, nil
		}
		return m.acquire(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		creds, _ := res.Val.(*Credentials)
		return creds, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) acquire(ctx context.Context) (*Credentials, error) {
	m.setAcquiring(true)
	defer m.setAcquiring(false)

	m.mu.RLock()
	generation := m.generation
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	idp, err := m.ui.IdentityProviderURI(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get identity provider: %w", err)
	}
	if idp == "" {
		m.logger.Info("No identity provider given, not logging in")
		return nil, nil
	}

	openerKey, err := handoff.GenerateOpenerKey(m.keyBits)
	if err != nil {
		return nil, err
	}
	keyParam, err := openerKey.PublicParam()
	if err != nil {
		return nil, err
	}

	window := m.newWindow()
	defer window.Close()

	windowURL, err := window.Open(ctx, idp, keyParam)
	if err != nil {
		return nil, fmt.Errorf("failed to open authentication window: %w", err)
	}

	if err := m.openBrowser(windowURL); err != nil {
		m.logger.Debug("Could not open browser, asking user", "error", err)
		m.ui.NotifyInteractionRequired(windowURL)
	}

	msg, err := window.WaitForMessage(ctx)
	m.ui.NotifyInteractionComplete()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out waiting for login after %s", m.timeout)
		}
		return nil, err
	}

	var creds Credentials
	if err := openerKey.Open(msg, &creds); err != nil {
		return nil, err
	}
	if creds.TokenResponse == nil || creds.Token() == "" {
		return nil, errors.New("authentication window returned no tokens")
	}

	m.mu.Lock()
	cleared := m.generation != generation
	if !cleared {
		m.credentials = &creds
		m.issuer = idp
	}
	m.mu.Unlock()

	if cleared {
		m.forgetRegistration(idp)
		m.logger.Info("SECURITY_AUDIT: Discarded credentials cleared during login", "issuer", idp)
		return nil, ErrLoginCleared
	}

	m.logger.Info("SECURITY_AUDIT: Obtained credentials",
		"issuer", idp,
		"dpop_bound", creds.DPoPKey != nil,
		"expires_at", creds.ExpiresAt())

	return &creds, nil
}

func (m *Manager) setAcquiring(v bool) {
	m.mu.Lock()
	m.acquiring = v
	m.mu.Unlock()
}

// ClearCredentials drops the current credentials and the client
// registration made for their identity provider. The next GetCredentials
// logs in again. A login still running is discarded when it completes and
// its callers get ErrLoginCleared.
func (m *Manager) ClearCredentials() {
	m.mu.Lock()
	issuer := m.issuer
	m.credentials = nil
	m.issuer = ""
	m.generation++
	m.mu.Unlock()

	m.forgetRegistration(issuer)
	m.logger.Info("SECURITY_AUDIT: Cleared credentials", "issuer", issuer)
}

func (m *Manager) forgetRegistration(issuer string) {
	if m.oauthClient == nil || issuer == "" {
		return
	}
	if err := m.oauthClient.ForgetRegistration(context.Background(), issuer); err != nil {
		m.logger.Warn("Failed to forget client registration", "issuer", issuer, "error", err)
	}
}

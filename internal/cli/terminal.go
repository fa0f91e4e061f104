package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"podauth/internal/store"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/fatih/color"
)

// ErrPromptAborted is returned when the user interrupts a prompt.
var ErrPromptAborted = errors.New("prompt aborted")

var (
	noticeFmt = color.New(color.FgYellow).SprintFunc()
	urlFmt    = color.New(color.FgCyan, color.Underline).SprintFunc()
	okFmt     = color.New(color.FgGreen).SprintFunc()
)

// PromptFunc reads one line of input after showing label.
type PromptFunc func(ctx context.Context, label string) (string, error)

// Terminal asks the user for an identity provider and keeps them informed
// while a login waits on the browser. It implements credentials.Interaction.
type Terminal struct {
	out        io.Writer
	store      *store.Store
	configured string
	prompt     PromptFunc

	mu      sync.Mutex
	spinner *spinner.Spinner
}

// TerminalOption configures a Terminal.
type TerminalOption func(*Terminal)

// WithIdentityProvider fixes the identity provider. The user is not asked.
func WithIdentityProvider(uri string) TerminalOption {
	return func(t *Terminal) { t.configured = uri }
}

// WithStore remembers the chosen identity provider between runs.
func WithStore(s *store.Store) TerminalOption {
	return func(t *Terminal) { t.store = s }
}

// WithPrompt replaces the readline prompt.
func WithPrompt(p PromptFunc) TerminalOption {
	return func(t *Terminal) { t.prompt = p }
}

// NewTerminal creates a Terminal writing to out.
func NewTerminal(out io.Writer, opts ...TerminalOption) *Terminal {
	t := &Terminal{out: out, prompt: readlinePrompt}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// IdentityProviderURI returns the configured identity provider, else the
// remembered one, else asks the user. An empty answer means the user
// declined to log in.
func (t *Terminal) IdentityProviderURI(ctx context.Context) (string, error) {
	if t.configured != "" {
		return t.configured, nil
	}
	if t.store != nil {
		if idp, ok := t.store.Get(store.KeyIdentityProvider); ok && idp != "" {
			return idp, nil
		}
	}

	for {
		answer, err := t.prompt(ctx, "Identity provider (empty to skip): ")
		if err != nil {
			if errors.Is(err, ErrPromptAborted) {
				return "", nil
			}
			return "", err
		}

		answer = strings.TrimSpace(answer)
		if answer == "" {
			return "", nil
		}

		idp, err := NormalizeIdentityProvider(answer)
		if err != nil {
			fmt.Fprintf(t.out, "%s %v\n", noticeFmt("!"), err)
			continue
		}

		if t.store != nil {
			if err := t.store.Set(store.KeyIdentityProvider, idp); err != nil {
				return "", fmt.Errorf("failed to remember identity provider: %w", err)
			}
		}
		return idp, nil
	}
}

// NotifyInteractionRequired asks the user to open url themselves.
func (t *Terminal) NotifyInteractionRequired(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.out, "%s\n  %s\n", noticeFmt("Could not open a browser. Open this URL to log in:"), urlFmt(url))

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(t.out))
	s.Suffix = " Waiting for login..."
	s.Start()
	t.spinner = s
}

// NotifyInteractionComplete clears the waiting indicator.
func (t *Terminal) NotifyInteractionComplete() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.spinner != nil {
		t.spinner.Stop()
		t.spinner = nil
		fmt.Fprintln(t.out, okFmt("Login window closed"))
	}
}

// NormalizeIdentityProvider accepts "login.example" or a full URL and
// returns an absolute https (or http) URL.
func NormalizeIdentityProvider(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid identity provider %q: %w", raw, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", fmt.Errorf("identity provider must be an http or https URL, got %q", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("identity provider %q has no host", raw)
	}
	return u.String(), nil
}

func readlinePrompt(ctx context.Context, label string) (string, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          label,
		InterruptPrompt: "^C",
		Stdin:           os.Stdin,
		Stdout:          os.Stderr,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer rl.Close()

	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := rl.Readline()
		done <- result{line, err}
	}()

	select {
	case r := <-done:
		if errors.Is(r.err, readline.ErrInterrupt) || errors.Is(r.err, io.EOF) {
			return "", ErrPromptAborted
		}
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

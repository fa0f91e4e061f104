package app

import (
	"io"

	"podauth/internal/config"
	"podauth/internal/credentials"
)

// Config holds the application configuration
type Config struct {
	// Debug enables debug logging.
	Debug bool

	// ConfigPath is the directory holding config.yaml. Empty means
	// ~/.config/podauth.
	ConfigPath string

	// Output receives logs, prompts and notices.
	Output io.Writer

	// Podauth is the loaded configuration. NewApplication fills it in when
	// nil.
	Podauth *config.Config

	// Interaction replaces the terminal UI.
	Interaction credentials.Interaction

	// OpenBrowser replaces the system browser launcher.
	OpenBrowser func(url string) error

	// OpenerKeyBits overrides the RSA key size of the login handoff.
	OpenerKeyBits int
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, configPath string, output io.Writer) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
		Output:     output,
	}
}

package app

import (
	"fmt"
	"net/http"
	"os"

	"podauth/internal/authclient"
	"podauth/internal/config"
	"podauth/internal/credentials"
	"podauth/internal/store"
	"podauth/pkg/dpop"
	"podauth/pkg/logging"
	"podauth/pkg/oauth"
)

// Application is a configured podauth instance.
type Application struct {
	config   *Config
	services *Services
}

// NewApplication initializes logging, loads the configuration unless
// cfg.Podauth is already set and builds the services.
func NewApplication(cfg *Config) (*Application, error) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	level := logging.LevelWarn
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, cfg.Output)

	if cfg.Podauth == nil {
		pc, err := config.LoadConfig(cfg.ConfigPath)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load podauth configuration")
			return nil, fmt.Errorf("failed to load podauth configuration: %w", err)
		}
		cfg.Podauth = &pc
	}

	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{config: cfg, services: services}, nil
}

// HTTPClient returns a client whose requests are authenticated on demand.
func (a *Application) HTTPClient() *http.Client { return a.services.HTTPClient }

// Transport returns the authenticating transport.
func (a *Application) Transport() *authclient.Transport { return a.services.Transport }

// Manager returns the credential manager.
func (a *Application) Manager() *credentials.Manager { return a.services.Manager }

// Store returns the durable state store.
func (a *Application) Store() *store.Store { return a.services.Store }

// OAuth returns the OpenID Connect client.
func (a *Application) OAuth() *oauth.Client { return a.services.OAuth }

// Signer returns the DPoP proof signer.
func (a *Application) Signer() *dpop.Signer { return a.services.Signer }

// Config returns the loaded configuration.
func (a *Application) Config() *config.Config { return a.config.Podauth }

// Close releases resources held by the services.
func (a *Application) Close() error {
	return a.services.Close()
}

package cmd

import (
	"context"
	"errors"
	"os"

	"podauth/internal/app"
	"podauth/internal/cli"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates a resource stayed unauthorized.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the login flow failed.
	ExitCodeAuthFailed = 3
)

var (
	configPath string
	debug      bool
)

// rootCmd represents the base command for the podauth application.
var rootCmd = &cobra.Command{
	Use:   "podauth",
	Short: "Access authenticated Solid pod resources from the command line",
	Long: `podauth fetches resources from Solid pods and other servers that
challenge requests with WWW-Authenticate. When a server answers 401 it logs
you in through your identity provider in the browser, binds the tokens to a
DPoP key and retries the request with the right credentials: OIDC ID tokens,
DPoP-bound tokens or UMA access tokens.`,
	SilenceUsage: true,
}

// newApplication builds the application for a command. Tests replace it.
var newApplication = func(cmd *cobra.Command) (*app.Application, error) {
	return app.NewApplication(app.NewConfig(debug, configPath, cmd.ErrOrStderr()))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and exits with a code describing the
// failure, if any.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "podauth version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	var authRequired *cli.AuthRequiredError
	if errors.As(err, &authRequired) {
		return ExitCodeAuthRequired
	}

	var authFailed *cli.AuthFailedError
	if errors.As(err, &authFailed) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "", "Configuration directory (default is $HOME/.config/podauth)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newProofCmd())
}

package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"podauth/internal/cli"
	"podauth/internal/credentials"
	"podauth/internal/store"
	"podauth/pkg/jws"

	"github.com/spf13/cobra"
)

type loginOptions struct {
	idp   string
	webID string
}

func newLoginCmd() *cobra.Command {
	opts := &loginOptions{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in through your identity provider",
		Long: `Log in through your identity provider in the browser.

The identity provider is taken from the configuration, else the one you used
last, else you are asked for it. It is remembered for later runs.

Examples:
  podauth login
  podauth login --idp https://login.example
  podauth login --webid https://alice.example/profile/card#me`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.idp, "idp", "", "Identity provider to log in with (remembered)")
	cmd.Flags().StringVar(&opts.webID, "webid", "", "WebID to remember for this login")
	return cmd
}

func runLogin(cmd *cobra.Command, opts *loginOptions) error {
	application, err := newApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	st := application.Store()
	if opts.idp != "" {
		idp, err := cli.NormalizeIdentityProvider(opts.idp)
		if err != nil {
			return err
		}
		if err := st.Set(store.KeyIdentityProvider, idp); err != nil {
			return err
		}
	}

	creds, err := application.Manager().GetCredentials(commandContext(cmd))
	if err != nil {
		return &cli.AuthFailedError{IdentityProvider: application.Manager().Issuer(), Reason: err}
	}
	if creds == nil {
		return errors.New("login skipped: no identity provider given")
	}

	webID := opts.webID
	if webID == "" {
		webID = webIDClaim(creds)
	}
	if webID != "" {
		if err := st.Set(store.KeyWebID, webID); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Logged in with %s\n", application.Manager().Issuer())
	if webID != "" {
		fmt.Fprintf(out, "WebID:      %s\n", webID)
	}
	if exp := creds.ExpiresAt(); !exp.IsZero() {
		fmt.Fprintf(out, "Expires:    %s\n", exp.Local().Format(time.RFC1123))
	}
	fmt.Fprintf(out, "DPoP bound: %t\n", creds.DPoPKey != nil)
	return nil
}

// webIDClaim reads the webid claim of the ID token, falling back to sub
// when sub is a URL.
func webIDClaim(creds *credentials.Credentials) string {
	if creds.TokenResponse == nil || creds.TokenResponse.IDToken == "" {
		return ""
	}
	_, claims, err := jws.Decode(creds.TokenResponse.IDToken)
	if err != nil {
		return ""
	}
	if v, ok := claims["webid"].(string); ok && v != "" {
		return v
	}
	if sub, ok := claims["sub"].(string); ok && (strings.HasPrefix(sub, "https://") || strings.HasPrefix(sub, "http://")) {
		return sub
	}
	return ""
}

package cmd

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"podauth/internal/app"
	"podauth/internal/cli"
	"podauth/internal/store"
	"podauth/pkg/oauth"
	pkgstrings "podauth/pkg/strings"
	"podauth/pkg/uma"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

const statusProbeTimeout = 10 * time.Second

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [URL...]",
		Short: "Show the login configuration and probe resources",
		Long: `Show the identity provider, WebID and token settings podauth uses.

Given URLs, each is requested without credentials and the challenge it
answers with is shown, along with the kind of token that would answer it.

Examples:
  podauth status
  podauth status https://alice.example/private/ https://alice.example/public/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApplication(cmd)
			if err != nil {
				return err
			}
			defer application.Close()

			showSettings(cmd, application)
			if len(args) > 0 {
				fmt.Fprintln(cmd.OutOrStdout())
				probeResources(cmd, args)
			}
			return nil
		},
	}
}

func showSettings(cmd *cobra.Command, application *app.Application) {
	cfg := application.Config()
	st := application.Store()

	idp, source := cfg.IdentityProvider, "config"
	if idp == "" {
		idp, _ = st.Get(store.KeyIdentityProvider)
		source = "remembered"
	}
	if idp == "" {
		idp, source = cli.Dim("not set"), "asked at login"
	}

	webID, ok := st.Get(store.KeyWebID)
	if !ok {
		webID = cli.Dim("not set")
	}

	clientMode := "dynamic registration"
	if cfg.ClientID != "" {
		clientMode = "public client " + cfg.ClientID
	}

	t := cli.NewTable(cmd.OutOrStdout(), "SETTING", "VALUE")
	t.AppendRows([]table.Row{
		{"Identity provider", fmt.Sprintf("%s (%s)", idp, source)},
		{"WebID", webID},
		{"Client", clientMode},
		{"DPoP", cli.StatusText(fmt.Sprintf("%t (proofs valid %s)", cfg.DPoP.Enabled, cfg.DPoP.ProofLifetime), cfg.DPoP.Enabled)},
		{"Providers", strings.Join(cfg.Providers, " → ")},
		{"Cache", cfg.Cache.Backend},
		{"Callback port", callbackPort(cfg.CallbackPort)},
		{"State file", st.Path()},
		{"Credentials", application.Manager().State().String()},
	})
	t.Render()
}

func callbackPort(port int) string {
	if port == 0 {
		return "random"
	}
	return fmt.Sprint(port)
}

func probeResources(cmd *cobra.Command, urls []string) {
	client := &http.Client{Timeout: statusProbeTimeout}
	ctx := commandContext(cmd)

	t := cli.NewTable(cmd.OutOrStdout(), "URL", "STATUS", "CHALLENGE", "ANSWERED BY")
	for _, u := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
		if err != nil {
			t.AppendRow(table.Row{u, cli.StatusText("invalid", false), err.Error(), ""})
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			ce := cli.ClassifyConnectionError(err, u)
			t.AppendRow(table.Row{u, cli.StatusText(ce.Type.String(), false), "", ""})
			continue
		}
		resp.Body.Close()

		challenge := oauth.ChallengeFromResponse(resp)
		t.AppendRow(table.Row{
			u,
			cli.StatusText(resp.Status, resp.StatusCode < 400),
			pkgstrings.Challenge(challenge),
			answeredBy(challenge),
		})
	}
	t.Render()
}

// answeredBy names the token kind the default provider order would use.
func answeredBy(challenge string) string {
	switch {
	case challenge == "":
		return cli.Dim("public")
	case uma.ChallengePattern.MatchString(challenge):
		return "UMA token"
	case strings.Contains(challenge, oauth.SchemeDPoP):
		return "DPoP-bound token"
	case strings.Contains(challenge, oauth.SchemeBearer):
		return "ID token"
	default:
		return cli.StatusText("none", false)
	}
}

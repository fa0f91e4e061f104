package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"podauth/pkg/dpop"

	"github.com/spf13/cobra"
)

func newProofCmd() *cobra.Command {
	var (
		method  string
		showKey bool
	)
	cmd := &cobra.Command{
		Use:   "proof URL",
		Short: "Print a DPoP proof for a request",
		Long: `Print a DPoP proof for a request, signed with a fresh ES256 key.

The proof covers the URL without its query and fragment. It is valid for
the configured proof lifetime.

Examples:
  podauth proof https://alice.example/private/notes.ttl
  podauth proof -X PUT --key https://alice.example/private/notes.ttl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := url.Parse(args[0])
			if err != nil || u.Host == "" {
				return fmt.Errorf("invalid URL %q", args[0])
			}

			application, err := newApplication(cmd)
			if err != nil {
				return err
			}
			defer application.Close()

			key, err := dpop.GenerateKey()
			if err != nil {
				return err
			}
			proof, err := application.Signer().Proof(dpop.TargetURI(u), strings.ToUpper(method), key)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, proof)
			if !showKey {
				return nil
			}

			thumbprint, err := key.Thumbprint()
			if err != nil {
				return err
			}
			jwk, err := json.Marshal(key.PublicJWK())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "jwk: %s\njkt: %s\n", jwk, thumbprint)
			return nil
		},
	}

	cmd.Flags().StringVarP(&method, "request", "X", "GET", "HTTP method the proof is for")
	cmd.Flags().BoolVar(&showKey, "key", false, "Also print the public JWK and its thumbprint")
	return cmd
}

package cmd

import (
	"fmt"

	"podauth/internal/store"

	"github.com/spf13/cobra"
)

func newLogoutCmd() *cobra.Command {
	var forgetIDP bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget credentials and client registrations",
		Long: `Forget credentials and the client registration made for the identity
provider. With --forget-idp the remembered identity provider and WebID are
forgotten too, so the next login asks for them again.

Examples:
  podauth logout
  podauth logout --forget-idp`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApplication(cmd)
			if err != nil {
				return err
			}
			defer application.Close()

			st := application.Store()
			idp := application.Config().IdentityProvider
			if idp == "" {
				idp, _ = st.Get(store.KeyIdentityProvider)
			}
			if idp != "" {
				// Redis-backed registrations outlive the process.
				if err := application.OAuth().ForgetRegistration(commandContext(cmd), idp); err != nil {
					return fmt.Errorf("failed to forget client registration: %w", err)
				}
			}
			application.Manager().ClearCredentials()

			if forgetIDP {
				for _, key := range []string{store.KeyIdentityProvider, store.KeyWebID} {
					if err := st.Delete(key); err != nil {
						return err
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out and forgot the identity provider")
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}

	cmd.Flags().BoolVar(&forgetIDP, "forget-idp", false, "Also forget the remembered identity provider and WebID")
	return cmd
}

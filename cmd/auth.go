package cmd

import (
	"context"
	"fmt"

	"waiting-client/internal/credential"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the access and refresh tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		access, _ := cmd.Flags().GetString("access-token")
		refresh, _ := cmd.Flags().GetString("refresh-token")

		return withDeps(cmd, func(ctx context.Context, rt *deps) error {
			if err := rt.creds.Set(ctx, credential.Tokens{AccessToken: access, RefreshToken: refresh}); err != nil {
				return fmt.Errorf("login: %w", err)
			}

			if id, err := credential.UserIDFromToken(access); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Logged in as user %d\n", id)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "✓ Tokens saved")
			}
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDeps(cmd, func(ctx context.Context, rt *deps) error {
			if err := rt.creds.Clear(ctx); err != nil {
				return fmt.Errorf("logout: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Logged out")
			return nil
		})
	},
}

func init() {
	loginCmd.Flags().String("access-token", "", "access token issued by the backend")
	loginCmd.Flags().String("refresh-token", "", "refresh token issued by the backend")
	_ = loginCmd.MarkFlagRequired("access-token")
}

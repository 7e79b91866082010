package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"liveclass/internal/auth"
	"liveclass/internal/config"
)

func newTokenCmd() *cobra.Command {
	var subject, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator access token for the api",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if ttl <= 0 {
				ttl = cfg.AccessTTL
			}
			tok, err := auth.Issue(subject, role, cfg.JWTIssuer, cfg.JWTSigningKey, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", tok.ExpiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Operator the token is issued to")
	cmd.Flags().StringVar(&role, "role", auth.RoleOperator, "Token role")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to ACCESS_TTL)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"proofcanvas/pkg/auth"
)

func tokenCmd() *cobra.Command {
	var (
		secret   string
		issuer   string
		audience []string
		ttl      time.Duration
		identity auth.Identity
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development token for the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret or JWT_SECRET is required")
			}
			svc := auth.NewJWTService(secret, issuer, audience, ttl)
			t, err := svc.GenerateToken(identity)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), t)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "HMAC signing secret")
	cmd.Flags().StringVar(&issuer, "issuer", envOr("JWT_ISSUER", "proofcanvas"), "token issuer")
	cmd.Flags().StringSliceVar(&audience, "audience", nil, "token audience")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&identity.UserID, "user", "", "user id")
	cmd.Flags().StringVar(&identity.Username, "username", "", "username")
	cmd.Flags().StringVar(&identity.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&identity.AvatarColor, "color", "", "avatar color, e.g. #3b82f6")
	cmd.MarkFlagRequired("user")
	return cmd
}

package cli

import (
	"fmt"
	"time"

	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"github.com/spf13/cobra"
)

// NewTokenCmd prints a signed identity token for local testing.
func NewTokenCmd(configPath *string) *cobra.Command {
	var (
		userID int64
		name   string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development identity token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user must be a positive id")
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			svc := auth.NewJWTService(cfg.Auth.JWTSecret, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour))
			token, err := svc.Generate(domain.Identity{UserID: userID, DisplayName: name})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "numeric user id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

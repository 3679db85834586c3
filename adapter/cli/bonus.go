package cli

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/creditd/internal/billing/domain"
	"github.com/felixgeelhaar/creditd/internal/shared/infrastructure/database"
)

var bonusEmail string

var bonusCmd = &cobra.Command{
	Use:   "bonus <user-id>",
	Short: "Grant the registration welcome credits to a user",
	Long: `Grants the one-time registration bonus. The grant is idempotent:
running it again for the same user changes nothing. With --email the
user record is created first if it does not exist.`,
	Args: cobra.ExactArgs(1),
	RunE: runBonus,
}

func init() {
	bonusCmd.Flags().StringVar(&bonusEmail, "email", "", "create the user with this email if missing")
	rootCmd.AddCommand(bonusCmd)
}

func runBonus(cmd *cobra.Command, args []string) error {
	if container == nil {
		return errors.New("no container configured")
	}
	ctx := cmd.Context()

	userID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", args[0], err)
	}

	if bonusEmail != "" {
		if _, err := container.UserRepo.FindByID(ctx, userID); err != nil {
			if !database.IsNoRows(err) {
				return fmt.Errorf("look up user: %w", err)
			}
			if err := container.UserRepo.Create(ctx, &domain.User{ID: userID, Email: bonusEmail}); err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			logger.Info("created user", "user_id", userID.String())
		}
	}

	entry, err := container.BonusService.GrantRegistrationBonus(ctx, userID)
	if err != nil {
		return fmt.Errorf("grant registration bonus: %w", err)
	}
	if entry == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "registration bonus disabled, nothing granted")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "user %s: %+d credits (balance %d)\n",
		userID, entry.Delta, entry.NewCredits)
	return nil
}

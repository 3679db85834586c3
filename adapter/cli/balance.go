package cli

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var balanceCmd = &cobra.Command{
	Use:   "balance <user-id>",
	Short: "Show a user's credit balance and ledger",
	Args:  cobra.ExactArgs(1),
	RunE:  runBalance,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}

func runBalance(cmd *cobra.Command, args []string) error {
	if container == nil {
		return errors.New("no container configured")
	}
	ctx := cmd.Context()

	userID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", args[0], err)
	}

	user, err := container.UserRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	entries, err := container.LedgerRepo.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "user %s (%s): %d credits\n", user.ID, user.Email, user.Credits)
	for _, entry := range entries {
		fmt.Fprintf(out, "  %s  %+6d -> %6d  %s %s\n",
			entry.CreatedAt.Format("2006-01-02 15:04:05"),
			entry.Delta, entry.NewCredits, entry.Reason, entry.ReasonDetail)
	}
	return nil
}

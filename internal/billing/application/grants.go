package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/creditd/internal/billing/domain"
	sharedapp "github.com/felixgeelhaar/creditd/internal/shared/application"
	"github.com/felixgeelhaar/creditd/internal/shared/infrastructure/database"
)

// BonusService grants the one-time welcome credits to a newly registered
// user. The synthetic source event id makes the grant idempotent across
// retried registration flows.
type BonusService struct {
	uow    sharedapp.UnitOfWork
	users  domain.UserRepository
	ledger domain.LedgerRepository
	events EventRecorder
	amount int64
	logger *slog.Logger
}

// NewBonusService creates the registration bonus service. amount is the
// number of credits granted per registration.
func NewBonusService(
	uow sharedapp.UnitOfWork,
	users domain.UserRepository,
	ledger domain.LedgerRepository,
	events EventRecorder,
	amount int64,
	logger *slog.Logger,
) *BonusService {
	return &BonusService{
		uow:    uow,
		users:  users,
		ledger: ledger,
		events: events,
		amount: amount,
		logger: logger,
	}
}

// RegistrationBonusKey is the idempotency key for a user's welcome grant.
func RegistrationBonusKey(userID uuid.UUID) string {
	return "registration:" + userID.String()
}

// GrantRegistrationBonus credits the welcome amount to the user, at most
// once per user for the lifetime of the ledger.
func (s *BonusService) GrantRegistrationBonus(ctx context.Context, userID uuid.UUID) (*domain.LedgerEntry, error) {
	if s.amount <= 0 {
		return nil, nil
	}
	key := RegistrationBonusKey(userID)

	var entry *domain.LedgerEntry
	err := sharedapp.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		existing, err := s.ledger.FindBySourceEventID(txCtx, key)
		if err != nil {
			return fmt.Errorf("idempotency lookup: %w", err)
		}
		if existing != nil {
			entry = existing
			return nil
		}

		user, err := s.users.GetForUpdate(txCtx, userID)
		if err != nil {
			if database.IsNoRows(err) {
				return fmt.Errorf("user %s: %w", userID, domain.ErrReferenceNotFound)
			}
			return fmt.Errorf("lock user %s: %w", userID, err)
		}

		granted := domain.NewLedgerEntry(userID, user.Credits, s.amount,
			domain.ReasonRegistrationBonus, "welcome credits", key)
		if err := granted.Validate(); err != nil {
			return err
		}
		if err := s.ledger.Append(txCtx, granted); err != nil {
			return fmt.Errorf("append ledger entry: %w", err)
		}
		if err := s.users.SetCredits(txCtx, userID, granted.NewCredits); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		if err := s.events.Record(txCtx, domain.NewCreditsGranted(granted)); err != nil {
			return fmt.Errorf("record event: %w", err)
		}
		entry = granted
		return nil
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			s.logger.InfoContext(ctx, "registration bonus already granted",
				slog.String("user_id", userID.String()))
			return s.findExisting(ctx, key)
		}
		return nil, err
	}
	return entry, nil
}

func (s *BonusService) findExisting(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	existing, err := s.ledger.FindBySourceEventID(ctx, key)
	if err != nil {
		return nil, err
	}
	return existing, nil
}

package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/creditd/internal/billing/domain"
	sharedapp "github.com/felixgeelhaar/creditd/internal/shared/application"
	"github.com/felixgeelhaar/creditd/internal/shared/infrastructure/database"
)

// MonthlyReset tops yearly subscribers back up to their plan allotment each
// calendar month. Yearly plans only produce a gateway invoice once a year, so
// the intermediate months are driven by this scheduled job instead of a
// webhook. One synthetic ledger entry per subscription per calendar month
// keeps repeated runs idempotent.
type MonthlyReset struct {
	uow           sharedapp.UnitOfWork
	catalog       domain.Catalog
	users         domain.UserRepository
	customers     domain.CustomerRepository
	subscriptions domain.SubscriptionRepository
	ledger        domain.LedgerRepository
	events        EventRecorder
	logger        *slog.Logger
}

// NewMonthlyReset wires the reset job from its collaborators.
func NewMonthlyReset(
	uow sharedapp.UnitOfWork,
	catalog domain.Catalog,
	users domain.UserRepository,
	customers domain.CustomerRepository,
	subscriptions domain.SubscriptionRepository,
	ledger domain.LedgerRepository,
	events EventRecorder,
	logger *slog.Logger,
) *MonthlyReset {
	return &MonthlyReset{
		uow:           uow,
		catalog:       catalog,
		users:         users,
		customers:     customers,
		subscriptions: subscriptions,
		ledger:        ledger,
		events:        events,
		logger:        logger,
	}
}

// MonthlyResetKey is the idempotency key for one subscription's reset in the
// calendar month containing now.
func MonthlyResetKey(subscriptionID string, now time.Time) string {
	return fmt.Sprintf("monthly-reset:%s:%s", subscriptionID, now.UTC().Format("2006-01"))
}

// Run resets every active yearly subscription once for the calendar month of
// now. Each subscription is processed in its own transaction; a failure on
// one does not block the rest. Returns the number of subscriptions reset.
func (m *MonthlyReset) Run(ctx context.Context, now time.Time) (int, error) {
	subs, err := m.subscriptions.ListByStatus(ctx, domain.SubscriptionActive)
	if err != nil {
		return 0, fmt.Errorf("list active subscriptions: %w", err)
	}

	reset := 0
	var errs []error
	for _, sub := range subs {
		applied, err := m.resetOne(ctx, sub, now)
		if err != nil {
			m.logger.ErrorContext(ctx, "monthly reset failed for subscription",
				slog.String("subscription_id", sub.ID),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}
		if applied {
			reset++
		}
	}
	return reset, errors.Join(errs...)
}

func (m *MonthlyReset) resetOne(ctx context.Context, sub *domain.Subscription, now time.Time) (bool, error) {
	info, err := m.catalog.CreditsForPrice(ctx, sub.PriceID)
	if err != nil {
		if errors.Is(err, domain.ErrPriceUnknown) {
			m.logger.WarnContext(ctx, "subscription price not in catalog, skipping reset",
				slog.String("subscription_id", sub.ID),
				slog.String("price_id", sub.PriceID))
			return false, nil
		}
		return false, fmt.Errorf("resolve price %s: %w", sub.PriceID, err)
	}
	if info.Interval != domain.IntervalYear {
		// Monthly plans reset through their renewal invoices.
		return false, nil
	}

	key := MonthlyResetKey(sub.ID, now)
	applied := false
	err = sharedapp.WithUnitOfWork(ctx, m.uow, func(txCtx context.Context) error {
		existing, err := m.ledger.FindBySourceEventID(txCtx, key)
		if err != nil {
			return fmt.Errorf("idempotency lookup: %w", err)
		}
		if existing != nil {
			return nil
		}

		customer, err := m.customers.FindByID(txCtx, sub.CustomerID)
		if err != nil {
			if database.IsNoRows(err) {
				m.logger.WarnContext(txCtx, "subscription customer unknown, skipping reset",
					slog.String("subscription_id", sub.ID),
					slog.String("customer_id", sub.CustomerID))
				return nil
			}
			return fmt.Errorf("load customer %s: %w", sub.CustomerID, err)
		}

		user, err := m.users.GetForUpdate(txCtx, customer.UserID)
		if err != nil {
			if database.IsNoRows(err) {
				return nil
			}
			return fmt.Errorf("lock user %s: %w", customer.UserID, err)
		}

		delta := info.Credits - user.Credits
		if delta == 0 {
			return nil
		}

		entry := domain.NewLedgerEntry(user.ID, user.Credits, delta,
			domain.ReasonMonthlyReset, sub.PriceID, key)
		if err := entry.Validate(); err != nil {
			return err
		}
		if err := m.ledger.Append(txCtx, entry); err != nil {
			return fmt.Errorf("append ledger entry: %w", err)
		}
		if err := m.users.SetCredits(txCtx, user.ID, entry.NewCredits); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		if err := m.events.Record(txCtx, domain.NewCreditsGranted(entry)); err != nil {
			return fmt.Errorf("record event: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			// A concurrent run already recorded this month's reset.
			return false, nil
		}
		return false, err
	}
	return applied, nil
}

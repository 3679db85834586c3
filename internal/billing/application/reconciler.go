package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/creditd/internal/billing/domain"
	sharedapp "github.com/felixgeelhaar/creditd/internal/shared/application"
	shareddomain "github.com/felixgeelhaar/creditd/internal/shared/domain"
	"github.com/felixgeelhaar/creditd/internal/shared/infrastructure/database"
)

// Outcome classifies what processing a notification did.
type Outcome string

const (
	// OutcomeApplied means state changed: a subscription upsert, a credit
	// grant, or both were committed.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means a ledger entry for the event already existed;
	// nothing was changed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored means the event type is not one this system reacts to.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeSkipped means the event referenced a customer or user with no
	// local record. The event is acknowledged and will not be retried.
	OutcomeSkipped Outcome = "skipped"
)

// Result reports what a reconciliation run did.
type Result struct {
	Outcome Outcome
	Entry   *domain.LedgerEntry
}

// EventRecorder stores domain events in the ambient transaction for
// post-commit delivery.
type EventRecorder interface {
	Record(ctx context.Context, events ...shareddomain.DomainEvent) error
}

// Reconciler drives one notification through classification, the decision
// table, and transactional application. All state changes for one event
// commit atomically; a re-delivered event is detected by its ledger entry
// and applied at most once.
type Reconciler struct {
	uow           sharedapp.UnitOfWork
	users         domain.UserRepository
	customers     domain.CustomerRepository
	subscriptions domain.SubscriptionRepository
	ledger        domain.LedgerRepository
	engine        *Engine
	events        EventRecorder
	logger        *slog.Logger
}

// NewReconciler wires a reconciler from its collaborators.
func NewReconciler(
	uow sharedapp.UnitOfWork,
	users domain.UserRepository,
	customers domain.CustomerRepository,
	subscriptions domain.SubscriptionRepository,
	ledger domain.LedgerRepository,
	engine *Engine,
	events EventRecorder,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		uow:           uow,
		users:         users,
		customers:     customers,
		subscriptions: subscriptions,
		ledger:        ledger,
		engine:        engine,
		events:        events,
		logger:        logger,
	}
}

// Process applies one verified notification. Unknown event types are
// acknowledged without processing; events whose customer or user has no
// local record are skipped with a warning. Everything else either commits
// atomically or returns an error so the gateway retries the delivery.
func (r *Reconciler) Process(ctx context.Context, n *domain.Notification) (Result, error) {
	action := Classify(n.Type)
	if action == ActionIgnore {
		r.logger.DebugContext(ctx, "event type not handled",
			slog.String("event_type", n.Type))
		return Result{Outcome: OutcomeIgnored}, nil
	}

	// Resolve the decision before opening the transaction so catalog
	// lookups never run while holding the user's row lock.
	decision, err := r.engine.Decide(ctx, action, n)
	if err != nil {
		return Result{}, err
	}
	if decision.Upsert == nil && decision.Grant == nil {
		return Result{Outcome: OutcomeApplied}, nil
	}

	var result Result
	err = sharedapp.WithUnitOfWork(ctx, r.uow, func(txCtx context.Context) error {
		applied, txErr := r.apply(txCtx, n, decision)
		if txErr != nil {
			return txErr
		}
		result = applied
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrReferenceNotFound) {
			r.logger.WarnContext(ctx, "event references unknown record, skipping",
				slog.String("event_type", n.Type),
				slog.String("error", err.Error()))
			return Result{Outcome: OutcomeSkipped}, nil
		}
		// A concurrent delivery of the same event won the ledger insert.
		if database.IsUniqueViolation(err) {
			r.logger.InfoContext(ctx, "concurrent duplicate delivery detected")
			return Result{Outcome: OutcomeDuplicate}, nil
		}
		return Result{}, err
	}
	return result, nil
}

func (r *Reconciler) apply(ctx context.Context, n *domain.Notification, decision Decision) (Result, error) {
	if existing, err := r.ledger.FindBySourceEventID(ctx, n.EventID); err != nil {
		return Result{}, fmt.Errorf("idempotency lookup: %w", err)
	} else if existing != nil {
		r.logger.InfoContext(ctx, "event already applied",
			slog.String("ledger_entry_id", existing.ID.String()))
		return Result{Outcome: OutcomeDuplicate, Entry: existing}, nil
	}

	if decision.Upsert != nil {
		if err := r.applyUpsert(ctx, decision.Upsert); err != nil {
			return Result{}, err
		}
	}

	var entry *domain.LedgerEntry
	if decision.Grant != nil {
		applied, err := r.applyGrant(ctx, n, decision.Grant)
		if err != nil {
			return Result{}, err
		}
		entry = applied
	}
	return Result{Outcome: OutcomeApplied, Entry: entry}, nil
}

// applyUpsert stores the subscription projection, preserving a terminal
// status against out-of-order lifecycle deliveries. The customer mapping is
// checked first so an unknown customer surfaces as a skip, not as a foreign
// key violation.
func (r *Reconciler) applyUpsert(ctx context.Context, sub *domain.Subscription) error {
	if _, err := r.customers.FindByID(ctx, sub.CustomerID); err != nil {
		if database.IsNoRows(err) {
			return fmt.Errorf("customer %s: %w", sub.CustomerID, domain.ErrReferenceNotFound)
		}
		return fmt.Errorf("load customer %s: %w", sub.CustomerID, err)
	}

	existing, err := r.subscriptions.FindByID(ctx, sub.ID)
	if err != nil && !database.IsNoRows(err) {
		return fmt.Errorf("load subscription %s: %w", sub.ID, err)
	}
	if existing != nil && !existing.Status.CanTransitionTo(sub.Status) {
		r.logger.WarnContext(ctx, "subscription status transition rejected, keeping current status",
			slog.String("subscription_id", sub.ID),
			slog.String("current_status", string(existing.Status)),
			slog.String("requested_status", string(sub.Status)))
		sub.Status = existing.Status
	}
	if err := r.subscriptions.Upsert(ctx, sub); err != nil {
		return fmt.Errorf("upsert subscription %s: %w", sub.ID, err)
	}
	return r.events.Record(ctx, domain.NewSubscriptionChanged(sub))
}

func (r *Reconciler) applyGrant(ctx context.Context, n *domain.Notification, grant *CreditGrant) (*domain.LedgerEntry, error) {
	userID, err := r.resolveUser(ctx, n)
	if err != nil {
		return nil, err
	}

	user, err := r.users.GetForUpdate(ctx, userID)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, fmt.Errorf("user %s: %w", userID, domain.ErrReferenceNotFound)
		}
		return nil, fmt.Errorf("lock user %s: %w", userID, err)
	}

	delta := grant.Amount
	if grant.Mode == GrantAbsolute {
		delta = grant.Amount - user.Credits
	}
	if delta == 0 {
		r.logger.DebugContext(ctx, "grant resolves to zero delta, nothing to record",
			slog.String("user_id", userID.String()),
			slog.String("reason", string(grant.Reason)))
		return nil, nil
	}

	entry := domain.NewLedgerEntry(userID, user.Credits, delta, grant.Reason, grant.Detail, n.EventID)
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	if err := r.ledger.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}
	if err := r.users.SetCredits(ctx, userID, entry.NewCredits); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	if err := r.events.Record(ctx, domain.NewCreditsGranted(entry)); err != nil {
		return nil, fmt.Errorf("record event: %w", err)
	}

	r.logger.InfoContext(ctx, "credits granted",
		slog.String("user_id", userID.String()),
		slog.Int64("delta", entry.Delta),
		slog.Int64("new_credits", entry.NewCredits),
		slog.String("reason", string(entry.Reason)))
	return entry, nil
}

// resolveUser finds the application user a notification's grant targets.
// Checkout sessions may name the user directly in metadata; everything else
// goes through the customer mapping.
func (r *Reconciler) resolveUser(ctx context.Context, n *domain.Notification) (uuid.UUID, error) {
	if n.Checkout != nil && n.Checkout.UserID != "" {
		id, err := uuid.Parse(n.Checkout.UserID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("checkout user id %q: %w", n.Checkout.UserID, domain.ErrMalformedPayload)
		}
		return id, nil
	}

	customerID := ""
	switch {
	case n.Invoice != nil:
		customerID = n.Invoice.CustomerID
	case n.Checkout != nil:
		customerID = n.Checkout.CustomerID
	case n.Subscription != nil:
		customerID = n.Subscription.CustomerID
	}
	if customerID == "" {
		return uuid.Nil, fmt.Errorf("notification carries no customer reference: %w", domain.ErrMalformedPayload)
	}

	customer, err := r.customers.FindByID(ctx, customerID)
	if err != nil {
		if database.IsNoRows(err) {
			return uuid.Nil, fmt.Errorf("customer %s: %w", customerID, domain.ErrReferenceNotFound)
		}
		return uuid.Nil, fmt.Errorf("load customer %s: %w", customerID, err)
	}
	return customer.UserID, nil
}

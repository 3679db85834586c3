package application_test

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/felixgeelhaar/creditd/internal/billing/application"
	"github.com/felixgeelhaar/creditd/internal/billing/domain"
	"github.com/felixgeelhaar/creditd/internal/billing/infrastructure/catalog"
	"github.com/felixgeelhaar/creditd/internal/billing/infrastructure/persistence"
	"github.com/felixgeelhaar/creditd/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/creditd/internal/shared/infrastructure/outbox"
	sharedpersistence "github.com/felixgeelhaar/creditd/internal/shared/infrastructure/persistence"
)

type fixture struct {
	db         *sql.DB
	reconciler *application.Reconciler
	users      domain.UserRepository
	ledger     domain.LedgerRepository
	subs       domain.SubscriptionRepository
	outbox     outbox.Repository

	userID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.RunSQLiteMigrations(context.Background(), db))

	logger := slog.New(slog.DiscardHandler)
	users := persistence.NewSQLiteUserRepository(db)
	customers := persistence.NewSQLiteCustomerRepository(db)
	subs := persistence.NewSQLiteSubscriptionRepository(db)
	ledger := persistence.NewSQLiteLedgerRepository(db)
	outboxRepo := outbox.NewSQLiteRepository(db)

	priceCatalog := catalog.NewStaticCatalog(catalog.DefaultPlans())
	engine := application.NewEngine(priceCatalog, logger)
	uow := sharedpersistence.NewSQLiteUnitOfWork(db)

	f := &fixture{
		db:     db,
		users:  users,
		ledger: ledger,
		subs:   subs,
		outbox: outboxRepo,
		userID: uuid.New(),
	}
	f.reconciler = application.NewReconciler(uow, users, customers, subs, ledger,
		engine, outbox.NewRecorder(outboxRepo), logger)

	ctx := context.Background()
	require.NoError(t, users.Create(ctx, &domain.User{ID: f.userID, Email: "jo@example.com"}))
	require.NoError(t, customers.Create(ctx, &domain.Customer{ID: "cus_1", UserID: f.userID}))
	return f
}

func (f *fixture) credits(t *testing.T) int64 {
	t.Helper()
	user, err := f.users.FindByID(context.Background(), f.userID)
	require.NoError(t, err)
	return user.Credits
}

func invoiceNotification(eventID, billingReason, priceID string) *domain.Notification {
	return &domain.Notification{
		EventID: eventID,
		Type:    "invoice.payment_succeeded",
		Invoice: &domain.InvoiceNotice{
			ID:            "in_" + eventID,
			CustomerID:    "cus_1",
			BillingReason: billingReason,
			PriceID:       priceID,
		},
	}
}

func subscriptionNotification(eventID, eventType string, status domain.SubscriptionStatus) *domain.Notification {
	end := time.Now().UTC().AddDate(0, 1, 0)
	return &domain.Notification{
		EventID: eventID,
		Type:    eventType,
		Subscription: &domain.SubscriptionNotice{
			ID:               "sub_1",
			CustomerID:       "cus_1",
			PriceID:          "price_starter_month",
			Status:           status,
			CurrentPeriodEnd: &end,
		},
	}
}

func TestReconcilerGrantsOnCreationInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.reconciler.Process(ctx, invoiceNotification("evt_1", domain.BillingReasonSubscriptionCreate, "price_starter_month"))
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeApplied, result.Outcome)
	require.NotNil(t, result.Entry)
	assert.Equal(t, int64(500), result.Entry.Delta)
	assert.Equal(t, domain.ReasonSubscriptionCreate, result.Entry.Reason)
	assert.Equal(t, int64(500), f.credits(t))

	msgs, err := f.outbox.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "billing.credits.granted", msgs[0].RoutingKey)
}

func TestReconcilerDuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.reconciler.Process(ctx, invoiceNotification("evt_1", domain.BillingReasonSubscriptionCreate, "price_starter_month"))
	require.NoError(t, err)
	require.Equal(t, application.OutcomeApplied, first.Outcome)

	second, err := f.reconciler.Process(ctx, invoiceNotification("evt_1", domain.BillingReasonSubscriptionCreate, "price_starter_month"))
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeDuplicate, second.Outcome)
	assert.Equal(t, int64(500), f.credits(t), "balance unchanged by redelivery")

	entries, err := f.ledger.ListByUser(ctx, f.userID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReconcilerRenewalResetsBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reconciler.Process(ctx, invoiceNotification("evt_1", domain.BillingReasonSubscriptionCreate, "price_professional_month"))
	require.NoError(t, err)
	require.Equal(t, int64(1500), f.credits(t))

	// Simulate usage between periods.
	require.NoError(t, f.users.SetCredits(ctx, f.userID, 200))

	result, err := f.reconciler.Process(ctx, invoiceNotification("evt_2", domain.BillingReasonSubscriptionCycle, "price_professional_month"))
	require.NoError(t, err)
	require.NotNil(t, result.Entry)
	assert.Equal(t, int64(1300), result.Entry.Delta, "reset is absolute, not additive")
	assert.Equal(t, int64(1500), f.credits(t))

	t.Run("unused credits do not compound", func(t *testing.T) {
		require.NoError(t, f.users.SetCredits(ctx, f.userID, 1800))

		result, err := f.reconciler.Process(ctx, invoiceNotification("evt_3", domain.BillingReasonSubscriptionCycle, "price_professional_month"))
		require.NoError(t, err)
		require.NotNil(t, result.Entry)
		assert.Equal(t, int64(-300), result.Entry.Delta)
		assert.Equal(t, int64(1500), f.credits(t))
	})
}

func TestReconcilerRenewalWithFullBalanceIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reconciler.Process(ctx, invoiceNotification("evt_1", domain.BillingReasonSubscriptionCreate, "price_starter_month"))
	require.NoError(t, err)

	result, err := f.reconciler.Process(ctx, invoiceNotification("evt_2", domain.BillingReasonSubscriptionCycle, "price_starter_month"))
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeApplied, result.Outcome)
	assert.Nil(t, result.Entry, "zero delta records no entry")
	assert.Equal(t, int64(500), f.credits(t))
}

func TestReconcilerUpgradeGrantsDifference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reconciler.Process(ctx, invoiceNotification("evt_1", domain.BillingReasonSubscriptionCreate, "price_starter_month"))
	require.NoError(t, err)

	n := invoiceNotification("evt_2", domain.BillingReasonSubscriptionUpdate, "price_professional_month")
	n.Invoice.Lines = []domain.InvoiceLine{
		{Description: "Unused time on Starter", PriceID: "price_starter_month", Proration: true},
		{Description: "Remaining time on Professional", PriceID: "price_professional_month", Proration: true},
	}
	result, err := f.reconciler.Process(ctx, n)
	require.NoError(t, err)
	require.NotNil(t, result.Entry)
	assert.Equal(t, int64(1000), result.Entry.Delta)
	assert.Equal(t, domain.ReasonSubscriptionUpdate, result.Entry.Reason)
	assert.Equal(t, int64(1500), f.credits(t))
}

func TestReconcilerUpdateEventGrantsDirectly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reconciler.Process(ctx, invoiceNotification("evt_1", domain.BillingReasonSubscriptionCreate, "price_starter_month"))
	require.NoError(t, err)

	upgrade := subscriptionNotification("evt_2", "customer.subscription.updated", domain.SubscriptionActive)
	upgrade.Subscription.PriceID = "price_professional_month"
	upgrade.Change = domain.SubscriptionChange{
		Kind:       domain.ChangePrice,
		OldPriceID: "price_starter_month",
		NewPriceID: "price_professional_month",
	}
	result, err := f.reconciler.Process(ctx, upgrade)
	require.NoError(t, err)
	require.NotNil(t, result.Entry)
	assert.Equal(t, int64(1000), result.Entry.Delta)
	assert.Equal(t, int64(1500), f.credits(t))

	sub, err := f.subs.FindByID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "price_professional_month", sub.PriceID)

	t.Run("period advance resets like an invoice renewal", func(t *testing.T) {
		renewal := subscriptionNotification("evt_3", "customer.subscription.updated", domain.SubscriptionActive)
		renewal.Subscription.PriceID = "price_professional_month"
		renewal.Change = domain.SubscriptionChange{Kind: domain.ChangePeriod}

		result, err := f.reconciler.Process(ctx, renewal)
		require.NoError(t, err)
		assert.Equal(t, application.OutcomeApplied, result.Outcome)
		assert.Nil(t, result.Entry, "balance already at the plan allotment")
		assert.Equal(t, int64(1500), f.credits(t))
	})

	t.Run("redelivery of the update applies once", func(t *testing.T) {
		result, err := f.reconciler.Process(ctx, upgrade)
		require.NoError(t, err)
		assert.Equal(t, application.OutcomeDuplicate, result.Outcome)
		assert.Equal(t, int64(1500), f.credits(t))
	})
}

func TestReconcilerSubscriptionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.reconciler.Process(ctx, subscriptionNotification("evt_1", "customer.subscription.created", domain.SubscriptionActive))
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeApplied, created.Outcome)
	assert.Zero(t, f.credits(t), "creation grants nothing, the invoice does")

	sub, err := f.subs.FindByID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, sub.Status)

	_, err = f.reconciler.Process(ctx, subscriptionNotification("evt_2", "customer.subscription.deleted", domain.SubscriptionActive))
	require.NoError(t, err)

	sub, err = f.subs.FindByID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionCanceled, sub.Status)

	// A stale update delivered after cancellation must not resurrect it.
	_, err = f.reconciler.Process(ctx, subscriptionNotification("evt_3", "customer.subscription.updated", domain.SubscriptionActive))
	require.NoError(t, err)

	sub, err = f.subs.FindByID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionCanceled, sub.Status)
}

func TestReconcilerSkipsUnknownCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("invoice for unknown customer", func(t *testing.T) {
		n := invoiceNotification("evt_1", domain.BillingReasonSubscriptionCreate, "price_starter_month")
		n.Invoice.CustomerID = "cus_stranger"

		result, err := f.reconciler.Process(ctx, n)
		require.NoError(t, err, "unknown references are acknowledged, not retried")
		assert.Equal(t, application.OutcomeSkipped, result.Outcome)
		assert.Zero(t, f.credits(t))
	})

	t.Run("lifecycle event for unknown customer", func(t *testing.T) {
		n := subscriptionNotification("evt_2", "customer.subscription.created", domain.SubscriptionActive)
		n.Subscription.ID = "sub_orphan"
		n.Subscription.CustomerID = "cus_never_seen"

		result, err := f.reconciler.Process(ctx, n)
		require.NoError(t, err, "unknown references are acknowledged, not retried")
		assert.Equal(t, application.OutcomeSkipped, result.Outcome)

		_, err = f.subs.FindByID(ctx, "sub_orphan")
		require.Error(t, err, "no subscription row without a customer mapping")
	})
}

func TestReconcilerIgnoresUnhandledEventTypes(t *testing.T) {
	f := newFixture(t)

	result, err := f.reconciler.Process(context.Background(), &domain.Notification{
		EventID: "evt_1",
		Type:    "charge.refunded",
	})
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeIgnored, result.Outcome)
}

func TestReconcilerCheckoutPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n := &domain.Notification{
		EventID: "evt_1",
		Type:    "checkout.session.completed",
		Checkout: &domain.CheckoutNotice{
			ID:      "cs_1",
			Mode:    domain.CheckoutModePayment,
			UserID:  f.userID.String(),
			Credits: 250,
		},
	}
	result, err := f.reconciler.Process(ctx, n)
	require.NoError(t, err)
	require.NotNil(t, result.Entry)
	assert.Equal(t, domain.ReasonPurchase, result.Entry.Reason)
	assert.Equal(t, int64(250), f.credits(t))

	t.Run("subscription mode checkout is a no-op", func(t *testing.T) {
		sub := &domain.Notification{
			EventID: "evt_2",
			Type:    "checkout.session.completed",
			Checkout: &domain.CheckoutNotice{
				ID:         "cs_2",
				Mode:       domain.CheckoutModeSubscription,
				CustomerID: "cus_1",
			},
		}
		result, err := f.reconciler.Process(ctx, sub)
		require.NoError(t, err)
		assert.Nil(t, result.Entry)
		assert.Equal(t, int64(250), f.credits(t))
	})
}

func TestReconcilerConcurrentSameEvent(t *testing.T) {
	f := newFixture(t)
	n := invoiceNotification("evt_race", domain.BillingReasonSubscriptionCreate, "price_starter_month")

	const workers = 5
	outcomes := make([]application.Outcome, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.reconciler.Process(context.Background(), n)
			assert.NoError(t, err)
			outcomes[i] = result.Outcome
		}()
	}
	wg.Wait()

	applied := 0
	for _, outcome := range outcomes {
		if outcome == application.OutcomeApplied {
			applied++
		}
	}
	assert.Equal(t, 1, applied, "exactly one delivery lands")
	assert.Equal(t, int64(500), f.credits(t))

	entries, err := f.ledger.ListByUser(context.Background(), f.userID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReconcilerConcurrentDistinctPurchases(t *testing.T) {
	f := newFixture(t)

	purchase := func(eventID, sessionID string) *domain.Notification {
		return &domain.Notification{
			EventID: eventID,
			Type:    "checkout.session.completed",
			Checkout: &domain.CheckoutNotice{
				ID:      sessionID,
				Mode:    domain.CheckoutModePayment,
				UserID:  f.userID.String(),
				Credits: 100,
			},
		}
	}

	notifications := []*domain.Notification{
		purchase("evt_a", "cs_a"),
		purchase("evt_b", "cs_b"),
	}
	var wg sync.WaitGroup
	for _, n := range notifications {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.reconciler.Process(context.Background(), n)
			assert.NoError(t, err)
			assert.Equal(t, application.OutcomeApplied, result.Outcome)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(200), f.credits(t), "both purchases land")

	entries, err := f.ledger.ListByUser(context.Background(), f.userID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, int64(100), entry.Delta)
		assert.Equal(t, domain.ReasonPurchase, entry.Reason)
	}
}

func TestReconcilerLedgerSumMatchesBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reconciler.Process(ctx, invoiceNotification("evt_1", domain.BillingReasonSubscriptionCreate, "price_starter_month"))
	require.NoError(t, err)
	n := invoiceNotification("evt_2", domain.BillingReasonSubscriptionUpdate, "price_business_month")
	n.Invoice.Lines = []domain.InvoiceLine{
		{Description: "Unused time on Starter", PriceID: "price_starter_month", Proration: true},
	}
	_, err = f.reconciler.Process(ctx, n)
	require.NoError(t, err)

	sum, err := f.ledger.SumDeltas(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, f.credits(t), sum)
}

package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/craftlinehq/craftline-backend/pkg/db/models"
	"github.com/craftlinehq/craftline-backend/pkg/enums"
)

func setupPaymentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	productionOrders := `
CREATE TABLE IF NOT EXISTS production_orders (
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  provider_id TEXT NOT NULL,
  provider_payout_account_id TEXT,
  status TEXT NOT NULL,
  authorization_amount_cents INTEGER NOT NULL DEFAULT 0,
  final_price_cents INTEGER NOT NULL DEFAULT 0,
  proposed_price_cents INTEGER,
  shipping_cost_cents INTEGER NOT NULL DEFAULT 0,
  processor_intent_id TEXT,
  authorization_expires_at DATETIME,
  payment_captured_at DATETIME,
  price_change_reason TEXT,
  reauth_required_at DATETIME,
  consultation_mandatory INTEGER NOT NULL DEFAULT 0,
  cancelled_at DATETIME,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	escrowHolds := `
CREATE TABLE IF NOT EXISTS escrow_holds (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  status TEXT NOT NULL,
  processor_intent_id TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`
	payoutSchedules := `
CREATE TABLE IF NOT EXISTS payout_schedules (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  escrow_hold_id TEXT NOT NULL,
  provider_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  scheduled_payout_date DATETIME NOT NULL,
  eligible_for_payout_at DATETIME NOT NULL,
  payout_status TEXT NOT NULL,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(productionOrders).Error)
	require.NoError(t, db.Exec(escrowHolds).Error)
	require.NoError(t, db.Exec(payoutSchedules).Error)
	return db
}

func createTestOrder(t *testing.T, db *gorm.DB, status enums.OrderStatus, mutate func(*models.ProductionOrder)) *models.ProductionOrder {
	t.Helper()

	order := &models.ProductionOrder{
		ID:         uuid.New(),
		CustomerID: uuid.New(),
		ProviderID: uuid.New(),
		Status:     status,
	}
	if mutate != nil {
		mutate(order)
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func TestRepositoryUpdateEscrowStatus_casSingleWinner(t *testing.T) {
	db := setupPaymentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order := createTestOrder(t, db, enums.OrderStatusProcurementStarted, nil)
	hold := &models.EscrowHold{
		ID:                uuid.New(),
		OrderID:           order.ID,
		AmountCents:       50000,
		Status:            enums.EscrowStatusHeld,
		ProcessorIntentID: "pi_test",
	}
	require.NoError(t, db.Create(hold).Error)

	rows, err := repo.UpdateEscrowStatus(ctx, hold.ID, enums.EscrowStatusHeld, enums.EscrowStatusReleased)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	// second transition from the stale status loses the race
	rows, err = repo.UpdateEscrowStatus(ctx, hold.ID, enums.EscrowStatusHeld, enums.EscrowStatusRefunded)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)

	var stored models.EscrowHold
	require.NoError(t, db.First(&stored, "id = ?", hold.ID).Error)
	assert.Equal(t, enums.EscrowStatusReleased, stored.Status)
}

func TestRepositoryUpdateEscrowAmount_heldOnly(t *testing.T) {
	db := setupPaymentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order := createTestOrder(t, db, enums.OrderStatusPriceProposed, nil)
	hold := &models.EscrowHold{
		ID:                uuid.New(),
		OrderID:           order.ID,
		AmountCents:       50000,
		Status:            enums.EscrowStatusHeld,
		ProcessorIntentID: "pi_test",
	}
	require.NoError(t, db.Create(hold).Error)

	rows, err := repo.UpdateEscrowAmount(ctx, hold.ID, 65000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	var stored models.EscrowHold
	require.NoError(t, db.First(&stored, "id = ?", hold.ID).Error)
	assert.Equal(t, 65000, stored.AmountCents, "escrow amount must follow the raised authorization")

	// once the hold leaves held, its amount is settled history
	_, err = repo.UpdateEscrowStatus(ctx, hold.ID, enums.EscrowStatusHeld, enums.EscrowStatusReleased)
	require.NoError(t, err)
	rows, err = repo.UpdateEscrowAmount(ctx, hold.ID, 70000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)
}

func TestRepositoryMarkOrderCaptured_onlyOnce(t *testing.T) {
	db := setupPaymentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order := createTestOrder(t, db, enums.OrderStatusApproved, nil)
	capturedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows, err := repo.MarkOrderCaptured(ctx, order.ID, capturedAt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	rows, err = repo.MarkOrderCaptured(ctx, order.ID, capturedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows, "a captured order must not be captured again")
}

func TestRepositoryFindOrdersWithExpiredHolds_filters(t *testing.T) {
	db := setupPaymentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	expiredAt := now.Add(-time.Hour)
	freshAt := now.Add(24 * time.Hour)
	capturedAt := now.Add(-48 * time.Hour)
	intent := "pi_expired"

	expired := createTestOrder(t, db, enums.OrderStatusPriceProposed, func(o *models.ProductionOrder) {
		o.ProcessorIntentID = &intent
		o.AuthorizationExpiresAt = &expiredAt
	})
	// still-valid authorization
	createTestOrder(t, db, enums.OrderStatusPriceProposed, func(o *models.ProductionOrder) {
		o.AuthorizationExpiresAt = &freshAt
	})
	// expired but already captured
	createTestOrder(t, db, enums.OrderStatusInProduction, func(o *models.ProductionOrder) {
		o.AuthorizationExpiresAt = &expiredAt
		o.PaymentCapturedAt = &capturedAt
	})
	// expired but already flagged
	createTestOrder(t, db, enums.OrderStatusPriceApproved, func(o *models.ProductionOrder) {
		o.AuthorizationExpiresAt = &expiredAt
		o.ReauthRequiredAt = &expiredAt
	})

	found, err := repo.FindOrdersWithExpiredHolds(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, expired.ID, found[0].ID)

	rows, err := repo.MarkReauthRequired(ctx, expired.ID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	found, err = repo.FindOrdersWithExpiredHolds(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, found, "flagged orders must not be returned again")
}

func TestRepositoryFindOrderByIntent(t *testing.T) {
	db := setupPaymentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	intent := "pi_lookup"
	order := createTestOrder(t, db, enums.OrderStatusProcurementStarted, func(o *models.ProductionOrder) {
		o.ProcessorIntentID = &intent
	})

	found, err := repo.FindOrderByIntent(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)

	_, err = repo.FindOrderByIntent(ctx, "pi_missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

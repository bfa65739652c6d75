package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/craftlinehq/craftline-backend/pkg/config"
	"github.com/craftlinehq/craftline-backend/pkg/db/models"
	"github.com/craftlinehq/craftline-backend/pkg/enums"
	pkgerrors "github.com/craftlinehq/craftline-backend/pkg/errors"
	"github.com/craftlinehq/craftline-backend/pkg/logger"
)

// reauthorizableStatuses are the only order states where an expired hold may
// be replaced. Later states imply the price was already locked and captured
// (or is about to be), so expiry there is a data bug, not a customer flow.
var reauthorizableStatuses = map[enums.OrderStatus]struct{}{
	enums.OrderStatusProcurementStarted: {},
	enums.OrderStatusPriceProposed:      {},
	enums.OrderStatusPriceApproved:      {},
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// HoldResult describes a freshly placed authorization.
type HoldResult struct {
	EscrowHoldID uuid.UUID
	IntentID     string
	AmountCents  int
	ExpiresAt    time.Time
}

// IncrementResult describes the outcome of raising an existing hold.
type IncrementResult struct {
	// RequiresNewAuthorization is set when the processor cannot raise the
	// hold in place. Nothing was changed; the caller must collect a fresh
	// authorization for the full new amount.
	RequiresNewAuthorization bool
	NewAmountCents           int
}

// Manager owns authorization holds, capture, and refunds against the payment
// processor. Processor calls happen outside database transactions; local
// state is applied afterwards with status-guarded updates.
type Manager struct {
	repo      Repository
	tx        txRunner
	processor ProcessorClient
	cfg       config.EscrowConfig
	logg      *logger.Logger
	now       func() time.Time
}

// NewManager wires the escrow payment manager.
func NewManager(repository Repository, tx txRunner, processor ProcessorClient, cfg config.EscrowConfig, logg *logger.Logger) (*Manager, error) {
	if repository == nil {
		return nil, fmt.Errorf("payments: repository is required")
	}
	if tx == nil {
		return nil, fmt.Errorf("payments: tx runner is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("payments: processor client is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("payments: logger is required")
	}
	return &Manager{
		repo:      repository,
		tx:        tx,
		processor: processor,
		cfg:       cfg,
		logg:      logg,
		now:       time.Now,
	}, nil
}

// CreateHold places a manual-capture authorization for the order and records
// the escrow row. The provider must already have a payout account on file;
// funds are never held with nowhere to send them.
func (m *Manager) CreateHold(ctx context.Context, orderID uuid.UUID, amountCents int) (*HoldResult, error) {
	if amountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "authorization amount must be positive")
	}

	order, err := m.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentCapturedAt != nil {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyCaptured, "payment already captured for this order")
	}
	if order.ProviderPayoutAccountID == nil || *order.ProviderPayoutAccountID == "" {
		return nil, pkgerrors.New(pkgerrors.CodePolicyViolation, "provider has no payout account on file")
	}
	if _, err := m.repo.FindHeldEscrow(ctx, orderID); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already has an active authorization")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up escrow hold")
	}

	intentID, err := m.processor.CreateAuthorization(ctx, amountCents, map[string]string{
		"order_id": orderID.String(),
	})
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	expiresAt := now.Add(m.cfg.AuthorizationTTL)
	hold := &models.EscrowHold{
		OrderID:           orderID,
		AmountCents:       amountCents,
		Status:            enums.EscrowStatusHeld,
		ProcessorIntentID: intentID,
	}

	err = m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := m.repo.WithTx(tx)
		if err := txRepo.CreateEscrowHold(ctx, hold); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording escrow hold")
		}
		rows, err := txRepo.UpdateOrderPayment(ctx, orderID, order.Status, map[string]any{
			"authorization_amount_cents": amountCents,
			"processor_intent_id":        intentID,
			"authorization_expires_at":   expiresAt,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording authorization on order")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "order changed while placing authorization")
		}
		return nil
	})
	if err != nil {
		// The processor hold exists but local state does not. Void it so the
		// customer's card is not tied up by an orphaned authorization.
		if cancelErr := m.processor.CancelAuthorization(ctx, intentID); cancelErr != nil {
			m.logg.Error(ctx, "failed to void orphaned authorization "+intentID, cancelErr)
		}
		return nil, err
	}

	return &HoldResult{
		EscrowHoldID: hold.ID,
		IntentID:     intentID,
		AmountCents:  amountCents,
		ExpiresAt:    expiresAt,
	}, nil
}

// ReplaceHold voids the order's current authorization and places a fresh one
// for the given amount. Used when an increment was refused or the previous
// hold expired before capture.
func (m *Manager) ReplaceHold(ctx context.Context, orderID uuid.UUID, amountCents int) (*HoldResult, error) {
	if amountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "authorization amount must be positive")
	}

	order, err := m.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentCapturedAt != nil {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyCaptured, "payment already captured for this order")
	}

	previous, err := m.repo.FindHeldEscrow(ctx, orderID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up escrow hold")
	}

	intentID, err := m.processor.CreateAuthorization(ctx, amountCents, map[string]string{
		"order_id": orderID.String(),
		"replaces": order.IntentID(),
	})
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	expiresAt := now.Add(m.cfg.AuthorizationTTL)
	hold := &models.EscrowHold{
		OrderID:           orderID,
		AmountCents:       amountCents,
		Status:            enums.EscrowStatusHeld,
		ProcessorIntentID: intentID,
	}

	err = m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := m.repo.WithTx(tx)
		if previous != nil {
			rows, err := txRepo.UpdateEscrowStatus(ctx, previous.ID, enums.EscrowStatusHeld, enums.EscrowStatusRefunded)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "retiring previous escrow hold")
			}
			if rows == 0 {
				return pkgerrors.New(pkgerrors.CodeConcurrentModification, "previous hold changed while replacing authorization")
			}
		}
		if err := txRepo.CreateEscrowHold(ctx, hold); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording escrow hold")
		}
		rows, err := txRepo.UpdateOrderPayment(ctx, orderID, order.Status, map[string]any{
			"authorization_amount_cents": amountCents,
			"processor_intent_id":        intentID,
			"authorization_expires_at":   expiresAt,
			"reauth_required_at":         nil,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording authorization on order")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "order changed while replacing authorization")
		}
		return nil
	})
	if err != nil {
		if cancelErr := m.processor.CancelAuthorization(ctx, intentID); cancelErr != nil {
			m.logg.Error(ctx, "failed to void orphaned authorization "+intentID, cancelErr)
		}
		return nil, err
	}

	// Release the old processor hold after the swap is durable. The intent
	// expires on its own if this fails, so a warning is enough.
	if previous != nil && previous.ProcessorIntentID != "" {
		if cancelErr := m.processor.CancelAuthorization(ctx, previous.ProcessorIntentID); cancelErr != nil {
			m.logg.Error(ctx, "failed to void replaced authorization "+previous.ProcessorIntentID, cancelErr)
		}
	}

	return &HoldResult{
		EscrowHoldID: hold.ID,
		IntentID:     intentID,
		AmountCents:  amountCents,
		ExpiresAt:    expiresAt,
	}, nil
}

// IncrementHold raises the order's authorization by deltaCents. When the
// processor refuses an in-place raise the result carries
// RequiresNewAuthorization and nothing was changed.
func (m *Manager) IncrementHold(ctx context.Context, orderID uuid.UUID, deltaCents int, reason string) (*IncrementResult, error) {
	if deltaCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "increment amount must be positive")
	}

	order, err := m.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentCapturedAt != nil {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyCaptured, "payment already captured for this order")
	}
	if order.IntentID() == "" {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order has no authorization to increment")
	}
	if IsExpired(order.AuthorizationExpiresAt, m.now()) {
		return nil, pkgerrors.New(pkgerrors.CodeRequiresReauth, "authorization expired; a new authorization is required")
	}

	hold, err := m.repo.FindHeldEscrow(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "order has no held escrow")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up escrow hold")
	}

	newAmount := order.AuthorizationAmountCents + deltaCents
	outcome, err := m.processor.IncrementAuthorization(ctx, order.IntentID(), newAmount)
	if err != nil {
		return nil, err
	}
	if outcome == IncrementOutcomeIncompatible {
		return &IncrementResult{RequiresNewAuthorization: true, NewAmountCents: newAmount}, nil
	}

	err = m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := m.repo.WithTx(tx)
		rows, err := txRepo.UpdateOrderPayment(ctx, orderID, order.Status, map[string]any{
			"authorization_amount_cents": newAmount,
			"price_change_reason":        reason,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording incremented authorization")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "order changed while incrementing authorization")
		}
		// The escrow row tracks the authorized amount; dispute priority,
		// refund clamps, and payout reductions all read it.
		rows, err = txRepo.UpdateEscrowAmount(ctx, hold.ID, newAmount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording incremented escrow amount")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "escrow changed while incrementing authorization")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &IncrementResult{NewAmountCents: newAmount}, nil
}

// Capture settles the hold for amountCents and schedules the provider payout.
// It succeeds at most once per order.
func (m *Manager) Capture(ctx context.Context, orderID uuid.UUID, amountCents int) error {
	if amountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "capture amount must be positive")
	}

	order, err := m.findOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.PaymentCapturedAt != nil {
		return pkgerrors.New(pkgerrors.CodeAlreadyCaptured, "payment already captured for this order")
	}
	if order.IntentID() == "" {
		return pkgerrors.New(pkgerrors.CodeConflict, "order has no authorization to capture")
	}
	if IsExpired(order.AuthorizationExpiresAt, m.now()) {
		return pkgerrors.New(pkgerrors.CodeRequiresReauth, "authorization expired; a new authorization is required")
	}
	if amountCents > order.AuthorizationAmountCents {
		return pkgerrors.New(pkgerrors.CodePolicyViolation, "capture amount exceeds authorized amount")
	}

	hold, err := m.repo.FindHeldEscrow(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeConflict, "order has no held escrow")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up escrow hold")
	}

	if err := m.processor.Capture(ctx, order.IntentID(), amountCents); err != nil {
		return err
	}

	capturedAt := m.now().UTC()
	payoutAt := capturedAt.Add(m.cfg.PayoutHoldingPeriod)

	return m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := m.repo.WithTx(tx)
		rows, err := txRepo.MarkOrderCaptured(ctx, orderID, capturedAt)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking payment captured")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeAlreadyCaptured, "payment already captured for this order")
		}
		schedule := &models.PayoutSchedule{
			OrderID:             orderID,
			EscrowHoldID:        hold.ID,
			ProviderID:          order.ProviderID,
			AmountCents:         amountCents,
			ScheduledPayoutDate: payoutAt,
			EligibleForPayoutAt: payoutAt,
			PayoutStatus:        enums.PayoutStatusPending,
		}
		if err := txRepo.CreatePayoutSchedule(ctx, schedule); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "scheduling payout")
		}
		return nil
	})
}

// Void releases an uncaptured processor hold.
func (m *Manager) Void(ctx context.Context, intentID string) error {
	if intentID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "intent id is required")
	}
	return m.processor.CancelAuthorization(ctx, intentID)
}

// Refund returns captured funds and reports the processor refund id. Escrow
// and payout bookkeeping belong to the caller's transaction.
func (m *Manager) Refund(ctx context.Context, intentID string, amountCents int) (string, error) {
	if intentID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "intent id is required")
	}
	if amountCents <= 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	return m.processor.Refund(ctx, intentID, amountCents)
}

func (m *Manager) findOrder(ctx context.Context, orderID uuid.UUID) (*models.ProductionOrder, error) {
	order, err := m.repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up order")
	}
	return order, nil
}

// IsExpired reports whether an authorization deadline has passed.
func IsExpired(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil {
		return false
	}
	return !now.Before(*expiresAt)
}

// NeedsReauthorization reports whether an order is blocked on a fresh
// authorization. Captured orders never need one, and only pre-approval
// states are eligible for a replacement hold.
func NeedsReauthorization(status enums.OrderStatus, expiresAt, capturedAt *time.Time, now time.Time) bool {
	if capturedAt != nil {
		return false
	}
	if _, ok := reauthorizableStatuses[status]; !ok {
		return false
	}
	return IsExpired(expiresAt, now)
}

// FlagExpiredHolds marks uncaptured orders whose authorization lapsed so the
// customer can be asked for a fresh one. Each order is flagged at most once;
// the marker clears when a replacement hold lands.
func (m *Manager) FlagExpiredHolds(ctx context.Context, limit int) ([]models.ProductionOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	now := m.now().UTC()
	candidates, err := m.repo.FindOrdersWithExpiredHolds(ctx, now, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing expired authorizations")
	}

	flagged := make([]models.ProductionOrder, 0, len(candidates))
	for _, order := range candidates {
		rows, err := m.repo.MarkReauthRequired(ctx, order.ID, now)
		if err != nil {
			m.logg.Error(ctx, "failed to flag expired authorization for order "+order.ID.String(), err)
			continue
		}
		if rows == 0 {
			continue
		}
		flagged = append(flagged, order)
	}
	return flagged, nil
}

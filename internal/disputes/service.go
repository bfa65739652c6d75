package disputes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/craftlinehq/craftline-backend/internal/ledger"
	"github.com/craftlinehq/craftline-backend/internal/notifications"
	"github.com/craftlinehq/craftline-backend/pkg/actor"
	"github.com/craftlinehq/craftline-backend/pkg/db/models"
	"github.com/craftlinehq/craftline-backend/pkg/enums"
	pkgerrors "github.com/craftlinehq/craftline-backend/pkg/errors"
	"github.com/craftlinehq/craftline-backend/pkg/logger"
)

const (
	// highValueThresholdCents bumps priority for escrow over $1000.
	highValueThresholdCents = 100_000

	standardResponseWindow = 48 * time.Hour
	urgentResponseWindow   = 24 * time.Hour
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type refunder interface {
	Refund(ctx context.Context, intentID string, amountCents int) (string, error)
}

// Service adjudicates contested orders.
type Service struct {
	repo       Repository
	tx         txRunner
	payments   refunder
	ledger     ledger.Store
	dispatcher notifications.Dispatcher
	logg       *logger.Logger
	now        func() time.Time
}

// NewService wires the dispute resolution service.
func NewService(repository Repository, tx txRunner, payments refunder, ledgerStore ledger.Store, dispatcher notifications.Dispatcher, logg *logger.Logger) (*Service, error) {
	if repository == nil {
		return nil, fmt.Errorf("disputes: repository is required")
	}
	if tx == nil {
		return nil, fmt.Errorf("disputes: tx runner is required")
	}
	if payments == nil {
		return nil, fmt.Errorf("disputes: payments refunder is required")
	}
	if ledgerStore == nil {
		return nil, fmt.Errorf("disputes: ledger store is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("disputes: logger is required")
	}
	return &Service{
		repo:       repository,
		tx:         tx,
		payments:   payments,
		ledger:     ledgerStore,
		dispatcher: dispatcher,
		logg:       logg,
		now:        time.Now,
	}, nil
}

// File opens a dispute, freezes the escrow, and parks the order in the
// disputed side lane. Only one dispute may be active per order.
func (s *Service) File(ctx context.Context, orderID uuid.UUID, act actor.Actor, kind enums.DisputeKind, reason string) (*models.Dispute, error) {
	if !kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown dispute kind")
	}
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a dispute reason is required")
	}

	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() && order.Status != enums.OrderStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("orders in status %s cannot be disputed", order.Status))
	}
	// Before capture the money is only authorized; cancellation and the refund
	// policy cover that window. Disputes adjudicate captured funds.
	if !order.Captured() {
		return nil, pkgerrors.New(pkgerrors.CodePolicyViolation, "disputes may be filed only after payment capture")
	}
	if act.ID != order.CustomerID && act.ID != order.ProviderID && !act.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only a party to the order may file a dispute")
	}

	if existing, err := s.repo.FindActiveByOrder(ctx, orderID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up active dispute")
	} else if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already has an active dispute")
	}

	hold, err := s.repo.FindActiveEscrow(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodePolicyViolation, "order has no escrow to dispute")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up escrow hold")
	}

	filedAgainst := order.ProviderID
	if act.ID == order.ProviderID {
		filedAgainst = order.CustomerID
	}
	now := s.now().UTC()
	priority := priorityFor(kind, hold.AmountCents)
	dispute := &models.Dispute{
		OrderID:          orderID,
		FiledBy:          act.ID,
		FiledAgainst:     filedAgainst,
		Kind:             kind,
		Reason:           reason,
		Status:           enums.DisputeStatusOpen,
		Priority:         priority,
		ResponseDeadline: now.Add(responseWindow(priority)),
	}

	var effects notifications.Effects
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if err := txRepo.Create(ctx, dispute); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating dispute")
		}
		rows, err := txRepo.UpdateEscrow(ctx, hold.ID, enums.EscrowStatusHeld, enums.EscrowStatusDisputed, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "freezing escrow")
		}
		if rows == 0 && hold.Status != enums.EscrowStatusDisputed {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "escrow changed while filing the dispute")
		}
		rows, err = txRepo.UpdateOrderStatus(ctx, orderID, order.Status, enums.OrderStatusDisputed, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "moving order to disputed")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "order changed while filing the dispute")
		}
		data := map[string]any{
			"order_id":   orderID.String(),
			"dispute_id": dispute.ID.String(),
			"priority":   string(priority),
			"deadline":   dispute.ResponseDeadline,
		}
		effects.Add(notifications.Message{
			UserID: filedAgainst,
			Type:   enums.NotificationTypeDispute,
			Title:  "Dispute filed against you",
			Body:   "A dispute was filed on this order. Please respond before the deadline.",
			Data:   data,
		})
		effects.Add(notifications.Message{
			UserID: act.ID,
			Type:   enums.NotificationTypeDispute,
			Title:  "Dispute filed",
			Body:   "Your dispute was filed. The payout for this order is frozen while it is reviewed.",
			Data:   data,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	effects.Flush(ctx, s.dispatcher, s.logg)
	return dispute, nil
}

// Review moves an open dispute to under_review. Adjudicators only.
func (s *Service) Review(ctx context.Context, disputeID uuid.UUID, act actor.Actor) (*models.Dispute, error) {
	if !act.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only an adjudicator may review disputes")
	}
	dispute, err := s.findDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.UpdateStatus(ctx, disputeID, enums.DisputeStatusOpen, enums.DisputeStatusUnderReview, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "moving dispute to review")
	}
	if rows == 0 {
		if dispute.Status == enums.DisputeStatusResolved {
			return nil, pkgerrors.New(pkgerrors.CodeAlreadyResolved, "dispute is already resolved")
		}
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("dispute in status %s cannot move to review", dispute.Status))
	}
	dispute.Status = enums.DisputeStatusUnderReview
	return dispute, nil
}

// Escalate raises a dispute to urgent priority and tightens its deadline.
func (s *Service) Escalate(ctx context.Context, disputeID uuid.UUID, act actor.Actor) (*models.Dispute, error) {
	if !act.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only an adjudicator may escalate disputes")
	}
	dispute, err := s.findDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !dispute.Status.IsActive() {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyResolved, "dispute is already resolved")
	}
	deadline := s.now().UTC().Add(urgentResponseWindow)
	rows, err := s.repo.UpdateStatus(ctx, dispute.ID, dispute.Status, dispute.Status, map[string]any{
		"priority":          enums.DisputePriorityUrgent,
		"response_deadline": deadline,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "escalating dispute")
	}
	if rows == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConcurrentModification, "dispute changed while escalating")
	}
	dispute.Priority = enums.DisputePriorityUrgent
	dispute.ResponseDeadline = deadline
	return dispute, nil
}

// Resolve settles a dispute. The resolution type is derived from the refund
// amount against the escrowed amount. Resolution is claimed with a guarded
// update before any money moves, so retries cannot refund twice.
func (s *Service) Resolve(ctx context.Context, disputeID uuid.UUID, act actor.Actor, refundAmountCents int) (*models.Dispute, error) {
	if !act.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only an adjudicator may resolve disputes")
	}
	if refundAmountCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount cannot be negative")
	}

	dispute, err := s.findDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Status == enums.DisputeStatusResolved {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyResolved, "dispute is already resolved")
	}
	if dispute.Status != enums.DisputeStatusUnderReview {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "dispute must be under review to resolve")
	}

	order, err := s.findOrder(ctx, dispute.OrderID)
	if err != nil {
		return nil, err
	}
	hold, err := s.repo.FindActiveEscrow(ctx, dispute.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "order has no escrow to settle")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up escrow hold")
	}
	if refundAmountCents > hold.AmountCents {
		refundAmountCents = hold.AmountCents
	}
	resolution := resolutionFor(refundAmountCents, hold.AmountCents)

	// Claim the resolution first. Exactly one caller wins this update, so a
	// concurrent retry returns ALREADY_RESOLVED instead of refunding again.
	now := s.now().UTC()
	rows, err := s.repo.UpdateStatus(ctx, disputeID, enums.DisputeStatusUnderReview, enums.DisputeStatusResolved, map[string]any{
		"resolution_type":     resolution,
		"refund_amount_cents": refundAmountCents,
		"resolved_by":         act.ID,
		"resolved_at":         now,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claiming dispute resolution")
	}
	if rows == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyResolved, "dispute is already resolved")
	}

	if refundAmountCents > 0 {
		if _, err := s.payments.Refund(ctx, hold.ProcessorIntentID, refundAmountCents); err != nil {
			// Give the claim back so the adjudicator can retry once the
			// processor recovers.
			if _, revertErr := s.repo.UpdateStatus(ctx, disputeID, enums.DisputeStatusResolved, enums.DisputeStatusUnderReview, map[string]any{
				"resolution_type":     nil,
				"refund_amount_cents": nil,
				"resolved_by":         nil,
				"resolved_at":         nil,
			}); revertErr != nil {
				s.logg.Error(ctx, "failed to revert dispute claim "+disputeID.String(), revertErr)
			}
			return nil, err
		}
	}

	var effects notifications.Effects
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		switch resolution {
		case enums.ResolutionTypeFullRefund:
			if _, err := txRepo.UpdateEscrow(ctx, hold.ID, enums.EscrowStatusDisputed, enums.EscrowStatusRefunded, nil); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "refunding escrow")
			}
			if _, err := txRepo.CancelPendingPayout(ctx, hold.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancelling payout")
			}
			if _, err := txRepo.UpdateOrderStatus(ctx, order.ID, enums.OrderStatusDisputed, enums.OrderStatusRefunded, nil); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "closing refunded order")
			}
		case enums.ResolutionTypePartialRefund:
			remaining := hold.AmountCents - refundAmountCents
			if _, err := txRepo.UpdateEscrow(ctx, hold.ID, enums.EscrowStatusDisputed, enums.EscrowStatusHeld, map[string]any{
				"amount_cents": remaining,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "restoring escrow")
			}
			if _, err := txRepo.ReducePendingPayout(ctx, hold.ID, remaining); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reducing payout")
			}
			if _, err := txRepo.UpdateOrderStatus(ctx, order.ID, enums.OrderStatusDisputed, enums.OrderStatusCompleted, map[string]any{
				"completed_at": now,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "completing order")
			}
		case enums.ResolutionTypeNoRefund:
			if _, err := txRepo.UpdateEscrow(ctx, hold.ID, enums.EscrowStatusDisputed, enums.EscrowStatusHeld, nil); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "releasing escrow freeze")
			}
			if _, err := txRepo.UpdateOrderStatus(ctx, order.ID, enums.OrderStatusDisputed, enums.OrderStatusCompleted, map[string]any{
				"completed_at": now,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "completing order")
			}
		}

		if refundAmountCents > 0 {
			if _, err := s.ledger.WithTx(tx).Record(ctx, ledger.Entry{
				OrderID:     order.ID,
				ProviderID:  order.ProviderID,
				Type:        enums.LedgerEntryTypeRefundDebit,
				AmountCents: refundAmountCents,
				Metadata:    map[string]any{"dispute_id": disputeID.String()},
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording refund debit")
			}
		}

		data := map[string]any{
			"order_id":            order.ID.String(),
			"dispute_id":          disputeID.String(),
			"resolution_type":     string(resolution),
			"refund_amount_cents": refundAmountCents,
		}
		for _, userID := range []uuid.UUID{order.CustomerID, order.ProviderID} {
			effects.Add(notifications.Message{
				UserID: userID,
				Type:   enums.NotificationTypeDispute,
				Title:  "Dispute resolved",
				Body:   resolutionBody(resolution),
				Data:   data,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	effects.Flush(ctx, s.dispatcher, s.logg)

	dispute.Status = enums.DisputeStatusResolved
	dispute.ResolutionType = &resolution
	dispute.RefundAmountCents = &refundAmountCents
	dispute.ResolvedBy = &act.ID
	dispute.ResolvedAt = &now
	return dispute, nil
}

func priorityFor(kind enums.DisputeKind, escrowAmountCents int) enums.DisputePriority {
	if escrowAmountCents > highValueThresholdCents || kind == enums.DisputeKindNoShow {
		return enums.DisputePriorityHigh
	}
	return enums.DisputePriorityStandard
}

func responseWindow(priority enums.DisputePriority) time.Duration {
	if priority == enums.DisputePriorityUrgent {
		return urgentResponseWindow
	}
	return standardResponseWindow
}

func resolutionFor(refundAmountCents, escrowAmountCents int) enums.ResolutionType {
	switch {
	case refundAmountCents == 0:
		return enums.ResolutionTypeNoRefund
	case refundAmountCents < escrowAmountCents:
		return enums.ResolutionTypePartialRefund
	default:
		return enums.ResolutionTypeFullRefund
	}
}

func resolutionBody(resolution enums.ResolutionType) string {
	switch resolution {
	case enums.ResolutionTypeFullRefund:
		return "The dispute was resolved with a full refund to the customer."
	case enums.ResolutionTypePartialRefund:
		return "The dispute was resolved with a partial refund. The remainder stays with the order."
	default:
		return "The dispute was resolved without a refund. The order will proceed to payout."
	}
}

func (s *Service) findDispute(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error) {
	dispute, err := s.repo.Find(ctx, disputeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up dispute")
	}
	return dispute, nil
}

func (s *Service) findOrder(ctx context.Context, orderID uuid.UUID) (*models.ProductionOrder, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up order")
	}
	return order, nil
}

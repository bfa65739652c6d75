package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/craftlinehq/craftline-backend/internal/notifications"
	"github.com/craftlinehq/craftline-backend/internal/orders"
	"github.com/craftlinehq/craftline-backend/internal/payments"
	"github.com/craftlinehq/craftline-backend/pkg/actor"
	dberrors "github.com/craftlinehq/craftline-backend/pkg/db"
	"github.com/craftlinehq/craftline-backend/pkg/db/models"
	"github.com/craftlinehq/craftline-backend/pkg/enums"
	pkgerrors "github.com/craftlinehq/craftline-backend/pkg/errors"
	"github.com/craftlinehq/craftline-backend/pkg/logger"
)

// pendingAdjustmentConstraint is the partial unique index guaranteeing at
// most one pending adjustment per order.
const pendingAdjustmentConstraint = "uq_price_adjustments_pending_order"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type escrowManager interface {
	IncrementHold(ctx context.Context, orderID uuid.UUID, deltaCents int, reason string) (*payments.IncrementResult, error)
}

// ApproveResult reports the customer's approval outcome. When the processor
// cannot raise the existing hold the order stays at price_proposed and the
// customer must provide a fresh authorization.
type ApproveResult struct {
	RequiresNewAuthorization bool
	Order                    *models.ProductionOrder
	Adjustment               *models.PriceAdjustment
}

// Service runs provider price proposals and customer responses.
type Service struct {
	repo       Repository
	tx         txRunner
	escrow     escrowManager
	dispatcher notifications.Dispatcher
	logg       *logger.Logger
	now        func() time.Time
}

// NewService wires the price negotiation service.
func NewService(repository Repository, tx txRunner, escrow escrowManager, dispatcher notifications.Dispatcher, logg *logger.Logger) (*Service, error) {
	if repository == nil {
		return nil, fmt.Errorf("pricing: repository is required")
	}
	if tx == nil {
		return nil, fmt.Errorf("pricing: tx runner is required")
	}
	if escrow == nil {
		return nil, fmt.Errorf("pricing: escrow manager is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("pricing: logger is required")
	}
	return &Service{
		repo:       repository,
		tx:         tx,
		escrow:     escrow,
		dispatcher: dispatcher,
		logg:       logg,
		now:        time.Now,
	}, nil
}

// Propose submits a provider price for customer review. Only one proposal
// may be pending at a time; a second must wait for the first to resolve.
func (s *Service) Propose(ctx context.Context, orderID uuid.UUID, act actor.Actor, newPriceCents int, reason string) (*models.PriceAdjustment, error) {
	if newPriceCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "proposed price must be positive")
	}
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a reason for the price is required")
	}

	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	to, err := orders.Resolve(orders.ActionProposePrice, order.Status, act.Role)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.FindPendingAdjustment(ctx, orderID); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a pending price adjustment must be resolved first")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up pending adjustment")
	}

	adjustment := &models.PriceAdjustment{
		OrderID:       orderID,
		OldPriceCents: order.FinalPriceCents,
		NewPriceCents: newPriceCents,
		Reason:        reason,
		Status:        enums.AdjustmentStatusPending,
	}

	var effects notifications.Effects
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if err := txRepo.CreateAdjustment(ctx, adjustment); err != nil {
			if dberrors.IsUniqueViolation(err, pendingAdjustmentConstraint) {
				return pkgerrors.New(pkgerrors.CodeConflict, "a pending price adjustment must be resolved first")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating price adjustment")
		}
		rows, err := txRepo.UpdateOrderStatus(ctx, orderID, order.Status, to, map[string]any{
			"proposed_price_cents": newPriceCents,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating order for proposal")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "order changed while proposing a price")
		}
		effects.Add(notifications.Message{
			UserID: order.CustomerID,
			Type:   enums.NotificationTypeOrderUpdate,
			Title:  "Price proposed",
			Body:   "The provider proposed a price for your order. Please review it.",
			Data: map[string]any{
				"order_id":        orderID.String(),
				"new_price_cents": newPriceCents,
				"reason":          reason,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	effects.Flush(ctx, s.dispatcher, s.logg)
	return adjustment, nil
}

// Approve accepts the pending proposal. If the new price exceeds the current
// hold the difference is added to the authorization first; an incompatible
// hold surfaces RequiresNewAuthorization and leaves everything unchanged.
func (s *Service) Approve(ctx context.Context, orderID uuid.UUID, act actor.Actor) (*ApproveResult, error) {
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	to, err := orders.Resolve(orders.ActionApprovePrice, order.Status, act.Role)
	if err != nil {
		return nil, err
	}
	adjustment, err := s.findPending(ctx, orderID)
	if err != nil {
		return nil, err
	}

	differenceCaptured := false
	if delta := adjustment.NewPriceCents - order.AuthorizationAmountCents; delta > 0 {
		result, err := s.escrow.IncrementHold(ctx, orderID, delta, adjustment.Reason)
		if err != nil {
			return nil, err
		}
		if result.RequiresNewAuthorization {
			return &ApproveResult{RequiresNewAuthorization: true, Order: order, Adjustment: adjustment}, nil
		}
		differenceCaptured = true
	}

	var effects notifications.Effects
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		rows, err := txRepo.ResolveAdjustment(ctx, adjustment.ID, enums.AdjustmentStatusApproved, s.now().UTC(), map[string]any{
			"difference_captured": differenceCaptured,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "approving adjustment")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "adjustment changed while approving")
		}
		rows, err = txRepo.UpdateOrderStatus(ctx, orderID, order.Status, to, map[string]any{
			"final_price_cents":    adjustment.NewPriceCents,
			"proposed_price_cents": nil,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating order for approval")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "order changed while approving the price")
		}
		effects.Add(notifications.Message{
			UserID: order.ProviderID,
			Type:   enums.NotificationTypeOrderUpdate,
			Title:  "Price approved",
			Body:   "The customer approved your price.",
			Data:   map[string]any{"order_id": orderID.String(), "final_price_cents": adjustment.NewPriceCents},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	effects.Flush(ctx, s.dispatcher, s.logg)

	order.Status = to
	order.FinalPriceCents = adjustment.NewPriceCents
	adjustment.Status = enums.AdjustmentStatusApproved
	return &ApproveResult{Order: order, Adjustment: adjustment}, nil
}

// Decline rejects the pending proposal. The order stays at price_proposed so
// the provider can resubmit or the customer can cancel.
func (s *Service) Decline(ctx context.Context, orderID uuid.UUID, act actor.Actor) (*models.PriceAdjustment, error) {
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if act.Role != enums.ActorRoleCustomer && act.Role != enums.ActorRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the customer may decline a price")
	}
	if order.Status != enums.OrderStatusPriceProposed {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("no price is awaiting review in status %s", order.Status))
	}
	adjustment, err := s.findPending(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var effects notifications.Effects
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.WithTx(tx).ResolveAdjustment(ctx, adjustment.ID, enums.AdjustmentStatusDeclined, s.now().UTC(), nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "declining adjustment")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "adjustment changed while declining")
		}
		effects.Add(notifications.Message{
			UserID: order.ProviderID,
			Type:   enums.NotificationTypeOrderUpdate,
			Title:  "Price declined",
			Body:   "The customer declined your price. You may submit a new proposal.",
			Data:   map[string]any{"order_id": orderID.String()},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	effects.Flush(ctx, s.dispatcher, s.logg)

	adjustment.Status = enums.AdjustmentStatusDeclined
	return adjustment, nil
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

func (s *Service) findPending(ctx context.Context, orderID uuid.UUID) (*models.PriceAdjustment, error) {
	adjustment, err := s.repo.FindPendingAdjustment(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no pending price adjustment")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up pending adjustment")
	}
	return adjustment, nil
}

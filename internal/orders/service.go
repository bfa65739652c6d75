package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/craftlinehq/craftline-backend/internal/notifications"
	"github.com/craftlinehq/craftline-backend/internal/payments"
	"github.com/craftlinehq/craftline-backend/internal/refunds"
	"github.com/craftlinehq/craftline-backend/pkg/actor"
	"github.com/craftlinehq/craftline-backend/pkg/db/models"
	"github.com/craftlinehq/craftline-backend/pkg/enums"
	pkgerrors "github.com/craftlinehq/craftline-backend/pkg/errors"
	"github.com/craftlinehq/craftline-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type escrowManager interface {
	CreateHold(ctx context.Context, orderID uuid.UUID, amountCents int) (*payments.HoldResult, error)
	Capture(ctx context.Context, orderID uuid.UUID, amountCents int) error
	Void(ctx context.Context, intentID string) error
}

// CreateInquiryInput seeds a new order at the top of the funnel.
type CreateInquiryInput struct {
	CustomerID              uuid.UUID
	ProviderID              uuid.UUID
	ProviderPayoutAccountID *string
	ConsultationMandatory   bool
}

// Service drives the order lifecycle.
type Service struct {
	repo       Repository
	tx         txRunner
	escrow     escrowManager
	dispatcher notifications.Dispatcher
	logg       *logger.Logger
	now        func() time.Time
}

// NewService wires the order state machine service.
func NewService(repository Repository, tx txRunner, escrow escrowManager, dispatcher notifications.Dispatcher, logg *logger.Logger) (*Service, error) {
	if repository == nil {
		return nil, fmt.Errorf("orders: repository is required")
	}
	if tx == nil {
		return nil, fmt.Errorf("orders: tx runner is required")
	}
	if escrow == nil {
		return nil, fmt.Errorf("orders: escrow manager is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("orders: logger is required")
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

// CreateInquiry opens a new order in the inquiry state.
func (s *Service) CreateInquiry(ctx context.Context, in CreateInquiryInput) (*models.ProductionOrder, error) {
	if in.CustomerID == uuid.Nil || in.ProviderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer and provider ids are required")
	}
	order := &models.ProductionOrder{
		CustomerID:              in.CustomerID,
		ProviderID:              in.ProviderID,
		ProviderPayoutAccountID: in.ProviderPayoutAccountID,
		Status:                  enums.OrderStatusInquiry,
		ConsultationMandatory:   in.ConsultationMandatory,
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating order")
	}
	return order, nil
}

// Get loads one order.
func (s *Service) Get(ctx context.Context, orderID uuid.UUID) (*models.ProductionOrder, error) {
	return s.findOrder(ctx, orderID)
}

// List returns recent orders visible to the actor. Admins see all orders,
// customers and providers only their own.
func (s *Service) List(ctx context.Context, act actor.Actor, limit int) ([]models.ProductionOrder, error) {
	var (
		found []models.ProductionOrder
		err   error
	)
	if act.IsAdmin() {
		found, err = s.repo.ListRecent(ctx, limit)
	} else {
		found, err = s.repo.ListForParty(ctx, act.ID, limit)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing orders")
	}
	return found, nil
}

// StartProcurement places the up-front authorization hold for the estimate
// and moves the order out of inquiry.
func (s *Service) StartProcurement(ctx context.Context, orderID uuid.UUID, act actor.Actor, estimateCents int) (*models.ProductionOrder, error) {
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	to, err := Resolve(ActionStartProcurement, order.Status, act.Role)
	if err != nil {
		return nil, err
	}

	if _, err := s.escrow.CreateHold(ctx, orderID, estimateCents); err != nil {
		return nil, err
	}

	var effects notifications.Effects
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.WithTx(tx).UpdateStatus(ctx, orderID, order.Status, to, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating order status")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "order changed while starting procurement")
		}
		effects.Add(notifications.Message{
			UserID: order.CustomerID,
			Type:   enums.NotificationTypePayment,
			Title:  "Payment authorized",
			Body:   "Your payment method was authorized and procurement has started.",
			Data:   map[string]any{"order_id": orderID.String(), "amount_cents": estimateCents},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	effects.Flush(ctx, s.dispatcher, s.logg)

	order.Status = to
	order.AuthorizationAmountCents = estimateCents
	return order, nil
}

// Advance applies one forward lifecycle action. Price proposals and
// approvals go through the pricing flow, cancellation through Cancel.
func (s *Service) Advance(ctx context.Context, orderID uuid.UUID, action Action, act actor.Actor) (*models.ProductionOrder, error) {
	switch action {
	case ActionProposePrice, ActionApprovePrice:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price changes go through the pricing flow")
	case ActionStartProcurement:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "procurement starts with an estimate amount")
	}

	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	to, err := Resolve(action, order.Status, act.Role)
	if err != nil {
		return nil, err
	}
	if err := s.checkGates(ctx, order, action); err != nil {
		return nil, err
	}

	updates := map[string]any{}
	switch action {
	case ActionBeginProduction:
		// Funds are settled before any production cost is incurred. A hold
		// already captured by an earlier attempt is fine; the status update
		// below still needs to land.
		captureErr := s.escrow.Capture(ctx, orderID, order.FinalPriceCents)
		if captureErr != nil && !pkgerrors.HasCode(captureErr, pkgerrors.CodeAlreadyCaptured) {
			return nil, captureErr
		}
	case ActionCompleteOrder:
		updates["completed_at"] = s.now().UTC()
	}

	var effects notifications.Effects
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.WithTx(tx).UpdateStatus(ctx, orderID, order.Status, to, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating order status")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "order changed while applying "+string(action))
		}
		s.transitionEffects(&effects, order, action, to)
		return nil
	})
	if err != nil {
		return nil, err
	}
	effects.Flush(ctx, s.dispatcher, s.logg)

	order.Status = to
	return order, nil
}

// Cancel tears an order down when policy allows it. Uncaptured holds are
// voided at the processor; captured orders can no longer cancel here and
// must go through a dispute.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID, act actor.Actor, reason string) (*models.ProductionOrder, error) {
	if act.Role != enums.ActorRoleCustomer && act.Role != enums.ActorRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the customer may cancel an order")
	}

	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "order is already closed")
	}
	if !refunds.CanCancel(order.Status, order.Captured()) {
		return nil, pkgerrors.New(pkgerrors.CodePolicyViolation,
			fmt.Sprintf("orders in status %s can no longer be cancelled", order.Status))
	}

	hold, err := s.repo.FindHeldEscrow(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up escrow hold")
	}

	refundClass := refunds.ClassFor(order.Status, order.Captured())
	var effects notifications.Effects
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		rows, err := txRepo.UpdateStatus(ctx, orderID, order.Status, enums.OrderStatusCancelled, map[string]any{
			"cancelled_at":        s.now().UTC(),
			"price_change_reason": reason,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancelling order")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "order changed while cancelling")
		}
		if hold != nil {
			rows, err := txRepo.UpdateEscrowStatus(ctx, hold.ID, enums.EscrowStatusHeld, enums.EscrowStatusRefunded)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "releasing escrow hold")
			}
			if rows == 0 {
				return pkgerrors.New(pkgerrors.CodeConcurrentModification, "escrow hold changed while cancelling")
			}
		}
		data := map[string]any{"order_id": orderID.String(), "refund_class": string(refundClass)}
		effects.Add(notifications.Message{
			UserID: order.CustomerID,
			Type:   enums.NotificationTypeOrderUpdate,
			Title:  "Order cancelled",
			Body:   "Your order was cancelled and the payment hold was released.",
			Data:   data,
		})
		effects.Add(notifications.Message{
			UserID: order.ProviderID,
			Type:   enums.NotificationTypeOrderUpdate,
			Title:  "Order cancelled",
			Body:   "The customer cancelled this order.",
			Data:   data,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Void after commit. The processor hold expires on its own if this
	// fails, so cancellation does not roll back over it.
	if hold != nil && hold.ProcessorIntentID != "" {
		if voidErr := s.escrow.Void(ctx, hold.ProcessorIntentID); voidErr != nil {
			s.logg.Error(ctx, "failed to void authorization "+hold.ProcessorIntentID, voidErr)
		}
	}
	effects.Flush(ctx, s.dispatcher, s.logg)

	order.Status = enums.OrderStatusCancelled
	return order, nil
}

func (s *Service) checkGates(ctx context.Context, order *models.ProductionOrder, action Action) error {
	switch action {
	case ActionConfirmOrder:
		if order.IntentID() == "" {
			return pkgerrors.New(pkgerrors.CodePolicyViolation, "order has no payment authorization")
		}
		if payments.NeedsReauthorization(order.Status, order.AuthorizationExpiresAt, order.PaymentCapturedAt, s.now()) {
			return pkgerrors.New(pkgerrors.CodeRequiresReauth, "authorization expired; a new authorization is required")
		}
		pending, err := s.repo.HasPendingAdjustment(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking pending adjustments")
		}
		if pending {
			return pkgerrors.New(pkgerrors.CodePolicyViolation, "a pending price adjustment must be resolved first")
		}
	case ActionEnterConsultation:
		consultation, err := s.repo.FindConsultation(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading consultation")
		}
		if consultation == nil {
			return pkgerrors.New(pkgerrors.CodePolicyViolation, "no consultation was requested for this order")
		}
		if consultation.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "consultation is already resolved")
		}
	case ActionBeginProofing:
		consultation, err := s.repo.FindConsultation(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading consultation")
		}
		if consultation != nil && !consultation.Status.IsResolved() {
			return pkgerrors.New(pkgerrors.CodePolicyViolation, "the consultation must complete or be waived first")
		}
	case ActionBeginProduction:
		if order.FinalPriceCents <= 0 {
			return pkgerrors.New(pkgerrors.CodePolicyViolation, "a final price must be agreed before production")
		}
	}
	return nil
}

func (s *Service) transitionEffects(effects *notifications.Effects, order *models.ProductionOrder, action Action, to enums.OrderStatus) {
	data := map[string]any{"order_id": order.ID.String(), "status": string(to)}
	switch action {
	case ActionConfirmOrder:
		effects.Add(notifications.Message{
			UserID: order.CustomerID,
			Type:   enums.NotificationTypeOrderUpdate,
			Title:  "Order received",
			Body:   "The provider confirmed your order.",
			Data:   data,
		})
	case ActionBeginProduction:
		effects.Add(notifications.Message{
			UserID: order.CustomerID,
			Type:   enums.NotificationTypePayment,
			Title:  "Payment captured",
			Body:   "Your payment was captured and production has started.",
			Data:   data,
		})
	case ActionCompleteOrder:
		effects.Add(notifications.Message{
			UserID: order.CustomerID,
			Type:   enums.NotificationTypeOrderUpdate,
			Title:  "Order completed",
			Body:   "Your order passed quality checks and is complete.",
			Data:   data,
		})
		effects.Add(notifications.Message{
			UserID: order.ProviderID,
			Type:   enums.NotificationTypePayout,
			Title:  "Order completed",
			Body:   "The order is complete. Your payout is on schedule.",
			Data:   data,
		})
	}
}

func (s *Service) findOrder(ctx context.Context, orderID uuid.UUID) (*models.ProductionOrder, error) {
	order, err := s.repo.Find(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up order")
	}
	return order, nil
}

package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/craftlinehq/craftline-backend/internal/notifications"
	"github.com/craftlinehq/craftline-backend/pkg/db/models"
	"github.com/craftlinehq/craftline-backend/pkg/enums"
	pkgerrors "github.com/craftlinehq/craftline-backend/pkg/errors"
	"github.com/craftlinehq/craftline-backend/pkg/logger"
)

// Statuses where a processor-side cancellation means the customer has to
// authorize again before the order can move forward.
var reconcilableStatuses = map[enums.OrderStatus]bool{
	enums.OrderStatusProcurementStarted: true,
	enums.OrderStatusPriceProposed:      true,
	enums.OrderStatusPriceApproved:      true,
}

type paymentRepository interface {
	FindOrderByIntent(ctx context.Context, intentID string) (*models.ProductionOrder, error)
	FindEscrowByIntent(ctx context.Context, intentID string) (*models.EscrowHold, error)
	MarkReauthRequired(ctx context.Context, orderID uuid.UUID, at time.Time) (int64, error)
}

type ServiceParams struct {
	PaymentsRepo paymentRepository
	Dispatcher   notifications.Dispatcher
	Logger       *logger.Logger
}

// Service reconciles processor events against local payment state. The
// lifecycle flows drive Stripe synchronously, so most events arrive after the
// local write already happened and reduce to no-ops.
type Service struct {
	repo       paymentRepository
	dispatcher notifications.Dispatcher
	logg       *logger.Logger
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.PaymentsRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments repo required")
	}
	if params.Dispatcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notification dispatcher required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		repo:       params.PaymentsRepo,
		dispatcher: params.Dispatcher,
		logg:       params.Logger,
		now:        time.Now,
	}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentCanceled:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode payment intent event")
		}
		return s.reconcileCanceledIntent(ctx, intent.ID)
	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode charge event")
		}
		if charge.PaymentIntent == nil {
			return nil
		}
		return s.reconcileRefund(ctx, charge.PaymentIntent.ID, charge.AmountRefunded)
	case stripe.EventTypePaymentIntentAmountCapturableUpdated:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode payment intent event")
		}
		return s.reconcileCapturableAmount(ctx, intent.ID, int(intent.AmountCapturable))
	default:
		return nil
	}
}

// reconcileCanceledIntent flags orders whose hold died at the processor
// before the local sweep noticed. Cancellations this service initiated find
// the order in a terminal or captured state and fall through.
func (s *Service) reconcileCanceledIntent(ctx context.Context, intentID string) error {
	order, err := s.repo.FindOrderByIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find order by intent")
	}
	if order.Captured() || !reconcilableStatuses[order.Status] {
		return nil
	}

	rows, err := s.repo.MarkReauthRequired(ctx, order.ID, s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark reauthorization required")
	}
	if rows == 0 {
		return nil
	}

	msg := notifications.Message{
		UserID: order.CustomerID,
		Type:   enums.NotificationTypePayment,
		Title:  "Payment authorization expired",
		Body:   "The payment hold for your order was released by the card network. Please reauthorize payment.",
		Data: map[string]any{
			"order_id": order.ID,
		},
	}
	if err := s.dispatcher.Send(ctx, msg); err != nil {
		logCtx := s.logg.WithOrderID(ctx, order.ID.String())
		s.logg.Error(logCtx, "send reauthorization notice", err)
	}
	return nil
}

func (s *Service) reconcileRefund(ctx context.Context, intentID string, refundedCents int64) error {
	hold, err := s.repo.FindEscrowByIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find escrow by intent")
	}
	if hold.Status == enums.EscrowStatusRefunded || hold.Status == enums.EscrowStatusReleased {
		return nil
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"escrow_hold_id": hold.ID,
		"escrow_status":  hold.Status,
		"refunded_cents": refundedCents,
	})
	s.logg.Warn(logCtx, "processor reports refund not reflected in escrow state")
	return nil
}

func (s *Service) reconcileCapturableAmount(ctx context.Context, intentID string, capturableCents int) error {
	hold, err := s.repo.FindEscrowByIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find escrow by intent")
	}
	if hold.Status != enums.EscrowStatusHeld || hold.AmountCents == capturableCents {
		return nil
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"escrow_hold_id":   hold.ID,
		"escrow_cents":     hold.AmountCents,
		"capturable_cents": capturableCents,
	})
	s.logg.Warn(logCtx, "capturable amount diverges from escrow record")
	return nil
}

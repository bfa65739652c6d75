package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/craftlinehq/craftline-backend/internal/notifications"
	"github.com/craftlinehq/craftline-backend/pkg/db/models"
	"github.com/craftlinehq/craftline-backend/pkg/enums"
	"github.com/craftlinehq/craftline-backend/pkg/logger"
)

type stubWebhookRepo struct {
	order   *models.ProductionOrder
	escrow  *models.EscrowHold
	flagged []uuid.UUID
}

func (s *stubWebhookRepo) FindOrderByIntent(_ context.Context, intentID string) (*models.ProductionOrder, error) {
	if s.order != nil && s.order.IntentID() == intentID {
		return s.order, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubWebhookRepo) FindEscrowByIntent(_ context.Context, intentID string) (*models.EscrowHold, error) {
	if s.escrow != nil && s.escrow.ProcessorIntentID == intentID {
		return s.escrow, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubWebhookRepo) MarkReauthRequired(_ context.Context, orderID uuid.UUID, _ time.Time) (int64, error) {
	s.flagged = append(s.flagged, orderID)
	return 1, nil
}

type stubWebhookDispatcher struct {
	sent []notifications.Message
}

func (s *stubWebhookDispatcher) Send(_ context.Context, msg notifications.Message) error {
	s.sent = append(s.sent, msg)
	return nil
}

func newWebhookService(t *testing.T, repo *stubWebhookRepo, dispatcher *stubWebhookDispatcher) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		PaymentsRepo: repo,
		Dispatcher:   dispatcher,
		Logger:       logger.New(logger.Options{Level: zerolog.ErrorLevel, Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func intentEvent(t *testing.T, eventType stripe.EventType, intentID string) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"id": intentID})
	if err != nil {
		t.Fatalf("marshal event payload: %v", err)
	}
	return &stripe.Event{
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestHandleEventCanceledIntentFlagsOrder(t *testing.T) {
	intentID := "pi_cancelled"
	order := &models.ProductionOrder{
		ID:                uuid.New(),
		CustomerID:        uuid.New(),
		Status:            enums.OrderStatusProcurementStarted,
		ProcessorIntentID: &intentID,
	}
	repo := &stubWebhookRepo{order: order}
	dispatcher := &stubWebhookDispatcher{}
	svc := newWebhookService(t, repo, dispatcher)

	event := intentEvent(t, stripe.EventTypePaymentIntentCanceled, intentID)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(repo.flagged) != 1 || repo.flagged[0] != order.ID {
		t.Fatalf("expected order flagged for reauthorization, got %v", repo.flagged)
	}
	if len(dispatcher.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(dispatcher.sent))
	}
	if dispatcher.sent[0].UserID != order.CustomerID {
		t.Fatalf("notification went to %s, want customer", dispatcher.sent[0].UserID)
	}
	if dispatcher.sent[0].Type != enums.NotificationTypePayment {
		t.Fatalf("unexpected notification type: %s", dispatcher.sent[0].Type)
	}
}

func TestHandleEventCanceledIntentIgnoresCapturedOrder(t *testing.T) {
	intentID := "pi_captured"
	capturedAt := time.Now().UTC()
	order := &models.ProductionOrder{
		ID:                uuid.New(),
		CustomerID:        uuid.New(),
		Status:            enums.OrderStatusInProduction,
		ProcessorIntentID: &intentID,
		PaymentCapturedAt: &capturedAt,
	}
	repo := &stubWebhookRepo{order: order}
	dispatcher := &stubWebhookDispatcher{}
	svc := newWebhookService(t, repo, dispatcher)

	event := intentEvent(t, stripe.EventTypePaymentIntentCanceled, intentID)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(repo.flagged) != 0 {
		t.Fatal("captured order must not be flagged for reauthorization")
	}
	if len(dispatcher.sent) != 0 {
		t.Fatal("captured order must not notify the customer")
	}
}

func TestHandleEventCanceledIntentUnknownOrderIsNoop(t *testing.T) {
	repo := &stubWebhookRepo{}
	svc := newWebhookService(t, repo, &stubWebhookDispatcher{})

	event := intentEvent(t, stripe.EventTypePaymentIntentCanceled, "pi_unknown")
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unknown intent should be ignored: %v", err)
	}
}

func TestHandleEventRefundedEscrowIsNoop(t *testing.T) {
	repo := &stubWebhookRepo{escrow: &models.EscrowHold{
		ID:                uuid.New(),
		Status:            enums.EscrowStatusRefunded,
		ProcessorIntentID: "pi_refunded",
	}}
	svc := newWebhookService(t, repo, &stubWebhookDispatcher{})

	raw, err := json.Marshal(map[string]any{
		"amount_refunded": 5000,
		"payment_intent":  map[string]any{"id": "pi_refunded"},
	})
	if err != nil {
		t.Fatalf("marshal charge payload: %v", err)
	}
	event := &stripe.Event{
		Type: stripe.EventTypeChargeRefunded,
		Data: &stripe.EventData{Raw: raw},
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
}

func TestHandleEventIgnoresUnrelatedTypes(t *testing.T) {
	svc := newWebhookService(t, &stubWebhookRepo{}, &stubWebhookDispatcher{})
	event := intentEvent(t, stripe.EventTypeCustomerCreated, "cus_1")
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unrelated event types must be ignored: %v", err)
	}
}

type stubIdemStore struct {
	keys map[string]bool
	err  error
}

func (s *stubIdemStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("cl:idem:%s:%s", scope, id)
}

func (s *stubIdemStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.keys == nil {
		s.keys = map[string]bool{}
	}
	if s.keys[key] {
		return false, nil
	}
	s.keys[key] = true
	return true, nil
}

func (s *stubIdemStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.keys, key)
	}
	return nil
}

func TestIdempotencyGuardMarksOncePerEvent(t *testing.T) {
	guard, err := NewIdempotencyGuard(&stubIdemStore{}, time.Hour, "stripe")
	if err != nil {
		t.Fatalf("NewIdempotencyGuard: %v", err)
	}

	seen, err := guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("CheckAndMark: %v", err)
	}
	if seen {
		t.Fatal("first delivery must not be marked as processed")
	}

	seen, err = guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("CheckAndMark replay: %v", err)
	}
	if !seen {
		t.Fatal("replayed delivery must be marked as processed")
	}

	if err := guard.Delete(context.Background(), "evt_1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	seen, err = guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("CheckAndMark after delete: %v", err)
	}
	if seen {
		t.Fatal("deleted mark must allow reprocessing")
	}
}

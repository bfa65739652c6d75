package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/craftlinehq/craftline-backend/internal/notifications"
	"github.com/craftlinehq/craftline-backend/pkg/db/models"
	"github.com/craftlinehq/craftline-backend/pkg/enums"
)

type stubHoldFlagger struct {
	flagged []models.ProductionOrder
	err     error
}

func (s *stubHoldFlagger) FlagExpiredHolds(_ context.Context, _ int) ([]models.ProductionOrder, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.flagged, nil
}

type stubCronDispatcher struct {
	sent []notifications.Message
	err  error
}

func (s *stubCronDispatcher) Send(_ context.Context, msg notifications.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func TestAuthorizationExpiryJobNotifiesEachCustomer(t *testing.T) {
	first := models.ProductionOrder{ID: uuid.New(), CustomerID: uuid.New()}
	second := models.ProductionOrder{ID: uuid.New(), CustomerID: uuid.New()}
	flagger := &stubHoldFlagger{flagged: []models.ProductionOrder{first, second}}
	dispatcher := &stubCronDispatcher{}
	job, err := NewAuthorizationExpiryJob(AuthorizationExpiryJobParams{
		Logger:     testLogger(),
		Payments:   flagger,
		Dispatcher: dispatcher,
	})
	if err != nil {
		t.Fatalf("NewAuthorizationExpiryJob: %v", err)
	}
	if job.Name() != "authorization-expiry" {
		t.Fatalf("unexpected job name: %s", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(dispatcher.sent) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(dispatcher.sent))
	}
	msg := dispatcher.sent[0]
	if msg.UserID != first.CustomerID {
		t.Fatalf("notification went to %s, want customer %s", msg.UserID, first.CustomerID)
	}
	if msg.Type != enums.NotificationTypePayment {
		t.Fatalf("unexpected notification type: %s", msg.Type)
	}
	if msg.Data["order_id"] != first.ID {
		t.Fatalf("unexpected order id in payload: %v", msg.Data["order_id"])
	}
}

func TestAuthorizationExpiryJobKeepsGoingWhenDeliveryFails(t *testing.T) {
	flagger := &stubHoldFlagger{flagged: []models.ProductionOrder{{ID: uuid.New(), CustomerID: uuid.New()}}}
	dispatcher := &stubCronDispatcher{err: errors.New("push gateway down")}
	job, err := NewAuthorizationExpiryJob(AuthorizationExpiryJobParams{
		Logger:     testLogger(),
		Payments:   flagger,
		Dispatcher: dispatcher,
	})
	if err != nil {
		t.Fatalf("NewAuthorizationExpiryJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("delivery failures should not fail the job: %v", err)
	}
}

func TestAuthorizationExpiryJobSurfacesFlagError(t *testing.T) {
	flagger := &stubHoldFlagger{err: errors.New("db down")}
	job, err := NewAuthorizationExpiryJob(AuthorizationExpiryJobParams{
		Logger:     testLogger(),
		Payments:   flagger,
		Dispatcher: &stubCronDispatcher{},
	})
	if err != nil {
		t.Fatalf("NewAuthorizationExpiryJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error when flagging fails")
	}
}

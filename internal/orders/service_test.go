package orders

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/craftlinehq/craftline-backend/internal/notifications"
	"github.com/craftlinehq/craftline-backend/internal/payments"
	"github.com/craftlinehq/craftline-backend/pkg/actor"
	"github.com/craftlinehq/craftline-backend/pkg/db/models"
	"github.com/craftlinehq/craftline-backend/pkg/enums"
	pkgerrors "github.com/craftlinehq/craftline-backend/pkg/errors"
	"github.com/craftlinehq/craftline-backend/pkg/logger"
)

type stubOrdersRepo struct {
	order            *models.ProductionOrder
	consultation     *models.Consultation
	pendingAdj       bool
	heldEscrow       *models.EscrowHold
	statusRows       int64
	escrowRows       int64
	updatedTo        enums.OrderStatus
	updates          map[string]any
	escrowTransition [2]enums.EscrowStatus
	created          *models.ProductionOrder
}

func (s *stubOrdersRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubOrdersRepo) Create(ctx context.Context, order *models.ProductionOrder) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	s.created = order
	return nil
}

func (s *stubOrdersRepo) Find(ctx context.Context, orderID uuid.UUID) (*models.ProductionOrder, error) {
	if s.order == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.order, nil
}

func (s *stubOrdersRepo) ListForParty(ctx context.Context, partyID uuid.UUID, limit int) ([]models.ProductionOrder, error) {
	if s.order == nil {
		return nil, nil
	}
	if s.order.CustomerID != partyID && s.order.ProviderID != partyID {
		return nil, nil
	}
	return []models.ProductionOrder{*s.order}, nil
}

func (s *stubOrdersRepo) ListRecent(ctx context.Context, limit int) ([]models.ProductionOrder, error) {
	if s.order == nil {
		return nil, nil
	}
	return []models.ProductionOrder{*s.order}, nil
}

func (s *stubOrdersRepo) UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (int64, error) {
	s.updatedTo = to
	s.updates = updates
	return s.statusRows, nil
}

func (s *stubOrdersRepo) FindConsultation(ctx context.Context, orderID uuid.UUID) (*models.Consultation, error) {
	return s.consultation, nil
}

func (s *stubOrdersRepo) HasPendingAdjustment(ctx context.Context, orderID uuid.UUID) (bool, error) {
	return s.pendingAdj, nil
}

func (s *stubOrdersRepo) FindHeldEscrow(ctx context.Context, orderID uuid.UUID) (*models.EscrowHold, error) {
	return s.heldEscrow, nil
}

func (s *stubOrdersRepo) UpdateEscrowStatus(ctx context.Context, holdID uuid.UUID, from, to enums.EscrowStatus) (int64, error) {
	s.escrowTransition = [2]enums.EscrowStatus{from, to}
	return s.escrowRows, nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubEscrowManager struct {
	holdResult *payments.HoldResult
	holdErr    error
	captureErr error
	captures   []int
	voided     []string
}

func (s *stubEscrowManager) CreateHold(ctx context.Context, orderID uuid.UUID, amountCents int) (*payments.HoldResult, error) {
	if s.holdErr != nil {
		return nil, s.holdErr
	}
	if s.holdResult != nil {
		return s.holdResult, nil
	}
	return &payments.HoldResult{IntentID: "pi_test", AmountCents: amountCents}, nil
}

func (s *stubEscrowManager) Capture(ctx context.Context, orderID uuid.UUID, amountCents int) error {
	if s.captureErr != nil {
		return s.captureErr
	}
	s.captures = append(s.captures, amountCents)
	return nil
}

func (s *stubEscrowManager) Void(ctx context.Context, intentID string) error {
	s.voided = append(s.voided, intentID)
	return nil
}

type captureDispatcher struct {
	sent []notifications.Message
}

func (c *captureDispatcher) Send(ctx context.Context, msg notifications.Message) error {
	c.sent = append(c.sent, msg)
	return nil
}

func newTestService(t *testing.T, repo *stubOrdersRepo, escrow *stubEscrowManager, dispatcher notifications.Dispatcher) *Service {
	t.Helper()
	svc, err := NewService(repo, stubTxRunner{}, escrow, dispatcher,
		logger.New(logger.Options{Level: zerolog.ErrorLevel, Output: io.Discard}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func strPtr(s string) *string { return &s }

func order(status enums.OrderStatus) *models.ProductionOrder {
	return &models.ProductionOrder{
		ID:                      uuid.New(),
		CustomerID:              uuid.New(),
		ProviderID:              uuid.New(),
		ProviderPayoutAccountID: strPtr("acct_123"),
		Status:                  status,
	}
}

func customer(o *models.ProductionOrder) actor.Actor {
	return actor.Actor{ID: o.CustomerID, Role: enums.ActorRoleCustomer}
}

func provider(o *models.ProductionOrder) actor.Actor {
	return actor.Actor{ID: o.ProviderID, Role: enums.ActorRoleProvider}
}

func TestStartProcurementPlacesHoldThenAdvances(t *testing.T) {
	o := order(enums.OrderStatusInquiry)
	repo := &stubOrdersRepo{order: o, statusRows: 1}
	escrow := &stubEscrowManager{}
	dispatcher := &captureDispatcher{}
	svc := newTestService(t, repo, escrow, dispatcher)

	got, err := svc.StartProcurement(context.Background(), o.ID, provider(o), 50000)
	if err != nil {
		t.Fatalf("StartProcurement: %v", err)
	}
	if got.Status != enums.OrderStatusProcurementStarted {
		t.Fatalf("status = %s, want procurement_started", got.Status)
	}
	if repo.updatedTo != enums.OrderStatusProcurementStarted {
		t.Fatalf("persisted status = %s", repo.updatedTo)
	}
	if len(dispatcher.sent) != 1 || dispatcher.sent[0].UserID != o.CustomerID {
		t.Fatalf("customer notification missing: %v", dispatcher.sent)
	}
}

func TestStartProcurementPropagatesHoldFailure(t *testing.T) {
	o := order(enums.OrderStatusInquiry)
	repo := &stubOrdersRepo{order: o, statusRows: 1}
	escrow := &stubEscrowManager{holdErr: pkgerrors.New(pkgerrors.CodeProcessor, "card declined")}
	svc := newTestService(t, repo, escrow, &captureDispatcher{})

	_, err := svc.StartProcurement(context.Background(), o.ID, provider(o), 50000)
	if !pkgerrors.HasCode(err, pkgerrors.CodeProcessor) {
		t.Fatalf("err = %v, want processor error", err)
	}
	if repo.updatedTo != "" {
		t.Fatal("status must not change when the hold fails")
	}
}

func TestConfirmOrderBlockedByPendingAdjustment(t *testing.T) {
	o := order(enums.OrderStatusPriceApproved)
	o.ProcessorIntentID = strPtr("pi_abc")
	future := time.Now().Add(24 * time.Hour)
	o.AuthorizationExpiresAt = &future
	repo := &stubOrdersRepo{order: o, statusRows: 1, pendingAdj: true}
	svc := newTestService(t, repo, &stubEscrowManager{}, &captureDispatcher{})

	_, err := svc.Advance(context.Background(), o.ID, ActionConfirmOrder, provider(o))
	if !pkgerrors.HasCode(err, pkgerrors.CodePolicyViolation) {
		t.Fatalf("err = %v, want policy violation", err)
	}
}

func TestConfirmOrderBlockedByExpiredAuthorization(t *testing.T) {
	o := order(enums.OrderStatusPriceApproved)
	o.ProcessorIntentID = strPtr("pi_abc")
	past := time.Now().Add(-time.Hour)
	o.AuthorizationExpiresAt = &past
	repo := &stubOrdersRepo{order: o, statusRows: 1}
	svc := newTestService(t, repo, &stubEscrowManager{}, &captureDispatcher{})

	_, err := svc.Advance(context.Background(), o.ID, ActionConfirmOrder, provider(o))
	if !pkgerrors.HasCode(err, pkgerrors.CodeRequiresReauth) {
		t.Fatalf("err = %v, want requires reauthorization", err)
	}
}

func TestBeginProofingBlockedByUnresolvedConsultation(t *testing.T) {
	o := order(enums.OrderStatusConsultation)
	repo := &stubOrdersRepo{
		order:        o,
		statusRows:   1,
		consultation: &models.Consultation{OrderID: o.ID, Status: enums.ConsultationStatusInProgress},
	}
	svc := newTestService(t, repo, &stubEscrowManager{}, &captureDispatcher{})

	_, err := svc.Advance(context.Background(), o.ID, ActionBeginProofing, provider(o))
	if !pkgerrors.HasCode(err, pkgerrors.CodePolicyViolation) {
		t.Fatalf("err = %v, want policy violation", err)
	}
}

func TestBeginProofingBlockedByTimedOutConsultation(t *testing.T) {
	o := order(enums.OrderStatusConsultation)
	repo := &stubOrdersRepo{
		order:        o,
		statusRows:   1,
		consultation: &models.Consultation{OrderID: o.ID, Status: enums.ConsultationStatusTimedOut},
	}
	svc := newTestService(t, repo, &stubEscrowManager{}, &captureDispatcher{})

	_, err := svc.Advance(context.Background(), o.ID, ActionBeginProofing, provider(o))
	if !pkgerrors.HasCode(err, pkgerrors.CodePolicyViolation) {
		t.Fatalf("err = %v, want policy violation", err)
	}
}

func TestBeginProofingAfterWaivedConsultation(t *testing.T) {
	o := order(enums.OrderStatusConsultation)
	repo := &stubOrdersRepo{
		order:        o,
		statusRows:   1,
		consultation: &models.Consultation{OrderID: o.ID, Status: enums.ConsultationStatusWaived},
	}
	svc := newTestService(t, repo, &stubEscrowManager{}, &captureDispatcher{})

	got, err := svc.Advance(context.Background(), o.ID, ActionBeginProofing, provider(o))
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if got.Status != enums.OrderStatusProofing {
		t.Fatalf("status = %s, want proofing", got.Status)
	}
}

func TestBeginProductionCapturesFinalPrice(t *testing.T) {
	o := order(enums.OrderStatusApproved)
	o.FinalPriceCents = 65000
	repo := &stubOrdersRepo{order: o, statusRows: 1}
	escrow := &stubEscrowManager{}
	dispatcher := &captureDispatcher{}
	svc := newTestService(t, repo, escrow, dispatcher)

	got, err := svc.Advance(context.Background(), o.ID, ActionBeginProduction, provider(o))
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if got.Status != enums.OrderStatusInProduction {
		t.Fatalf("status = %s, want in_production", got.Status)
	}
	if len(escrow.captures) != 1 || escrow.captures[0] != 65000 {
		t.Fatalf("captures = %v, want one of 65000", escrow.captures)
	}
	if len(dispatcher.sent) != 1 || dispatcher.sent[0].Type != enums.NotificationTypePayment {
		t.Fatalf("capture notification missing: %v", dispatcher.sent)
	}
}

func TestBeginProductionTreatsRepeatCaptureAsResume(t *testing.T) {
	o := order(enums.OrderStatusApproved)
	o.FinalPriceCents = 65000
	repo := &stubOrdersRepo{order: o, statusRows: 1}
	escrow := &stubEscrowManager{captureErr: pkgerrors.New(pkgerrors.CodeAlreadyCaptured, "already captured")}
	svc := newTestService(t, repo, escrow, &captureDispatcher{})

	got, err := svc.Advance(context.Background(), o.ID, ActionBeginProduction, provider(o))
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if got.Status != enums.OrderStatusInProduction {
		t.Fatalf("status = %s, want in_production", got.Status)
	}
}

func TestAdvanceConcurrentModification(t *testing.T) {
	o := order(enums.OrderStatusQualityCheck)
	repo := &stubOrdersRepo{order: o, statusRows: 0}
	svc := newTestService(t, repo, &stubEscrowManager{}, &captureDispatcher{})

	_, err := svc.Advance(context.Background(), o.ID, ActionCompleteOrder, provider(o))
	if !pkgerrors.HasCode(err, pkgerrors.CodeConcurrentModification) {
		t.Fatalf("err = %v, want concurrent modification", err)
	}
}

func TestCancelVoidsHoldBeforeCapture(t *testing.T) {
	o := order(enums.OrderStatusOrderReceived)
	hold := &models.EscrowHold{ID: uuid.New(), OrderID: o.ID, AmountCents: 50000, Status: enums.EscrowStatusHeld, ProcessorIntentID: "pi_abc"}
	repo := &stubOrdersRepo{order: o, statusRows: 1, escrowRows: 1, heldEscrow: hold}
	escrow := &stubEscrowManager{}
	dispatcher := &captureDispatcher{}
	svc := newTestService(t, repo, escrow, dispatcher)

	got, err := svc.Cancel(context.Background(), o.ID, customer(o), "changed my mind")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != enums.OrderStatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if repo.escrowTransition != [2]enums.EscrowStatus{enums.EscrowStatusHeld, enums.EscrowStatusRefunded} {
		t.Fatalf("escrow transition = %v", repo.escrowTransition)
	}
	if len(escrow.voided) != 1 || escrow.voided[0] != "pi_abc" {
		t.Fatalf("hold not voided: %v", escrow.voided)
	}
	if len(dispatcher.sent) != 2 {
		t.Fatalf("both parties should be notified, got %d", len(dispatcher.sent))
	}
	// Voiding an uncaptured hold returns everything, even past order_received.
	if got := dispatcher.sent[0].Data["refund_class"]; got != string(enums.RefundClassFull) {
		t.Fatalf("refund class = %v, want %s", got, enums.RefundClassFull)
	}
}

func TestCancelRejectedOnceCaptured(t *testing.T) {
	o := order(enums.OrderStatusProofing)
	captured := time.Now().Add(-time.Hour)
	o.PaymentCapturedAt = &captured
	repo := &stubOrdersRepo{order: o, statusRows: 1}
	svc := newTestService(t, repo, &stubEscrowManager{}, &captureDispatcher{})

	_, err := svc.Cancel(context.Background(), o.ID, customer(o), "too late")
	if !pkgerrors.HasCode(err, pkgerrors.CodePolicyViolation) {
		t.Fatalf("err = %v, want policy violation", err)
	}
}

func TestCancelRejectedInProduction(t *testing.T) {
	o := order(enums.OrderStatusInProduction)
	repo := &stubOrdersRepo{order: o, statusRows: 1}
	svc := newTestService(t, repo, &stubEscrowManager{}, &captureDispatcher{})

	_, err := svc.Cancel(context.Background(), o.ID, customer(o), "no")
	if !pkgerrors.HasCode(err, pkgerrors.CodePolicyViolation) {
		t.Fatalf("err = %v, want policy violation", err)
	}
}

func TestCancelForbiddenForProvider(t *testing.T) {
	o := order(enums.OrderStatusInquiry)
	repo := &stubOrdersRepo{order: o, statusRows: 1}
	svc := newTestService(t, repo, &stubEscrowManager{}, &captureDispatcher{})

	_, err := svc.Cancel(context.Background(), o.ID, provider(o), "nope")
	if !pkgerrors.HasCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
}

func TestCreateInquiry(t *testing.T) {
	repo := &stubOrdersRepo{}
	svc := newTestService(t, repo, &stubEscrowManager{}, &captureDispatcher{})

	got, err := svc.CreateInquiry(context.Background(), CreateInquiryInput{
		CustomerID: uuid.New(),
		ProviderID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("CreateInquiry: %v", err)
	}
	if got.Status != enums.OrderStatusInquiry {
		t.Fatalf("status = %s, want inquiry", got.Status)
	}
	if repo.created == nil {
		t.Fatal("order was not persisted")
	}
}

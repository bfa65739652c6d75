package disputes

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/craftlinehq/craftline-backend/internal/ledger"
	"github.com/craftlinehq/craftline-backend/internal/notifications"
	"github.com/craftlinehq/craftline-backend/pkg/actor"
	"github.com/craftlinehq/craftline-backend/pkg/db/models"
	"github.com/craftlinehq/craftline-backend/pkg/enums"
	pkgerrors "github.com/craftlinehq/craftline-backend/pkg/errors"
	"github.com/craftlinehq/craftline-backend/pkg/logger"
)

type stubDisputesRepo struct {
	dispute       *models.Dispute
	activeDispute *models.Dispute
	order         *models.ProductionOrder
	escrow        *models.EscrowHold
	created       *models.Dispute

	disputeRows int64
	// claimOnce makes the first resolved-claim succeed and later ones fail,
	// simulating the conditional update under concurrent retries.
	claimOnce bool
	claimed   bool

	disputeTransitions []enums.DisputeStatus
	escrowTo           enums.EscrowStatus
	escrowUpdates      map[string]any
	orderTo            enums.OrderStatus
	payoutsCancelled   int
	payoutsReducedTo   int
	ledgerEntries      []ledger.Entry
}

func (s *stubDisputesRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubDisputesRepo) Create(ctx context.Context, dispute *models.Dispute) error {
	if dispute.ID == uuid.Nil {
		dispute.ID = uuid.New()
	}
	s.created = dispute
	return nil
}

func (s *stubDisputesRepo) Find(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error) {
	if s.dispute == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.dispute, nil
}

func (s *stubDisputesRepo) FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error) {
	return s.activeDispute, nil
}

func (s *stubDisputesRepo) UpdateStatus(ctx context.Context, disputeID uuid.UUID, from, to enums.DisputeStatus, updates map[string]any) (int64, error) {
	s.disputeTransitions = append(s.disputeTransitions, to)
	if s.claimOnce && from == enums.DisputeStatusUnderReview && to == enums.DisputeStatusResolved {
		if s.claimed {
			return 0, nil
		}
		s.claimed = true
		return 1, nil
	}
	return s.disputeRows, nil
}

func (s *stubDisputesRepo) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.ProductionOrder, error) {
	if s.order == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.order, nil
}

func (s *stubDisputesRepo) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (int64, error) {
	s.orderTo = to
	return 1, nil
}

func (s *stubDisputesRepo) FindActiveEscrow(ctx context.Context, orderID uuid.UUID) (*models.EscrowHold, error) {
	if s.escrow == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.escrow, nil
}

func (s *stubDisputesRepo) UpdateEscrow(ctx context.Context, holdID uuid.UUID, from, to enums.EscrowStatus, updates map[string]any) (int64, error) {
	s.escrowTo = to
	s.escrowUpdates = updates
	return 1, nil
}

func (s *stubDisputesRepo) CancelPendingPayout(ctx context.Context, escrowHoldID uuid.UUID) (int64, error) {
	s.payoutsCancelled++
	return 1, nil
}

func (s *stubDisputesRepo) ReducePendingPayout(ctx context.Context, escrowHoldID uuid.UUID, newAmountCents int) (int64, error) {
	s.payoutsReducedTo = newAmountCents
	return 1, nil
}

type stubLedger struct {
	repo *stubDisputesRepo
}

func (l *stubLedger) WithTx(tx *gorm.DB) ledger.Store { return l }

func (l *stubLedger) Record(ctx context.Context, entry ledger.Entry) (*models.LedgerEntry, error) {
	l.repo.ledgerEntries = append(l.repo.ledgerEntries, entry)
	return &models.LedgerEntry{}, nil
}

func (l *stubLedger) ProviderBalance(ctx context.Context, providerID uuid.UUID) (int64, error) {
	return 0, nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubRefunder struct {
	refunds []int
	err     error
}

func (s *stubRefunder) Refund(ctx context.Context, intentID string, amountCents int) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.refunds = append(s.refunds, amountCents)
	return "re_test", nil
}

type captureDispatcher struct {
	sent []notifications.Message
}

func (c *captureDispatcher) Send(ctx context.Context, msg notifications.Message) error {
	c.sent = append(c.sent, msg)
	return nil
}

func newTestService(t *testing.T, repo *stubDisputesRepo, refund *stubRefunder) *Service {
	t.Helper()
	svc, err := NewService(repo, stubTxRunner{}, refund, &stubLedger{repo: repo}, &captureDispatcher{},
		logger.New(logger.Options{Level: zerolog.ErrorLevel, Output: io.Discard}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func admin() actor.Actor {
	return actor.Actor{ID: uuid.New(), Role: enums.ActorRoleAdmin}
}

func capturedOrder(status enums.OrderStatus) *models.ProductionOrder {
	captured := time.Now().Add(-time.Hour)
	intent := "pi_abc"
	return &models.ProductionOrder{
		ID:                uuid.New(),
		CustomerID:        uuid.New(),
		ProviderID:        uuid.New(),
		Status:            status,
		ProcessorIntentID: &intent,
		PaymentCapturedAt: &captured,
	}
}

// An escrow of 1200.00 is over the high-value threshold: the dispute must be
// high priority with a 48 hour response window.
func TestFileHighValueDispute(t *testing.T) {
	o := capturedOrder(enums.OrderStatusInProduction)
	repo := &stubDisputesRepo{
		order:  o,
		escrow: &models.EscrowHold{ID: uuid.New(), OrderID: o.ID, AmountCents: 120000, Status: enums.EscrowStatusHeld, ProcessorIntentID: "pi_abc"},
	}
	svc := newTestService(t, repo, &stubRefunder{})

	dispute, err := svc.File(context.Background(), o.ID,
		actor.Actor{ID: o.CustomerID, Role: enums.ActorRoleCustomer},
		enums.DisputeKindQuality, "cracked finish on delivery")
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if dispute.Priority != enums.DisputePriorityHigh {
		t.Fatalf("priority = %s, want high", dispute.Priority)
	}
	window := time.Until(dispute.ResponseDeadline)
	if window < 47*time.Hour || window > 49*time.Hour {
		t.Fatalf("response window = %v, want about 48h", window)
	}
	if repo.escrowTo != enums.EscrowStatusDisputed {
		t.Fatalf("escrow moved to %s, want disputed", repo.escrowTo)
	}
	if repo.orderTo != enums.OrderStatusDisputed {
		t.Fatalf("order moved to %s, want disputed", repo.orderTo)
	}
}

func TestFileNoShowIsHighPriority(t *testing.T) {
	o := capturedOrder(enums.OrderStatusInProduction)
	repo := &stubDisputesRepo{
		order:  o,
		escrow: &models.EscrowHold{ID: uuid.New(), OrderID: o.ID, AmountCents: 5000, Status: enums.EscrowStatusHeld},
	}
	svc := newTestService(t, repo, &stubRefunder{})

	dispute, err := svc.File(context.Background(), o.ID,
		actor.Actor{ID: o.CustomerID, Role: enums.ActorRoleCustomer},
		enums.DisputeKindNoShow, "provider never showed")
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if dispute.Priority != enums.DisputePriorityHigh {
		t.Fatalf("priority = %s, want high", dispute.Priority)
	}
}

// A hold exists from procurement onward, but until capture the money is only
// authorized; filing in that window must be rejected so resolution never
// completes an order that saw no production.
func TestFileBeforeCaptureRejected(t *testing.T) {
	o := capturedOrder(enums.OrderStatusPriceProposed)
	o.PaymentCapturedAt = nil
	repo := &stubDisputesRepo{
		order:  o,
		escrow: &models.EscrowHold{ID: uuid.New(), OrderID: o.ID, AmountCents: 50000, Status: enums.EscrowStatusHeld, ProcessorIntentID: "pi_abc"},
	}
	svc := newTestService(t, repo, &stubRefunder{})

	_, err := svc.File(context.Background(), o.ID,
		actor.Actor{ID: o.CustomerID, Role: enums.ActorRoleCustomer},
		enums.DisputeKindQuality, "wrong material")
	if !pkgerrors.HasCode(err, pkgerrors.CodePolicyViolation) {
		t.Fatalf("err = %v, want policy violation", err)
	}
	if repo.created != nil {
		t.Fatal("no dispute row should be created before capture")
	}
}

func TestFileRejectsSecondActiveDispute(t *testing.T) {
	o := capturedOrder(enums.OrderStatusInProduction)
	repo := &stubDisputesRepo{
		order:         o,
		escrow:        &models.EscrowHold{ID: uuid.New(), OrderID: o.ID, AmountCents: 5000, Status: enums.EscrowStatusHeld},
		activeDispute: &models.Dispute{ID: uuid.New(), OrderID: o.ID, Status: enums.DisputeStatusOpen},
	}
	svc := newTestService(t, repo, &stubRefunder{})

	_, err := svc.File(context.Background(), o.ID,
		actor.Actor{ID: o.CustomerID, Role: enums.ActorRoleCustomer},
		enums.DisputeKindQuality, "another complaint")
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestFileByStrangerForbidden(t *testing.T) {
	o := capturedOrder(enums.OrderStatusInProduction)
	repo := &stubDisputesRepo{
		order:  o,
		escrow: &models.EscrowHold{ID: uuid.New(), OrderID: o.ID, AmountCents: 5000, Status: enums.EscrowStatusHeld},
	}
	svc := newTestService(t, repo, &stubRefunder{})

	_, err := svc.File(context.Background(), o.ID,
		actor.Actor{ID: uuid.New(), Role: enums.ActorRoleCustomer},
		enums.DisputeKindQuality, "not my order")
	if !pkgerrors.HasCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
}

func underReviewFixture(escrowCents int) (*stubDisputesRepo, *models.Dispute) {
	o := capturedOrder(enums.OrderStatusDisputed)
	dispute := &models.Dispute{
		ID:      uuid.New(),
		OrderID: o.ID,
		Status:  enums.DisputeStatusUnderReview,
	}
	repo := &stubDisputesRepo{
		dispute:     dispute,
		order:       o,
		escrow:      &models.EscrowHold{ID: uuid.New(), OrderID: o.ID, AmountCents: escrowCents, Status: enums.EscrowStatusDisputed, ProcessorIntentID: "pi_abc"},
		disputeRows: 1,
	}
	return repo, dispute
}

func TestResolveFullRefund(t *testing.T) {
	repo, dispute := underReviewFixture(65000)
	refund := &stubRefunder{}
	svc := newTestService(t, repo, refund)

	got, err := svc.Resolve(context.Background(), dispute.ID, admin(), 65000)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if *got.ResolutionType != enums.ResolutionTypeFullRefund {
		t.Fatalf("resolution = %s, want full_refund", *got.ResolutionType)
	}
	if len(refund.refunds) != 1 || refund.refunds[0] != 65000 {
		t.Fatalf("refunds = %v, want one of 65000", refund.refunds)
	}
	if repo.escrowTo != enums.EscrowStatusRefunded {
		t.Fatalf("escrow moved to %s, want refunded", repo.escrowTo)
	}
	if repo.payoutsCancelled != 1 {
		t.Fatal("pending payout was not cancelled")
	}
	if repo.orderTo != enums.OrderStatusRefunded {
		t.Fatalf("order moved to %s, want refunded", repo.orderTo)
	}
	if len(repo.ledgerEntries) != 1 || repo.ledgerEntries[0].Type != enums.LedgerEntryTypeRefundDebit {
		t.Fatalf("ledger entries = %v, want one refund debit", repo.ledgerEntries)
	}
}

func TestResolvePartialRefundReducesPayout(t *testing.T) {
	repo, dispute := underReviewFixture(65000)
	refund := &stubRefunder{}
	svc := newTestService(t, repo, refund)

	got, err := svc.Resolve(context.Background(), dispute.ID, admin(), 20000)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if *got.ResolutionType != enums.ResolutionTypePartialRefund {
		t.Fatalf("resolution = %s, want partial_refund", *got.ResolutionType)
	}
	if repo.escrowTo != enums.EscrowStatusHeld {
		t.Fatalf("escrow moved to %s, want held", repo.escrowTo)
	}
	if got := repo.escrowUpdates["amount_cents"]; got != 45000 {
		t.Fatalf("escrow amount = %v, want 45000", got)
	}
	if repo.payoutsReducedTo != 45000 {
		t.Fatalf("payout reduced to %d, want 45000", repo.payoutsReducedTo)
	}
	if repo.orderTo != enums.OrderStatusCompleted {
		t.Fatalf("order moved to %s, want completed", repo.orderTo)
	}
}

func TestResolveNoRefundReleasesFreeze(t *testing.T) {
	repo, dispute := underReviewFixture(65000)
	refund := &stubRefunder{}
	svc := newTestService(t, repo, refund)

	got, err := svc.Resolve(context.Background(), dispute.ID, admin(), 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if *got.ResolutionType != enums.ResolutionTypeNoRefund {
		t.Fatalf("resolution = %s, want no_refund", *got.ResolutionType)
	}
	if len(refund.refunds) != 0 {
		t.Fatalf("no processor refund expected, got %v", refund.refunds)
	}
	if repo.escrowTo != enums.EscrowStatusHeld {
		t.Fatalf("escrow moved to %s, want held", repo.escrowTo)
	}
	if repo.orderTo != enums.OrderStatusCompleted {
		t.Fatalf("order moved to %s, want completed", repo.orderTo)
	}
	if len(repo.ledgerEntries) != 0 {
		t.Fatalf("no ledger debit expected, got %v", repo.ledgerEntries)
	}
}

// Two adjudicators race to resolve: exactly one refund is issued, the loser
// gets ALREADY_RESOLVED.
func TestResolveConcurrentRetrySingleRefund(t *testing.T) {
	repo, dispute := underReviewFixture(65000)
	repo.claimOnce = true
	refund := &stubRefunder{}
	svc := newTestService(t, repo, refund)

	if _, err := svc.Resolve(context.Background(), dispute.ID, admin(), 65000); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	_, err := svc.Resolve(context.Background(), dispute.ID, admin(), 65000)
	if !pkgerrors.HasCode(err, pkgerrors.CodeAlreadyResolved) {
		t.Fatalf("err = %v, want already resolved", err)
	}
	if len(refund.refunds) != 1 {
		t.Fatalf("refunds issued = %d, want exactly 1", len(refund.refunds))
	}
}

func TestResolveRevertsClaimOnProcessorFailure(t *testing.T) {
	repo, dispute := underReviewFixture(65000)
	refund := &stubRefunder{err: pkgerrors.New(pkgerrors.CodeProcessor, "processor unavailable")}
	svc := newTestService(t, repo, refund)

	_, err := svc.Resolve(context.Background(), dispute.ID, admin(), 65000)
	if !pkgerrors.HasCode(err, pkgerrors.CodeProcessor) {
		t.Fatalf("err = %v, want processor error", err)
	}
	last := repo.disputeTransitions[len(repo.disputeTransitions)-1]
	if last != enums.DisputeStatusUnderReview {
		t.Fatalf("claim not reverted, last transition = %s", last)
	}
}

func TestResolveForbiddenForParties(t *testing.T) {
	repo, dispute := underReviewFixture(65000)
	svc := newTestService(t, repo, &stubRefunder{})

	_, err := svc.Resolve(context.Background(), dispute.ID,
		actor.Actor{ID: uuid.New(), Role: enums.ActorRoleCustomer}, 0)
	if !pkgerrors.HasCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
}

func TestEscalateTightensDeadline(t *testing.T) {
	repo, dispute := underReviewFixture(65000)
	svc := newTestService(t, repo, &stubRefunder{})

	got, err := svc.Escalate(context.Background(), dispute.ID, admin())
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if got.Priority != enums.DisputePriorityUrgent {
		t.Fatalf("priority = %s, want urgent", got.Priority)
	}
	window := time.Until(got.ResponseDeadline)
	if window < 23*time.Hour || window > 25*time.Hour {
		t.Fatalf("response window = %v, want about 24h", window)
	}
}

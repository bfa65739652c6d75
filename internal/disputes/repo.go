package disputes

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/craftlinehq/craftline-backend/internal/repo"
	"github.com/craftlinehq/craftline-backend/pkg/db/models"
	"github.com/craftlinehq/craftline-backend/pkg/enums"
)

// Repository is the persistence surface for dispute resolution.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, dispute *models.Dispute) error
	Find(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error)
	FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error)
	UpdateStatus(ctx context.Context, disputeID uuid.UUID, from, to enums.DisputeStatus, updates map[string]any) (int64, error)
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.ProductionOrder, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (int64, error)
	FindActiveEscrow(ctx context.Context, orderID uuid.UUID) (*models.EscrowHold, error)
	UpdateEscrow(ctx context.Context, holdID uuid.UUID, from, to enums.EscrowStatus, updates map[string]any) (int64, error)
	CancelPendingPayout(ctx context.Context, escrowHoldID uuid.UUID) (int64, error)
	ReducePendingPayout(ctx context.Context, escrowHoldID uuid.UUID, newAmountCents int) (int64, error)
}

type repository struct {
	repo.Base
}

// NewRepository constructs the GORM-backed disputes repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, dispute *models.Dispute) error {
	return r.DB(ctx).Create(dispute).Error
}

func (r *repository) Find(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	if err := r.DB(ctx).First(&dispute, "id = ?", disputeID).Error; err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *repository) FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := r.DB(ctx).
		Where("order_id = ? AND status IN ?", orderID,
			[]enums.DisputeStatus{enums.DisputeStatusOpen, enums.DisputeStatusUnderReview}).
		First(&dispute).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &dispute, nil
}

func (r *repository) UpdateStatus(ctx context.Context, disputeID uuid.UUID, from, to enums.DisputeStatus, updates map[string]any) (int64, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to
	res := r.DB(ctx).Model(&models.Dispute{}).
		Where("id = ? AND status = ?", disputeID, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.ProductionOrder, error) {
	var order models.ProductionOrder
	if err := r.DB(ctx).First(&order, "id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (int64, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to
	res := r.DB(ctx).Model(&models.ProductionOrder{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) FindActiveEscrow(ctx context.Context, orderID uuid.UUID) (*models.EscrowHold, error) {
	var hold models.EscrowHold
	err := r.DB(ctx).
		Where("order_id = ? AND status IN ?", orderID,
			[]enums.EscrowStatus{enums.EscrowStatusHeld, enums.EscrowStatusDisputed}).
		First(&hold).Error
	if err != nil {
		return nil, err
	}
	return &hold, nil
}

func (r *repository) UpdateEscrow(ctx context.Context, holdID uuid.UUID, from, to enums.EscrowStatus, updates map[string]any) (int64, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to
	res := r.DB(ctx).Model(&models.EscrowHold{}).
		Where("id = ? AND status = ?", holdID, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) CancelPendingPayout(ctx context.Context, escrowHoldID uuid.UUID) (int64, error) {
	res := r.DB(ctx).Model(&models.PayoutSchedule{}).
		Where("escrow_hold_id = ? AND payout_status = ?", escrowHoldID, enums.PayoutStatusPending).
		Update("payout_status", enums.PayoutStatusCancelled)
	return res.RowsAffected, res.Error
}

func (r *repository) ReducePendingPayout(ctx context.Context, escrowHoldID uuid.UUID, newAmountCents int) (int64, error) {
	res := r.DB(ctx).Model(&models.PayoutSchedule{}).
		Where("escrow_hold_id = ? AND payout_status = ?", escrowHoldID, enums.PayoutStatusPending).
		Update("amount_cents", newAmountCents)
	return res.RowsAffected, res.Error
}

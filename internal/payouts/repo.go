package payouts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/craftlinehq/craftline-backend/internal/repo"
	"github.com/craftlinehq/craftline-backend/pkg/db/models"
	"github.com/craftlinehq/craftline-backend/pkg/enums"
)

// EligiblePayout is one schedule row due for release, with its escrow and order.
type EligiblePayout struct {
	Schedule models.PayoutSchedule
	Escrow   models.EscrowHold
	Order    models.ProductionOrder
}

// Repository is the persistence surface for the payout sweep.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindEligible(ctx context.Context, now time.Time, limit int) ([]EligiblePayout, error)
	HasActiveDispute(ctx context.Context, orderID uuid.UUID) (bool, error)
	ReleaseEscrow(ctx context.Context, holdID uuid.UUID) (int64, error)
	CompleteSchedule(ctx context.Context, scheduleID uuid.UUID, completedAt time.Time) (int64, error)
}

type repository struct {
	repo.Base
}

// NewRepository constructs the GORM-backed payouts repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) FindEligible(ctx context.Context, now time.Time, limit int) ([]EligiblePayout, error) {
	var schedules []models.PayoutSchedule
	err := r.DB(ctx).
		Where("payout_status = ? AND eligible_for_payout_at <= ?", enums.PayoutStatusPending, now).
		Order("eligible_for_payout_at ASC").
		Limit(limit).
		Find(&schedules).Error
	if err != nil {
		return nil, err
	}

	eligible := make([]EligiblePayout, 0, len(schedules))
	for _, schedule := range schedules {
		var hold models.EscrowHold
		if err := r.DB(ctx).First(&hold, "id = ?", schedule.EscrowHoldID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		var order models.ProductionOrder
		if err := r.DB(ctx).First(&order, "id = ?", schedule.OrderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		eligible = append(eligible, EligiblePayout{Schedule: schedule, Escrow: hold, Order: order})
	}
	return eligible, nil
}

func (r *repository) HasActiveDispute(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&models.Dispute{}).
		Where("order_id = ? AND status IN ?", orderID,
			[]enums.DisputeStatus{enums.DisputeStatusOpen, enums.DisputeStatusUnderReview}).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) ReleaseEscrow(ctx context.Context, holdID uuid.UUID) (int64, error) {
	res := r.DB(ctx).Model(&models.EscrowHold{}).
		Where("id = ? AND status = ?", holdID, enums.EscrowStatusHeld).
		Update("status", enums.EscrowStatusReleased)
	return res.RowsAffected, res.Error
}

func (r *repository) CompleteSchedule(ctx context.Context, scheduleID uuid.UUID, completedAt time.Time) (int64, error) {
	res := r.DB(ctx).Model(&models.PayoutSchedule{}).
		Where("id = ? AND payout_status = ?", scheduleID, enums.PayoutStatusPending).
		Updates(map[string]any{
			"payout_status": enums.PayoutStatusCompleted,
			"completed_at":  completedAt,
		})
	return res.RowsAffected, res.Error
}

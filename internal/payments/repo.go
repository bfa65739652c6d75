package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/craftlinehq/craftline-backend/internal/repo"
	"github.com/craftlinehq/craftline-backend/pkg/db/models"
	"github.com/craftlinehq/craftline-backend/pkg/enums"
)

// Repository is the persistence surface the escrow manager depends on.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.ProductionOrder, error)
	FindHeldEscrow(ctx context.Context, orderID uuid.UUID) (*models.EscrowHold, error)
	CreateEscrowHold(ctx context.Context, hold *models.EscrowHold) error
	UpdateEscrowStatus(ctx context.Context, holdID uuid.UUID, from, to enums.EscrowStatus) (int64, error)
	UpdateEscrowAmount(ctx context.Context, holdID uuid.UUID, amountCents int) (int64, error)
	UpdateOrderPayment(ctx context.Context, orderID uuid.UUID, current enums.OrderStatus, updates map[string]any) (int64, error)
	MarkOrderCaptured(ctx context.Context, orderID uuid.UUID, capturedAt time.Time) (int64, error)
	CreatePayoutSchedule(ctx context.Context, schedule *models.PayoutSchedule) error
	FindOrdersWithExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.ProductionOrder, error)
	MarkReauthRequired(ctx context.Context, orderID uuid.UUID, at time.Time) (int64, error)
	FindOrderByIntent(ctx context.Context, intentID string) (*models.ProductionOrder, error)
	FindEscrowByIntent(ctx context.Context, intentID string) (*models.EscrowHold, error)
}

type repository struct {
	repo.Base
}

// NewRepository constructs the GORM-backed payments repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.ProductionOrder, error) {
	var order models.ProductionOrder
	if err := r.DB(ctx).First(&order, "id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindHeldEscrow(ctx context.Context, orderID uuid.UUID) (*models.EscrowHold, error) {
	var hold models.EscrowHold
	err := r.DB(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.EscrowStatusHeld).
		First(&hold).Error
	if err != nil {
		return nil, err
	}
	return &hold, nil
}

func (r *repository) CreateEscrowHold(ctx context.Context, hold *models.EscrowHold) error {
	return r.DB(ctx).Create(hold).Error
}

func (r *repository) UpdateEscrowStatus(ctx context.Context, holdID uuid.UUID, from, to enums.EscrowStatus) (int64, error) {
	res := r.DB(ctx).Model(&models.EscrowHold{}).
		Where("id = ? AND status = ?", holdID, from).
		Update("status", to)
	return res.RowsAffected, res.Error
}

func (r *repository) UpdateEscrowAmount(ctx context.Context, holdID uuid.UUID, amountCents int) (int64, error) {
	res := r.DB(ctx).Model(&models.EscrowHold{}).
		Where("id = ? AND status = ?", holdID, enums.EscrowStatusHeld).
		Update("amount_cents", amountCents)
	return res.RowsAffected, res.Error
}

func (r *repository) UpdateOrderPayment(ctx context.Context, orderID uuid.UUID, current enums.OrderStatus, updates map[string]any) (int64, error) {
	res := r.DB(ctx).Model(&models.ProductionOrder{}).
		Where("id = ? AND status = ?", orderID, current).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) MarkOrderCaptured(ctx context.Context, orderID uuid.UUID, capturedAt time.Time) (int64, error) {
	res := r.DB(ctx).Model(&models.ProductionOrder{}).
		Where("id = ? AND payment_captured_at IS NULL", orderID).
		Update("payment_captured_at", capturedAt)
	return res.RowsAffected, res.Error
}

func (r *repository) CreatePayoutSchedule(ctx context.Context, schedule *models.PayoutSchedule) error {
	return r.DB(ctx).Create(schedule).Error
}

func (r *repository) FindOrdersWithExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.ProductionOrder, error) {
	var orders []models.ProductionOrder
	err := r.DB(ctx).
		Where("payment_captured_at IS NULL").
		Where("reauth_required_at IS NULL").
		Where("authorization_expires_at IS NOT NULL AND authorization_expires_at <= ?", now).
		Where("status IN ?", []enums.OrderStatus{
			enums.OrderStatusProcurementStarted,
			enums.OrderStatusPriceProposed,
			enums.OrderStatusPriceApproved,
		}).
		Order("authorization_expires_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *repository) MarkReauthRequired(ctx context.Context, orderID uuid.UUID, at time.Time) (int64, error) {
	res := r.DB(ctx).Model(&models.ProductionOrder{}).
		Where("id = ? AND reauth_required_at IS NULL AND payment_captured_at IS NULL", orderID).
		Update("reauth_required_at", at)
	return res.RowsAffected, res.Error
}

func (r *repository) FindOrderByIntent(ctx context.Context, intentID string) (*models.ProductionOrder, error) {
	var order models.ProductionOrder
	if err := r.DB(ctx).First(&order, "processor_intent_id = ?", intentID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindEscrowByIntent(ctx context.Context, intentID string) (*models.EscrowHold, error) {
	var hold models.EscrowHold
	err := r.DB(ctx).
		Where("processor_intent_id = ?", intentID).
		Order("created_at DESC").
		First(&hold).Error
	if err != nil {
		return nil, err
	}
	return &hold, nil
}

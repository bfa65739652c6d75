package pricing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/craftlinehq/craftline-backend/internal/repo"
	"github.com/craftlinehq/craftline-backend/pkg/db/models"
	"github.com/craftlinehq/craftline-backend/pkg/enums"
)

// Repository is the persistence surface for price negotiation.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.ProductionOrder, error)
	FindPendingAdjustment(ctx context.Context, orderID uuid.UUID) (*models.PriceAdjustment, error)
	CreateAdjustment(ctx context.Context, adjustment *models.PriceAdjustment) error
	ResolveAdjustment(ctx context.Context, adjustmentID uuid.UUID, to enums.AdjustmentStatus, resolvedAt time.Time, updates map[string]any) (int64, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (int64, error)
}

type repository struct {
	repo.Base
}

// NewRepository constructs the GORM-backed pricing repository.
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

func (r *repository) FindPendingAdjustment(ctx context.Context, orderID uuid.UUID) (*models.PriceAdjustment, error) {
	var adjustment models.PriceAdjustment
	err := r.DB(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.AdjustmentStatusPending).
		First(&adjustment).Error
	if err != nil {
		return nil, err
	}
	return &adjustment, nil
}

func (r *repository) CreateAdjustment(ctx context.Context, adjustment *models.PriceAdjustment) error {
	return r.DB(ctx).Create(adjustment).Error
}

func (r *repository) ResolveAdjustment(ctx context.Context, adjustmentID uuid.UUID, to enums.AdjustmentStatus, resolvedAt time.Time, updates map[string]any) (int64, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to
	updates["resolved_at"] = resolvedAt
	res := r.DB(ctx).Model(&models.PriceAdjustment{}).
		Where("id = ? AND status = ?", adjustmentID, enums.AdjustmentStatusPending).
		Updates(updates)
	return res.RowsAffected, res.Error
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

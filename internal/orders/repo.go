package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/craftlinehq/craftline-backend/internal/repo"
	"github.com/craftlinehq/craftline-backend/pkg/db/models"
	"github.com/craftlinehq/craftline-backend/pkg/enums"
)

// Repository is the persistence surface for order lifecycle transitions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.ProductionOrder) error
	Find(ctx context.Context, orderID uuid.UUID) (*models.ProductionOrder, error)
	ListForParty(ctx context.Context, partyID uuid.UUID, limit int) ([]models.ProductionOrder, error)
	ListRecent(ctx context.Context, limit int) ([]models.ProductionOrder, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (int64, error)
	FindConsultation(ctx context.Context, orderID uuid.UUID) (*models.Consultation, error)
	HasPendingAdjustment(ctx context.Context, orderID uuid.UUID) (bool, error)
	FindHeldEscrow(ctx context.Context, orderID uuid.UUID) (*models.EscrowHold, error)
	UpdateEscrowStatus(ctx context.Context, holdID uuid.UUID, from, to enums.EscrowStatus) (int64, error)
}

type repository struct {
	repo.Base
}

// NewRepository constructs the GORM-backed orders repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, order *models.ProductionOrder) error {
	return r.DB(ctx).Create(order).Error
}

func (r *repository) Find(ctx context.Context, orderID uuid.UUID) (*models.ProductionOrder, error) {
	var order models.ProductionOrder
	if err := r.DB(ctx).First(&order, "id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListForParty(ctx context.Context, partyID uuid.UUID, limit int) ([]models.ProductionOrder, error) {
	var orders []models.ProductionOrder
	err := r.DB(ctx).
		Where("customer_id = ? OR provider_id = ?", partyID, partyID).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *repository) ListRecent(ctx context.Context, limit int) ([]models.ProductionOrder, error) {
	var orders []models.ProductionOrder
	err := r.DB(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *repository) UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (int64, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to
	res := r.DB(ctx).Model(&models.ProductionOrder{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) FindConsultation(ctx context.Context, orderID uuid.UUID) (*models.Consultation, error) {
	var consultation models.Consultation
	err := r.DB(ctx).First(&consultation, "order_id = ?", orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &consultation, nil
}

func (r *repository) HasPendingAdjustment(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&models.PriceAdjustment{}).
		Where("order_id = ? AND status = ?", orderID, enums.AdjustmentStatusPending).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) FindHeldEscrow(ctx context.Context, orderID uuid.UUID) (*models.EscrowHold, error) {
	var hold models.EscrowHold
	err := r.DB(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.EscrowStatusHeld).
		First(&hold).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &hold, nil
}

func (r *repository) UpdateEscrowStatus(ctx context.Context, holdID uuid.UUID, from, to enums.EscrowStatus) (int64, error) {
	res := r.DB(ctx).Model(&models.EscrowHold{}).
		Where("id = ? AND status = ?", holdID, from).
		Update("status", to)
	return res.RowsAffected, res.Error
}

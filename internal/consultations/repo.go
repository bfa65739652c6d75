package consultations

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

// OverdueConsultation pairs a lapsed consultation with its parent order.
type OverdueConsultation struct {
	Consultation models.Consultation
	Order        models.ProductionOrder
}

// Repository is the persistence surface for the consultation gate.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, consultation *models.Consultation) error
	FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.Consultation, error)
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.ProductionOrder, error)
	UpdateStatus(ctx context.Context, consultationID uuid.UUID, from, to enums.ConsultationStatus, updates map[string]any) (int64, error)
	FindOverduePending(ctx context.Context, now time.Time, limit int) ([]OverdueConsultation, error)
}

type repository struct {
	repo.Base
}

// NewRepository constructs the GORM-backed consultations repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, consultation *models.Consultation) error {
	return r.DB(ctx).Create(consultation).Error
}

func (r *repository) FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.Consultation, error) {
	var consultation models.Consultation
	if err := r.DB(ctx).First(&consultation, "order_id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &consultation, nil
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.ProductionOrder, error) {
	var order models.ProductionOrder
	if err := r.DB(ctx).First(&order, "id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) UpdateStatus(ctx context.Context, consultationID uuid.UUID, from, to enums.ConsultationStatus, updates map[string]any) (int64, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to
	res := r.DB(ctx).Model(&models.Consultation{}).
		Where("id = ? AND status = ?", consultationID, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) FindOverduePending(ctx context.Context, now time.Time, limit int) ([]OverdueConsultation, error) {
	var rows []models.Consultation
	err := r.DB(ctx).
		Where("status = ? AND timeout_at <= ?", enums.ConsultationStatusPending, now).
		Order("timeout_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	overdue := make([]OverdueConsultation, 0, len(rows))
	for _, consultation := range rows {
		var order models.ProductionOrder
		if err := r.DB(ctx).First(&order, "id = ?", consultation.OrderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		overdue = append(overdue, OverdueConsultation{Consultation: consultation, Order: order})
	}
	return overdue, nil
}

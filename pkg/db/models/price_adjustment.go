package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/craftlinehq/craftline-backend/pkg/enums"
)

// PriceAdjustment is one provider price-change proposal. At most one may be
// pending per order, enforced by a partial unique index.
type PriceAdjustment struct {
	ID                 uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID            uuid.UUID              `gorm:"column:order_id;type:uuid;not null"`
	OldPriceCents      int                    `gorm:"column:old_price_cents;not null"`
	NewPriceCents      int                    `gorm:"column:new_price_cents;not null"`
	Reason             string                 `gorm:"column:reason;type:text;not null"`
	Status             enums.AdjustmentStatus `gorm:"column:status;type:adjustment_status;not null;default:'pending'"`
	DifferenceCaptured bool                   `gorm:"column:difference_captured;not null;default:false"`
	PaymentIntentID    *string                `gorm:"column:payment_intent_id;type:text"`
	ResolvedAt         *time.Time             `gorm:"column:resolved_at"`
	CreatedAt          time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/craftlinehq/craftline-backend/pkg/enums"
)

// Consultation is the optional pre-production hand-shake for an order. One per order.
type Consultation struct {
	ID          uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID                `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	Status      enums.ConsultationStatus `gorm:"column:status;type:consultation_status;not null;default:'pending'"`
	RequestedBy uuid.UUID                `gorm:"column:requested_by;type:uuid;not null"`
	Mandatory   bool                     `gorm:"column:mandatory;not null;default:false"`
	StartedAt   *time.Time               `gorm:"column:started_at"`
	CompletedAt *time.Time               `gorm:"column:completed_at"`
	WaivedAt    *time.Time               `gorm:"column:waived_at"`
	TimeoutAt   time.Time                `gorm:"column:timeout_at;not null"`
	CreatedAt   time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

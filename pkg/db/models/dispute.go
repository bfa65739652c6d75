package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/craftlinehq/craftline-backend/pkg/enums"
)

// Dispute is a contested order. At most one open/under_review dispute per order.
type Dispute struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	FiledBy           uuid.UUID             `gorm:"column:filed_by;type:uuid;not null"`
	FiledAgainst      uuid.UUID             `gorm:"column:filed_against;type:uuid;not null"`
	Kind              enums.DisputeKind     `gorm:"column:kind;type:dispute_kind;not null"`
	Reason            string                `gorm:"column:reason;type:text;not null"`
	Status            enums.DisputeStatus   `gorm:"column:status;type:dispute_status;not null;default:'open'"`
	Priority          enums.DisputePriority `gorm:"column:priority;type:dispute_priority;not null"`
	ResponseDeadline  time.Time             `gorm:"column:response_deadline;not null"`
	ResolutionType    *enums.ResolutionType `gorm:"column:resolution_type;type:resolution_type"`
	RefundAmountCents *int                  `gorm:"column:refund_amount_cents"`
	ResolvedBy        *uuid.UUID            `gorm:"column:resolved_by;type:uuid"`
	ResolvedAt        *time.Time            `gorm:"column:resolved_at"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

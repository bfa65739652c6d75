package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/craftlinehq/craftline-backend/pkg/enums"
)

// PayoutSchedule defers release of captured escrow to the provider.
type PayoutSchedule struct {
	ID                  uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID             uuid.UUID          `gorm:"column:order_id;type:uuid;not null"`
	EscrowHoldID        uuid.UUID          `gorm:"column:escrow_hold_id;type:uuid;not null"`
	ProviderID          uuid.UUID          `gorm:"column:provider_id;type:uuid;not null"`
	AmountCents         int                `gorm:"column:amount_cents;not null"`
	ScheduledPayoutDate time.Time          `gorm:"column:scheduled_payout_date;not null"`
	EligibleForPayoutAt time.Time          `gorm:"column:eligible_for_payout_at;not null"`
	PayoutStatus        enums.PayoutStatus `gorm:"column:payout_status;type:payout_status;not null;default:'pending'"`
	CompletedAt         *time.Time         `gorm:"column:completed_at"`
	CreatedAt           time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

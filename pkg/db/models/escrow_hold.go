package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/craftlinehq/craftline-backend/pkg/enums"
)

// EscrowHold is the money held against an order. Exactly one non-terminal
// hold may exist per order.
type EscrowHold struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID          `gorm:"column:order_id;type:uuid;not null"`
	AmountCents       int                `gorm:"column:amount_cents;not null"`
	Status            enums.EscrowStatus `gorm:"column:status;type:escrow_status;not null;default:'held'"`
	ProcessorIntentID string             `gorm:"column:processor_intent_id;type:text;not null"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

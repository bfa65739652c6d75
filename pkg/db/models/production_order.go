package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/craftlinehq/craftline-backend/pkg/enums"
)

// ProductionOrder represents one custom-service transaction from inquiry to payout.
type ProductionOrder struct {
	ID                       uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID               uuid.UUID         `gorm:"column:customer_id;type:uuid;not null"`
	ProviderID               uuid.UUID         `gorm:"column:provider_id;type:uuid;not null"`
	ProviderPayoutAccountID  *string           `gorm:"column:provider_payout_account_id;type:text"`
	Status                   enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'inquiry'"`
	AuthorizationAmountCents int               `gorm:"column:authorization_amount_cents;not null;default:0"`
	FinalPriceCents          int               `gorm:"column:final_price_cents;not null;default:0"`
	ProposedPriceCents       *int              `gorm:"column:proposed_price_cents"`
	ShippingCostCents        int               `gorm:"column:shipping_cost_cents;not null;default:0"`
	ProcessorIntentID        *string           `gorm:"column:processor_intent_id;type:text"`
	AuthorizationExpiresAt   *time.Time        `gorm:"column:authorization_expires_at"`
	PaymentCapturedAt        *time.Time        `gorm:"column:payment_captured_at"`
	PriceChangeReason        *string           `gorm:"column:price_change_reason;type:text"`
	ReauthRequiredAt         *time.Time        `gorm:"column:reauth_required_at"`
	ConsultationMandatory    bool              `gorm:"column:consultation_mandatory;not null;default:false"`
	CancelledAt              *time.Time        `gorm:"column:cancelled_at"`
	CompletedAt              *time.Time        `gorm:"column:completed_at"`
	Consultation             *Consultation     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	EscrowHolds              []EscrowHold      `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt                time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// IntentID returns the processor intent id or "" when no hold exists.
func (o *ProductionOrder) IntentID() string {
	if o == nil || o.ProcessorIntentID == nil {
		return ""
	}
	return *o.ProcessorIntentID
}

// Captured reports whether the order's payment has been captured.
func (o *ProductionOrder) Captured() bool {
	return o != nil && o.PaymentCapturedAt != nil
}

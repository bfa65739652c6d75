package enums

// PayoutStatus tracks a deferred release to the provider.
type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusCompleted PayoutStatus = "completed"
	// PayoutStatusCancelled marks a payout voided by a full refund.
	PayoutStatusCancelled PayoutStatus = "cancelled"
)

// IsValid reports whether the value is a known PayoutStatus.
func (s PayoutStatus) IsValid() bool {
	switch s {
	case PayoutStatusPending, PayoutStatusCompleted, PayoutStatusCancelled:
		return true
	}
	return false
}

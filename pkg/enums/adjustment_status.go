package enums

// AdjustmentStatus tracks a provider price-change proposal.
type AdjustmentStatus string

const (
	AdjustmentStatusPending  AdjustmentStatus = "pending"
	AdjustmentStatusApproved AdjustmentStatus = "approved"
	AdjustmentStatusDeclined AdjustmentStatus = "declined"
)

// IsValid reports whether the value is a known AdjustmentStatus.
func (s AdjustmentStatus) IsValid() bool {
	switch s {
	case AdjustmentStatusPending, AdjustmentStatusApproved, AdjustmentStatusDeclined:
		return true
	default:
		return false
	}
}

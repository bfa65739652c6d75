package enums

// EscrowStatus tracks the money held against an order.
type EscrowStatus string

const (
	EscrowStatusHeld     EscrowStatus = "held"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusRefunded EscrowStatus = "refunded"
	EscrowStatusDisputed EscrowStatus = "disputed"
)

// IsValid reports whether the value is a known EscrowStatus.
func (s EscrowStatus) IsValid() bool {
	switch s {
	case EscrowStatusHeld, EscrowStatusReleased, EscrowStatusRefunded, EscrowStatusDisputed:
		return true
	default:
		return false
	}
}

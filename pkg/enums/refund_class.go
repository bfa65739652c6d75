package enums

// RefundClass is the outcome of the refund policy engine.
type RefundClass string

const (
	RefundClassFull    RefundClass = "fully_refundable"
	RefundClassPartial RefundClass = "partially_refundable"
	RefundClassNone    RefundClass = "non_refundable"
)

// IsValid reports whether the value is a known RefundClass.
func (c RefundClass) IsValid() bool {
	switch c {
	case RefundClassFull, RefundClassPartial, RefundClassNone:
		return true
	default:
		return false
	}
}

package enums

// ResolutionType records how a dispute was settled.
type ResolutionType string

const (
	ResolutionTypeNoRefund      ResolutionType = "no_refund"
	ResolutionTypePartialRefund ResolutionType = "partial_refund"
	ResolutionTypeFullRefund    ResolutionType = "full_refund"
)

// IsValid reports whether the value is a known ResolutionType.
func (r ResolutionType) IsValid() bool {
	switch r {
	case ResolutionTypeNoRefund, ResolutionTypePartialRefund, ResolutionTypeFullRefund:
		return true
	default:
		return false
	}
}

package enums

import "fmt"

// DisputeKind classifies what a dispute is about.
type DisputeKind string

const (
	DisputeKindQuality     DisputeKind = "quality"
	DisputeKindNoShow      DisputeKind = "no_show"
	DisputeKindNonDelivery DisputeKind = "non_delivery"
	DisputeKindPayment     DisputeKind = "payment"
	DisputeKindOther       DisputeKind = "other"
)

var validDisputeKinds = []DisputeKind{
	DisputeKindQuality,
	DisputeKindNoShow,
	DisputeKindNonDelivery,
	DisputeKindPayment,
	DisputeKindOther,
}

// IsValid reports whether the value is a known DisputeKind.
func (k DisputeKind) IsValid() bool {
	for _, candidate := range validDisputeKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseDisputeKind converts raw input into a DisputeKind.
func ParseDisputeKind(value string) (DisputeKind, error) {
	for _, candidate := range validDisputeKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute kind %q", value)
}

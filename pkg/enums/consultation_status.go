package enums

// ConsultationStatus tracks the pre-production consultation gate.
type ConsultationStatus string

const (
	ConsultationStatusPending    ConsultationStatus = "pending"
	ConsultationStatusInProgress ConsultationStatus = "in_progress"
	ConsultationStatusCompleted  ConsultationStatus = "completed"
	ConsultationStatusWaived     ConsultationStatus = "waived"
	ConsultationStatusTimedOut   ConsultationStatus = "timed_out"
)

var validConsultationStatuses = []ConsultationStatus{
	ConsultationStatusPending,
	ConsultationStatusInProgress,
	ConsultationStatusCompleted,
	ConsultationStatusWaived,
	ConsultationStatusTimedOut,
}

// IsValid reports whether the value is a known ConsultationStatus.
func (s ConsultationStatus) IsValid() bool {
	for _, candidate := range validConsultationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsResolved reports whether the gate no longer blocks the parent order.
func (s ConsultationStatus) IsResolved() bool {
	switch s {
	case ConsultationStatusCompleted, ConsultationStatusWaived:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the consultation reached a final state.
func (s ConsultationStatus) IsTerminal() bool {
	switch s {
	case ConsultationStatusCompleted, ConsultationStatusWaived, ConsultationStatusTimedOut:
		return true
	default:
		return false
	}
}

package enums

// DisputePriority orders the adjudication queue.
type DisputePriority string

const (
	DisputePriorityStandard DisputePriority = "standard"
	DisputePriorityHigh     DisputePriority = "high"
	DisputePriorityUrgent   DisputePriority = "urgent"
)

// IsValid reports whether the value is a known DisputePriority.
func (p DisputePriority) IsValid() bool {
	switch p {
	case DisputePriorityStandard, DisputePriorityHigh, DisputePriorityUrgent:
		return true
	default:
		return false
	}
}

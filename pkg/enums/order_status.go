package enums

import "fmt"

// OrderStatus tracks the lifecycle of a production order.
type OrderStatus string

const (
	OrderStatusInquiry            OrderStatus = "inquiry"
	OrderStatusProcurementStarted OrderStatus = "procurement_started"
	OrderStatusPriceProposed      OrderStatus = "price_proposed"
	OrderStatusPriceApproved      OrderStatus = "price_approved"
	OrderStatusOrderReceived      OrderStatus = "order_received"
	OrderStatusConsultation       OrderStatus = "consultation"
	OrderStatusProofing           OrderStatus = "proofing"
	OrderStatusApproved           OrderStatus = "approved"
	OrderStatusInProduction       OrderStatus = "in_production"
	OrderStatusQualityCheck       OrderStatus = "quality_check"
	OrderStatusCompleted          OrderStatus = "completed"
	OrderStatusCancelled          OrderStatus = "cancelled"
	OrderStatusDisputed           OrderStatus = "disputed"
	OrderStatusRefunded           OrderStatus = "refunded"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusInquiry,
	OrderStatusProcurementStarted,
	OrderStatusPriceProposed,
	OrderStatusPriceApproved,
	OrderStatusOrderReceived,
	OrderStatusConsultation,
	OrderStatusProofing,
	OrderStatusApproved,
	OrderStatusInProduction,
	OrderStatusQualityCheck,
	OrderStatusCompleted,
	OrderStatusCancelled,
	OrderStatusDisputed,
	OrderStatusRefunded,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions may leave this status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}

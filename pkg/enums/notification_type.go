package enums

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypeOrderUpdate  NotificationType = "order_update"
	NotificationTypePayment      NotificationType = "payment"
	NotificationTypeConsultation NotificationType = "consultation"
	NotificationTypeDispute      NotificationType = "dispute"
	NotificationTypePayout       NotificationType = "payout"
)

// IsValid reports whether the value is a known NotificationType.
func (t NotificationType) IsValid() bool {
	switch t {
	case NotificationTypeOrderUpdate, NotificationTypePayment, NotificationTypeConsultation,
		NotificationTypeDispute, NotificationTypePayout:
		return true
	default:
		return false
	}
}

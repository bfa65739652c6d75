package notifications

import (
	"context"

	"github.com/google/uuid"

	"github.com/craftlinehq/craftline-backend/pkg/enums"
)

// Message is one user-facing notification waiting to be delivered.
type Message struct {
	UserID uuid.UUID
	Type   enums.NotificationType
	Title  string
	Body   string
	Data   map[string]any
}

// Dispatcher delivers notifications to users. Delivery is best effort; the
// order lifecycle never fails because a notification did not go out.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

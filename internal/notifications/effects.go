package notifications

import (
	"context"

	"github.com/craftlinehq/craftline-backend/pkg/logger"
)

// Effects accumulates notifications during a transaction so they are only
// delivered once the enclosing commit succeeds.
type Effects struct {
	pending []Message
}

// Add queues a message for delivery after commit.
func (e *Effects) Add(msg Message) {
	e.pending = append(e.pending, msg)
}

// Flush delivers every queued message. Failures are logged and swallowed so
// a flaky notification channel cannot fail completed work.
func (e *Effects) Flush(ctx context.Context, dispatcher Dispatcher, logg *logger.Logger) {
	if dispatcher == nil {
		return
	}
	for _, msg := range e.pending {
		if err := dispatcher.Send(ctx, msg); err != nil && logg != nil {
			logg.Error(ctx, "failed to deliver notification to user "+msg.UserID.String(), err)
		}
	}
	e.pending = nil
}

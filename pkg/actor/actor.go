package actor

import (
	"context"

	"github.com/google/uuid"

	"github.com/craftlinehq/craftline-backend/pkg/enums"
)

// Actor identifies who is driving an order transition. Identity arrives from
// the upstream gateway as trusted headers; this service does not authenticate.
type Actor struct {
	ID   uuid.UUID
	Role enums.ActorRole
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == enums.ActorRoleAdmin
}

type ctxKey struct{}

// WithContext stores the actor on the request context.
func WithContext(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext returns the actor attached to the context, if any.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok
}

package payments

import "context"

// IncrementOutcome reports how the processor answered an in-place raise.
type IncrementOutcome string

const (
	// IncrementOutcomeOK means the existing hold now covers the new amount.
	IncrementOutcomeOK IncrementOutcome = "ok"
	// IncrementOutcomeIncompatible means the hold cannot be raised in place
	// (amount too large, payment method does not support it) and the caller
	// must fall back to a fresh authorization.
	IncrementOutcomeIncompatible IncrementOutcome = "incompatible"
)

// ProcessorClient is the payment-processor surface the escrow lifecycle needs.
// Implementations must be safe for concurrent use.
type ProcessorClient interface {
	// CreateAuthorization places a manual-capture hold and returns the
	// processor's opaque intent id.
	CreateAuthorization(ctx context.Context, amountCents int, metadata map[string]string) (string, error)
	// IncrementAuthorization raises the hold to the new total amount.
	IncrementAuthorization(ctx context.Context, intentID string, amountCents int) (IncrementOutcome, error)
	// Capture converts the hold into a charge for the given amount.
	Capture(ctx context.Context, intentID string, amountCents int) error
	// CancelAuthorization voids an uncaptured hold.
	CancelAuthorization(ctx context.Context, intentID string) error
	// Refund returns captured funds and yields the processor refund id.
	Refund(ctx context.Context, intentID string, amountCents int) (string, error)
}

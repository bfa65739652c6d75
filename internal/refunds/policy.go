package refunds

import "github.com/craftlinehq/craftline-backend/pkg/enums"

// ClassFor maps an order status to its refund class. An uncaptured payment is
// always fully refundable regardless of stage; voiding the hold returns the
// entire authorization. Unknown statuses fall back to fully refundable so a
// policy gap never shortchanges the customer.
func ClassFor(status enums.OrderStatus, captured bool) enums.RefundClass {
	if !captured {
		return enums.RefundClassFull
	}
	switch status {
	case enums.OrderStatusInquiry,
		enums.OrderStatusProcurementStarted,
		enums.OrderStatusPriceProposed,
		enums.OrderStatusPriceApproved:
		return enums.RefundClassFull
	case enums.OrderStatusOrderReceived,
		enums.OrderStatusConsultation,
		enums.OrderStatusProofing:
		return enums.RefundClassPartial
	case enums.OrderStatusApproved,
		enums.OrderStatusInProduction,
		enums.OrderStatusQualityCheck,
		enums.OrderStatusCompleted:
		return enums.RefundClassNone
	default:
		return enums.RefundClassFull
	}
}

// Amount computes the refund in cents for the given class. Partial refunds
// withhold the shipping cost; the result never goes negative.
func Amount(finalPriceCents int, class enums.RefundClass, shippingCents int) int {
	switch class {
	case enums.RefundClassFull:
		return finalPriceCents
	case enums.RefundClassPartial:
		refund := finalPriceCents - shippingCents
		if refund < 0 {
			return 0
		}
		return refund
	default:
		return 0
	}
}

// CanCancel reports whether a customer cancellation is still honored. Before
// order_received everything is cancellable; after it, only while production
// has not truly started and payment has not been captured.
func CanCancel(status enums.OrderStatus, captured bool) bool {
	switch status {
	case enums.OrderStatusInquiry,
		enums.OrderStatusProcurementStarted,
		enums.OrderStatusPriceProposed,
		enums.OrderStatusPriceApproved:
		return true
	case enums.OrderStatusOrderReceived,
		enums.OrderStatusConsultation,
		enums.OrderStatusProofing:
		return !captured
	default:
		return false
	}
}

package models

var fulfillmentPath = []OrderStatus{
	StatusPending,
	StatusConfirmed,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

// Terminal reports whether no fulfillment transition may leave s.
// A delivered order can still be refunded.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRefunded
}

// Cancellable reports whether an order in status s may be cancelled.
func (s OrderStatus) Cancellable() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Refundable reports whether s is a post-payment state from which refunded is reachable.
func (s OrderStatus) Refundable() bool {
	switch s {
	case StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered:
		return true
	default:
		return false
	}
}

func pathIndex(s OrderStatus) int {
	for i, step := range fulfillmentPath {
		if step == s {
			return i
		}
	}
	return -1
}

// CanTransition reports whether an order may move from one status to another.
// Forward moves along the fulfillment path may skip intermediate steps.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return false
	}
	switch to {
	case StatusCancelled:
		return from.Cancellable()
	case StatusRefunded:
		return from.Refundable()
	}
	if from.Terminal() {
		return false
	}
	fromIdx, toIdx := pathIndex(from), pathIndex(to)
	if fromIdx < 0 || toIdx < 0 {
		return false
	}
	return toIdx > fromIdx
}

// FulfillmentFor returns the fulfillment status implied by an order status.
func FulfillmentFor(s OrderStatus, current FulfillmentStatus) FulfillmentStatus {
	switch s {
	case StatusShipped, StatusDelivered:
		return FulfillmentFulfilled
	case StatusPending, StatusConfirmed:
		return FulfillmentUnfulfilled
	default:
		return current
	}
}

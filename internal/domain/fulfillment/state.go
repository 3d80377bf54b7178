package fulfillment

// OrderState is the aggregate fulfillment outcome for an order, derived from
// its records on every read and never cached.
type OrderState string

const (
	OrderStateProcessing OrderState = "processing"
	OrderStateCompleted  OrderState = "completed"
	OrderStatePartial    OrderState = "partial"
	OrderStateFailed     OrderState = "failed"
)

// String returns the string representation
func (s OrderState) String() string {
	return string(s)
}

// DeriveOrderState computes the aggregate state of an order from its records:
// completed iff every record is purchased or delivered; failed iff every
// record is failed with its attempt budget exhausted; partial iff successes
// and failures coexist with no purchase still outstanding; processing
// otherwise (work pending or in flight).
func DeriveOrderState(records []*Record) OrderState {
	if len(records) == 0 {
		return OrderStateProcessing
	}

	var succeeded, failed, dead int
	for _, r := range records {
		switch {
		case r.Status == StatusPurchased || r.Status == StatusDelivering || r.Status == StatusDelivered:
			succeeded++
		case r.Status == StatusFailed:
			failed++
			if r.IsExhausted() {
				dead++
			}
		case r.Status == StatusCancelled:
			failed++
			dead++
		}
	}

	switch {
	case succeeded == len(records):
		return OrderStateCompleted
	case dead == len(records):
		return OrderStateFailed
	case succeeded > 0 && succeeded+failed == len(records):
		return OrderStatePartial
	default:
		return OrderStateProcessing
	}
}

// ReadyForDelivery reports whether every record has a completed purchase and
// at least one still awaits delivery
func ReadyForDelivery(records []*Record) bool {
	if len(records) == 0 {
		return false
	}
	pending := false
	for _, r := range records {
		switch r.Status {
		case StatusPurchased:
			pending = true
		case StatusDelivered, StatusDelivering:
			// already handled or in flight
		default:
			return false
		}
	}
	return pending
}

package supplier

import "errors"

var (
	// Transient errors: the purchase may succeed on a later attempt.
	ErrSupplierUnavailable = errors.New("supplier: temporarily unavailable")
	ErrRequestTimeout      = errors.New("supplier: request timed out")
	ErrRateLimited         = errors.New("supplier: rate limited")

	// Permanent errors: retrying cannot succeed without operator action.
	ErrInvalidProduct       = errors.New("supplier: invalid or unknown product")
	ErrProductDiscontinued  = errors.New("supplier: product discontinued")
	ErrInsufficientBalance  = errors.New("supplier: insufficient account balance")
	ErrOrderNotFound        = errors.New("supplier: order not found")
	ErrOrderNotCancellable  = errors.New("supplier: order can no longer be cancelled")
	ErrAuthenticationFailed = errors.New("supplier: authentication failed")
	ErrInvalidResponse      = errors.New("supplier: invalid response")
)

// transientErrors are the sentinels a retry may recover from
var transientErrors = []error{
	ErrSupplierUnavailable,
	ErrRequestTimeout,
	ErrRateLimited,
}

// IsTransient reports whether err is worth retrying with backoff. Anything
// not explicitly transient is treated as permanent so an unclassified
// failure cannot loop forever against the supplier.
func IsTransient(err error) bool {
	for _, t := range transientErrors {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

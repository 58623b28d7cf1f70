package domain

import "errors"

// Sentinel errors for the order engine. The HTTP layer maps these to status
// codes; the scheduler treats ErrPriceUnavailable as retryable and everything
// else as a reason to leave the order untouched for the next pass.
var (
	ErrInsufficientFunds    = errors.New("insufficient_funds")
	ErrInsufficientPosition = errors.New("insufficient_position")
	ErrSessionClosed        = errors.New("session_closed_for_order_type")
	ErrPriceUnavailable     = errors.New("price_unavailable") // transient, always retryable
	ErrConflict             = errors.New("concurrency_conflict")
	ErrOrderNotFound        = errors.New("order_not_found")
	ErrOrderNotCancellable  = errors.New("order_not_cancellable")
	ErrSessionEnded         = errors.New("challenge_session_ended")
)

// ValidationError carries a user-displayable reason for a rejected request.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Validation builds a ValidationError.
func Validation(reason string) error {
	return &ValidationError{Reason: reason}
}

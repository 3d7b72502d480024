package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// ContentionError reports a lost compare-and-swap on a record.
// It is the only failure a caller is expected to retry.
type ContentionError struct {
	Record string // Record key that changed underneath the operation
	Err    error
}

func (e *ContentionError) Error() string {
	return "contention on " + e.Record + ": " + e.Err.Error()
}

func (e *ContentionError) IsRetriable() bool {
	return true
}

func (e *ContentionError) Unwrap() error {
	return e.Err
}

// NewContentionError wraps ErrContention for the given record key.
func NewContentionError(record string) *ContentionError {
	return &ContentionError{Record: record, Err: ErrContention}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrFeeOutOfRange is returned when a fee exceeds MaxFeeBps.
	ErrFeeOutOfRange = errors.New("fee out of range")

	// ErrAuthenticityCheckFailed is returned when an item cannot be proven part of a collection.
	ErrAuthenticityCheckFailed = errors.New("authenticity check failed")

	// ErrUnauthorizedCustody is returned when a custody proof does not match the expected slot.
	ErrUnauthorizedCustody = errors.New("unauthorized custody access")

	// ErrUnauthorized is returned when the signer is not the record's authority.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnlistMoreThanOwned is returned when unlisting more than the order quantity.
	ErrUnlistMoreThanOwned = errors.New("trying to unlist more than owned")

	// ErrPriceAboveMax is returned when a swept order is priced above the buyer's cap.
	ErrPriceAboveMax = errors.New("sell order price above max price")

	// ErrInsufficientLiquidity is returned when a batch cannot cover the ask quantity.
	ErrInsufficientLiquidity = errors.New("could not buy the required quantity of items")

	// ErrDestinationMismatch is returned when a fill's destination is not the order's payout destination.
	ErrDestinationMismatch = errors.New("payout destination mismatch")

	// ErrCreatorPayoutMismatch is returned when a creator destination is not the derived payout account.
	ErrCreatorPayoutMismatch = errors.New("creator payout destination mismatch")

	// ErrArithmeticOverflow is returned when checked arithmetic would wrap.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// ErrNotInitialized is returned when a referenced record does not exist.
	ErrNotInitialized = errors.New("record not initialized")

	// ErrAlreadyInitialized is returned when a derived record already exists.
	ErrAlreadyInitialized = errors.New("record already initialized")

	// ErrContention is returned when a record changed concurrently. Retriable.
	ErrContention = errors.New("concurrent modification")

	// ErrInsufficientFunds is returned by the transfer rail when a source balance is too low.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidQuantity is returned for zero list or ask quantities.
	ErrInvalidQuantity = errors.New("invalid quantity")
)

package repositories

import "fmt"

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// StockErrorCode enumerates failure reasons for stock-touching operations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorInsufficient indicates requested quantity exceeds on-hand stock.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorNotFound indicates the stock record for the key is missing.
	StockErrorNotFound StockErrorCode = "stock_not_found"
	// StockErrorNegative indicates an adjustment would drive the counter below zero.
	StockErrorNegative StockErrorCode = "stock_negative"
	// StockErrorAlreadyRestored indicates the order's stock was restored before.
	StockErrorAlreadyRestored StockErrorCode = "stock_already_restored"
	// StockErrorNotRestockable indicates the order status forbids restocking.
	StockErrorNotRestockable StockErrorCode = "stock_not_restockable"
)

// StockError wraps inventory-specific failures with machine readable codes
// and, for insufficiency, the offending line details.
type StockError struct {
	Op        string
	Code      StockErrorCode
	Message   string
	SKU       string
	Available int
	Requested int
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{Code: code, Message: message, Err: err}
}

// CheckoutErrorCode enumerates failure reasons inside the commit transaction.
type CheckoutErrorCode string

const (
	// CheckoutErrorUnknown represents an unspecified failure.
	CheckoutErrorUnknown CheckoutErrorCode = "checkout_unknown"
	// CheckoutErrorCartChanged indicates a selected cart line vanished before commit.
	CheckoutErrorCartChanged CheckoutErrorCode = "checkout_cart_changed"
	// CheckoutErrorCouponExhausted indicates the coupon usage limit was reached concurrently.
	CheckoutErrorCouponExhausted CheckoutErrorCode = "checkout_coupon_exhausted"
	// CheckoutErrorDuplicateOrder indicates the order id already exists.
	CheckoutErrorDuplicateOrder CheckoutErrorCode = "checkout_duplicate_order"
)

// CheckoutError wraps commit-coordinator failures with machine readable codes.
type CheckoutError struct {
	Op      string
	Code    CheckoutErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CheckoutError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CheckoutError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCheckoutError constructs a typed checkout error.
func NewCheckoutError(code CheckoutErrorCode, message string, err error) *CheckoutError {
	if message == "" {
		message = string(code)
	}
	return &CheckoutError{Code: code, Message: message, Err: err}
}

// OrderErrorCode enumerates failure reasons for order persistence operations.
type OrderErrorCode string

const (
	// OrderErrorUnknown represents an unspecified failure.
	OrderErrorUnknown OrderErrorCode = "order_unknown"
	// OrderErrorNotFound indicates the order document is missing.
	OrderErrorNotFound OrderErrorCode = "order_not_found"
	// OrderErrorDuplicate indicates an insert collided with an existing id.
	OrderErrorDuplicate OrderErrorCode = "order_duplicate"
	// OrderErrorStatusConflict indicates the stored status no longer matches
	// the status the caller based its mutation on.
	OrderErrorStatusConflict OrderErrorCode = "order_status_conflict"
)

// OrderError wraps order-persistence failures with machine readable codes.
type OrderError struct {
	Op      string
	Code    OrderErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *OrderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *OrderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound satisfies RepositoryError for missing orders.
func (e *OrderError) IsNotFound() bool {
	return e != nil && e.Code == OrderErrorNotFound
}

// IsConflict satisfies RepositoryError for duplicate ids and status races.
func (e *OrderError) IsConflict() bool {
	return e != nil && (e.Code == OrderErrorDuplicate || e.Code == OrderErrorStatusConflict)
}

// IsUnavailable satisfies RepositoryError; order errors are never transient.
func (e *OrderError) IsUnavailable() bool { return false }

// NewOrderError constructs a typed order error.
func NewOrderError(code OrderErrorCode, message string, err error) *OrderError {
	if message == "" {
		message = string(code)
	}
	return &OrderError{Code: code, Message: message, Err: err}
}

// CounterErrorCode enumerates failure reasons for counter operations.
type CounterErrorCode string

const (
	// CounterErrorUnknown represents an unspecified failure.
	CounterErrorUnknown CounterErrorCode = "counter_unknown"
	// CounterErrorInvalidInput indicates the caller supplied invalid arguments.
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorExhausted indicates the counter reached a configured max value.
	CounterErrorExhausted CounterErrorCode = "counter_exhausted"
)

// CounterError wraps counter-specific failures with machine readable codes.
type CounterError struct {
	Op      string
	Code    CounterErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCounterError constructs a typed counter error.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{Code: code, Message: message, Err: err}
}

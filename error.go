package dynatx

import (
	"errors"
	"fmt"
)

// ErrorCode enumerates dynatx error categories used across packages, ordered (roughly) by
// locality.
type ErrorCode int

const (
	// Unknown represents an unspecified error condition.
	Unknown ErrorCode = iota
	// KeyConfigurationErrorCode: caller did not supply a range value for a table whose schema has one.
	KeyConfigurationErrorCode
	// BadTxTableAttributesCode: the tx-info/tx-data table's AttributeDefinitions don't match what dynatx expects.
	BadTxTableAttributesCode
	// BadTxTableKeySchemaCode: the tx-info/tx-data table's KeySchema doesn't match what dynatx expects.
	BadTxTableKeySchemaCode
	// BadLockTypeCode: caller asked for a lock level dynatx doesn't recognize.
	BadLockTypeCode
	// LockWaitTimeoutCode: wait_lock exceeded its max wait without acquiring the lock.
	LockWaitTimeoutCode
	// NotExistingItemCode: a read/update/delete targeted an item that does not exist.
	NotExistingItemCode
	// ConditionalCheckFailedCode: a conditional store operation's predicate did not hold.
	ConditionalCheckFailedCode
	// TransactionTerminatedCode: caller tried to mutate a transaction that already committed or rolled back.
	TransactionTerminatedCode
	// IndeterminateStateCode: a tx-info status transition write failed; the transaction's fate is unknown
	// to this process and is left for sweeper-driven rollback.
	IndeterminateStateCode
)

// Error is a dynatx-specific error carrying a code, the wrapped error and optional user data.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

// Error implements the error interface by formatting the code, user data, and wrapped error details.
func (e *Error) Error() string {
	return fmt.Errorf("dynatx error code: %d, user data: %v, details: %w", e.Code, e.UserData, e.Err).Error()
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// newError builds an *Error, wiring msg into Err via fmt.Errorf so sentinel comparisons via
// errors.Is still work against the sentinel values below.
func newError(code ErrorCode, sentinel error, userData any, msg string) *Error {
	if msg == "" {
		return &Error{Code: code, Err: sentinel, UserData: userData}
	}
	return &Error{Code: code, Err: fmt.Errorf("%s: %w", msg, sentinel), UserData: userData}
}

// Sentinel errors usable with errors.Is against a returned *Error (via Unwrap).
var (
	ErrKeyConfiguration   = errors.New("key configuration error")
	ErrBadTxTableAttrs    = errors.New("tx table attribute definitions mismatch")
	ErrBadTxTableKeySchema = errors.New("tx table key schema mismatch")
	ErrBadLockType        = errors.New("unrecognized lock type")
	ErrLockWaitTimeout    = errors.New("lock wait timed out")
	ErrNotExistingItem    = errors.New("item does not exist")
	ErrConditionalFailed  = errors.New("conditional check failed")
	ErrTransactionTerminated = errors.New("transaction already terminated")
	ErrIndeterminateState = errors.New("transaction left in indeterminate state")
)

// NewKeyConfigurationError reports that a RANGE key exists in the table's schema but the
// caller only supplied a hash value (or vice versa).
func NewKeyConfigurationError(table string, detail string) *Error {
	return newError(KeyConfigurationErrorCode, ErrKeyConfiguration, table, detail)
}

// NewBadTxTableAttributesError reports an AttributeDefinitions mismatch on an auxiliary table.
func NewBadTxTableAttributesError(table string) *Error {
	return newError(BadTxTableAttributesCode, ErrBadTxTableAttrs, table, "")
}

// NewBadTxTableKeySchemaError reports a KeySchema mismatch on an auxiliary table.
func NewBadTxTableKeySchemaError(table string) *Error {
	return newError(BadTxTableKeySchemaCode, ErrBadTxTableKeySchema, table, "")
}

// NewBadLockTypeError reports an unrecognized lock level.
func NewBadLockTypeError(level string) *Error {
	return newError(BadLockTypeCode, ErrBadLockType, level, "")
}

// NewLockWaitTimeoutError reports wait_lock's max_wait_time expiring.
func NewLockWaitTimeoutError(itemKey string, waited any) *Error {
	return newError(LockWaitTimeoutCode, ErrLockWaitTimeout, itemKey, fmt.Sprintf("waited %v", waited))
}

// NewNotExistingItemError reports that a read/update/delete targeted a missing item.
func NewNotExistingItemError(table string, key any) *Error {
	return newError(NotExistingItemCode, ErrNotExistingItem, key, table)
}

// NewConditionalCheckFailedError reports a conditional store operation predicate failure.
func NewConditionalCheckFailedError(detail string) *Error {
	return newError(ConditionalCheckFailedCode, ErrConditionalFailed, nil, detail)
}

// NewTransactionTerminatedError reports an attempt to mutate a finished transaction.
func NewTransactionTerminatedError(txUUID UUID) *Error {
	return newError(TransactionTerminatedCode, ErrTransactionTerminated, txUUID.String(), "")
}

// NewIndeterminateStateError reports a fatal tx-info status transition failure.
func NewIndeterminateStateError(txUUID UUID, err error) *Error {
	return &Error{Code: IndeterminateStateCode, Err: fmt.Errorf("%w: %v", ErrIndeterminateState, err), UserData: txUUID.String()}
}

// IsConditionalCheckFailed reports whether err (possibly wrapped) is a conditional-check failure.
func IsConditionalCheckFailed(err error) bool {
	return errors.Is(err, ErrConditionalFailed)
}

// IsNotExistingItem reports whether err (possibly wrapped) signals a missing item.
func IsNotExistingItem(err error) bool {
	return errors.Is(err, ErrNotExistingItem)
}

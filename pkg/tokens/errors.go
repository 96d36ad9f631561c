package tokens

import "errors"

var (
	// ErrInvalidAmount is returned for zero or negative token amounts
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientBalance is returned by storage when a deduction exceeds the balance
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrStorageUnavailable is returned when the balance backend cannot be reached
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrUnauthenticated is returned when no user identity is attached to a request
	ErrUnauthenticated = errors.New("user not authenticated")

	// ErrOperationFailed is returned when a balance mutation was not applied
	ErrOperationFailed = errors.New("operation failed")

	// ErrInsufficientTokens is returned by the gate when the estimate exceeds the cached balance
	ErrInsufficientTokens = errors.New("insufficient tokens")

	// ErrBalanceLoading is returned by the gate while the balance has never been loaded
	ErrBalanceLoading = errors.New("loading token balance")

	// ErrBalanceUnavailable is returned by the gate after the last balance refresh failed
	ErrBalanceUnavailable = errors.New("token balance unavailable")

	// ErrEmptyQuestion is returned when submitting a blank draft
	ErrEmptyQuestion = errors.New("empty question")

	// ErrBusy is returned when a question is already streaming or reconciling
	ErrBusy = errors.New("question already in flight")

	// ErrStreamFailed is returned when the answer stream breaks before completion
	ErrStreamFailed = errors.New("answer stream failed")

	// ErrStreamClosed is returned when reading from a closed answer stream
	ErrStreamClosed = errors.New("answer stream closed")

	// ErrUnknownEdge is returned for an unrecognised answer backend selector
	ErrUnknownEdge = errors.New("unknown edge target")
)

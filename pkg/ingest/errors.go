package ingest

import (
	"errors"
	"fmt"

	"github.com/0xmhha/event-collector/pkg/binding"
)

// Sentinel errors for the ingest package.
var (
	// Subscription lookup errors
	ErrNotFound = errors.New("subscription not found")
	ErrInactive = errors.New("subscription is inactive")

	// Resolution errors
	ErrChainNotFound = errors.New("chain not found")
	ErrABI           = binding.ErrABI
	ErrFilter        = binding.ErrFilter

	// Remote errors
	ErrRPC    = errors.New("rpc failure")
	ErrDecode = errors.New("failed to decode log")

	// Lifecycle errors
	ErrAlreadyRunning = errors.New("subscription is already running")
	ErrShuttingDown   = errors.New("controller is shutting down")
)

// SubscriptionError wraps a start failure with subscription context.
type SubscriptionError struct {
	SubscriptionID uint64
	Op             error
	Err            error
}

// NewSubscriptionError creates a new subscription error.
func NewSubscriptionError(id uint64, op error, err error) *SubscriptionError {
	return &SubscriptionError{
		SubscriptionID: id,
		Op:             op,
		Err:            err,
	}
}

// Error implements the error interface.
func (e *SubscriptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("subscription %d: %v: %v", e.SubscriptionID, e.Op, e.Err)
	}
	return fmt.Sprintf("subscription %d: %v", e.SubscriptionID, e.Op)
}

// Unwrap returns the underlying error.
func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// Is checks if the target error matches.
func (e *SubscriptionError) Is(target error) bool {
	return errors.Is(e.Op, target) || errors.Is(e.Err, target)
}

package lifecycle

import (
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/model"
)

var (
	ErrUnauthenticated           = errors.New("unauthenticated")
	ErrInvalidInput              = errors.New("invalid input")
	ErrPaymentVerificationFailed = errors.New("payment verification failed")
	ErrPaymentInProgress         = errors.New("payment already in progress for booking")

	ErrNotFound          = model.ErrNotFound
	ErrNotOwner          = model.ErrNotOwner
	ErrInvalidTransition = model.ErrInvalidTransition
)

// ValidationError names the offending field. It matches ErrInvalidInput.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StoreError wraps a persistence failure that is not a domain outcome.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// storeErr passes domain sentinels through and wraps everything else.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrNotOwner) || errors.Is(err, model.ErrInvalidTransition) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

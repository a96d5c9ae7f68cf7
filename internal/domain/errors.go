package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidQuery  = errors.New("invalid query")

	// ErrTransientRemote marks retryable failures from a store or a remote collaborator.
	ErrTransientRemote = errors.New("transient remote error")
	// ErrRetryExhausted is matched by every error returned after the backoff
	// executor ran out of attempts.
	ErrRetryExhausted = errors.New("retry exhausted")
	// ErrReconciliationPartial is matched by a reconcile pass that stopped
	// part way through the duplicate groups.
	ErrReconciliationPartial = errors.New("reconciliation partially failed")
)

// WrapTransient tags err as a transient remote failure.
func WrapTransient(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransientRemote) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransientRemote, err)
}

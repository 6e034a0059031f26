package kms

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// TransientError wraps a retryable KMS failure (spec.md §7 "transient":
// "KMS disable busy, EDID read returning empty blob, EAGAIN on socket
// I/O"). Callers inspect via errors.As and reschedule a timer rather than
// treating the failure as fatal.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("kms: %s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or something it wraps) is a
// *TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// classifyCommitError wraps known-retryable atomic-commit failures
// (EBUSY, EAGAIN — "driver busy", spec.md §4.1/§4.6) as a *TransientError;
// anything else is returned unchanged (fatal to the current frame).
func classifyCommitError(op string, err error) error {
	if err == nil {
		return nil
	}
	var errno unix.Errno
	if errors.As(err, &errno) && (errno == unix.EBUSY || errno == unix.EAGAIN) {
		return &TransientError{Op: op, Err: err}
	}
	return err
}

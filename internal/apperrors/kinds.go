package apperrors

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// TransientError marks a failure that may succeed on a fresh attempt:
// transport errors, unexpected status codes and expired sessions.
// It is the only kind the retry policy retries.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// LocalError is fatal for one account but lets a batch continue with the next.
type LocalError struct {
	Account string
	Err     error
}

func (e *LocalError) Error() string {
	if e.Account == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Account, e.Err)
}

func (e *LocalError) Unwrap() error { return e.Err }

// GlobalError aborts a whole multi-account batch.
type GlobalError struct {
	Err error
}

func (e *GlobalError) Error() string { return e.Err.Error() }

func (e *GlobalError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError for operation op.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// Local wraps err as a LocalError attributed to account.
func Local(account string, err error) error {
	if err == nil {
		return nil
	}
	return &LocalError{Account: account, Err: err}
}

// Global wraps err as a GlobalError.
func Global(err error) error {
	if err == nil {
		return nil
	}
	return &GlobalError{Err: err}
}

// StatusError builds the transient error returned for an unexpected HTTP status.
func StatusError(op string, code int, body []byte) error {
	const maxBody = 256
	if len(body) > maxBody {
		n := maxBody
		for n > 0 && !utf8.RuneStart(body[n]) {
			n--
		}
		body = body[:n]
	}
	return Transient(op, fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, code, body))
}

// IsTransient reports whether err carries a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsGlobal reports whether err carries a GlobalError.
func IsGlobal(err error) bool {
	var g *GlobalError
	return errors.As(err, &g)
}

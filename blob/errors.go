package blob

import (
	"errors"
	"fmt"
)

// ValidationError signals malformed input. It is always raised before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// EncodingError signals that content-derived metadata could not be computed for a payload.
// Retrying without changing the input will not help.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("failed to encode blob: %s", e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// SigningError signals that the signer rejected a transaction or that its execution failed.
type SigningError struct {
	// Step names the transaction that failed, e.g. "register" or "certify".
	Step string
	Err  error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("%s transaction failed: %s", e.Step, e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// RetrievalError is returned once every retrieval method has failed.
// Its message is derived from the last attempt only; Attempts holds the errors of all attempts in order.
type RetrievalError struct {
	Attempts []error
}

func (e *RetrievalError) Error() string {
	if len(e.Attempts) == 0 {
		return "failed to retrieve blob after trying all methods: no retrieval method configured"
	}
	return fmt.Sprintf("failed to retrieve blob after trying all methods: %s", e.Last())
}

// Last returns the error of the last attempted retrieval method.
func (e *RetrievalError) Last() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1]
}

func (e *RetrievalError) Unwrap() error {
	return e.Last()
}

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err, or any attempt of a RetrievalError it wraps, matches ErrBlobNotFound.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrBlobNotFound) {
		return true
	}
	var retrievalErr *RetrievalError
	if errors.As(err, &retrievalErr) {
		for _, attempt := range retrievalErr.Attempts {
			if errors.Is(attempt, ErrBlobNotFound) {
				return true
			}
		}
	}
	return false
}

package oplog

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes admission failures.
type ErrorCode string

const (
	// CodeInvalidSignature: a bundle or operation failed signature or
	// integrity verification. The whole bundle is rejected.
	CodeInvalidSignature ErrorCode = "INVALID_SIGNATURE"

	// CodeClockDriftExceeded: a remote HLC leads local time beyond the bound.
	CodeClockDriftExceeded ErrorCode = "CLOCK_DRIFT_EXCEEDED"

	// CodeEntityCollision: CreateEntity for an ID that already exists.
	CodeEntityCollision ErrorCode = "ENTITY_COLLISION"

	// CodeSchemaViolation: an operation is invalid for the schema, for
	// example SetField on a CRDT field.
	CodeSchemaViolation ErrorCode = "SCHEMA_VIOLATION"

	// CodeDuplicateOperation: the bundle or operation was already applied.
	// Ingest deduplicates silently; this code is only used for reporting.
	CodeDuplicateOperation ErrorCode = "DUPLICATE_OPERATION"

	// CodeSizeExceeded: a frame or bundle exceeds configured limits.
	CodeSizeExceeded ErrorCode = "SIZE_EXCEEDED"

	// CodeStorageFailure: the storage provider failed; nothing was applied.
	CodeStorageFailure ErrorCode = "STORAGE_FAILURE"

	// CodeUnknownActor: the identity provider does not admit the actor.
	CodeUnknownActor ErrorCode = "UNKNOWN_ACTOR"

	// CodeMalformed: a wire record could not be decoded.
	CodeMalformed ErrorCode = "MALFORMED_RECORD"
)

// Error carries a code plus the bundle and operation it concerns.
type Error struct {
	Code     ErrorCode
	Message  string
	BundleID BundleID
	OpID     OpID
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if !e.BundleID.IsZero() {
		msg += fmt.Sprintf(" (bundle=%s)", e.BundleID)
	}
	if e.OpID != (OpID{}) {
		msg += fmt.Sprintf(" (op=%s)", e.OpID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an Error around a cause.
func WrapError(code ErrorCode, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithBundle sets the bundle reference.
func (e *Error) WithBundle(id BundleID) *Error {
	e.BundleID = id
	return e
}

// WithOp sets the operation reference.
func (e *Error) WithOp(id OpID) *Error {
	e.OpID = id
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "".
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

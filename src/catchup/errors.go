package catchup

import (
	"errors"
	"fmt"

	"github.com/braidb/braid/src/store"
)

// errProtocolNotReArmed is raised when a handler returns without declaring
// which message kind it expects next. It is treated as a connection-level
// failure so the bug cannot silently desynchronise the peers.
var errProtocolNotReArmed = errors.New("handler did not re-arm protocol state")

// VersionMismatchError is returned when a peer presents a protocol version
// different from ours. It is not retryable on the same connection.
type VersionMismatchError struct {
	Local  uint8
	Remote uint8
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("protocol version mismatch: local %d, remote %d", e.Local, e.Remote)
}

// IsVersionMismatch checks that an error is a VersionMismatchError.
func IsVersionMismatch(err error) bool {
	_, ok := err.(*VersionMismatchError)
	return ok
}

// DecodeError indicates a malformed or truncated frame. The connection it
// occurred on is unusable afterwards and must be torn down.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: %s", e.Reason)
}

func decodeErrorf(format string, args ...interface{}) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// IsDecodeError checks that an error is a DecodeError.
func IsDecodeError(err error) bool {
	_, ok := err.(*DecodeError)
	return ok
}

// StoreIdMismatchError is returned when a store copy targets a store instance
// different from the expected one. Mismatched stores must never be merged.
type StoreIdMismatchError struct {
	Expected store.StoreId
	Actual   store.StoreId
}

func (e *StoreIdMismatchError) Error() string {
	return fmt.Sprintf("store id mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// IsStoreIdMismatch checks that an error is a StoreIdMismatchError.
func IsStoreIdMismatch(err error) bool {
	_, ok := err.(*StoreIdMismatchError)
	return ok
}

package cache

import "fmt"

// ErrorKind enumerates the fixed set of cache-level failure modes. Each
// kind carries a stable numeric code that downstream session code reuses
// as the QUIC stream/session close code, and a reason string used as the
// close reason.
type ErrorKind uint8

// Cache error kinds, per spec §4.B / §7.
const (
	KindNotFound ErrorKind = iota
	KindDuplicate
	KindClosed
	KindStop
)

// Error is a cache-level failure. It implements the CodedError contract
// (Code/Reason) consumed by the moq and session packages to build
// SUBSCRIBE_RESET messages and transport close codes.
type Error struct {
	Kind   ErrorKind
	code   uint64
	reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("cache: %s", e.reason)
}

// Code returns the stable numeric code for this error's kind.
func (e *Error) Code() uint64 { return e.code }

// Reason returns the human-readable reason string for this error's kind.
func (e *Error) Reason() string { return e.reason }

// Predefined cache errors, reused as sentinels across the package. Code
// values are deliberately small and stable since they double as QUIC
// close codes.
var (
	ErrNotFound  = &Error{Kind: KindNotFound, code: 0, reason: "not found"}
	ErrDuplicate = &Error{Kind: KindDuplicate, code: 1, reason: "duplicate"}
	ErrClosed    = &Error{Kind: KindClosed, code: 2, reason: "closed"}
	ErrStop      = &Error{Kind: KindStop, code: 3, reason: "stop"}
)

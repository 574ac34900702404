package session

import (
	"fmt"

	"github.com/arcspire/moqpub/cache"
	"github.com/arcspire/moqpub/wire"
)

// Kind enumerates every error kind spec.md §7 names. The first four
// mirror cache.Error's kinds (and keep their codes, since a cache error
// crossing into a SUBSCRIBE_RESET or transport close code must stay
// stable); the rest are specific to the session layer.
type Kind uint8

const (
	KindNotFound Kind = iota
	KindDuplicate
	KindClosed
	KindStop
	KindRoleViolation
	KindBoundsExceeded
	KindUnknown
)

// Error is a session-level CodedError (see moq.CodedError): every
// control-message dispatch failure and every cache failure observed
// while running a subscription is represented as one of these before it
// becomes a SUBSCRIBE_RESET or a transport close code.
type Error struct {
	Kind   Kind
	code   uint64
	reason string
}

func (e *Error) Error() string    { return fmt.Sprintf("session: %s", e.reason) }
func (e *Error) Code() uint64     { return e.code }
func (e *Error) Reason() string   { return e.reason }

// Fatal reports whether this error must terminate the whole control
// session rather than just being logged. Per spec.md §8's scenarios, a
// role violation and a duplicate subscription id are both fatal; every
// other dispatch-time failure (unknown track, unexpected announce
// message, ...) is handled inline (typically via a SUBSCRIBE_RESET) and
// only logged at the session level.
func (e *Error) Fatal() bool {
	return e.Kind == KindRoleViolation || e.Kind == KindDuplicate
}

// FromCache lifts a cache.Error into a session Error, preserving its
// code and reason exactly.
func FromCache(ce *cache.Error) *Error {
	var kind Kind
	switch ce.Kind {
	case cache.KindNotFound:
		kind = KindNotFound
	case cache.KindDuplicate:
		kind = KindDuplicate
	case cache.KindClosed:
		kind = KindClosed
	case cache.KindStop:
		kind = KindStop
	default:
		kind = KindUnknown
	}
	return &Error{Kind: kind, code: ce.Code(), reason: ce.Reason()}
}

// NewRoleViolation builds the fatal error raised when the peer sends a
// message, or opens a stream, not permitted for its negotiated role.
func NewRoleViolation(id wire.VarInt) *Error {
	return &Error{Kind: KindRoleViolation, code: 4, reason: fmt.Sprintf("role violation (id=%d)", id)}
}

// NewBoundsExceeded builds the error raised when a value (e.g. an NTP
// timestamp) doesn't fit in a VarInt.
func NewBoundsExceeded() *Error {
	return &Error{Kind: KindBoundsExceeded, code: 5, reason: "bounds exceeded"}
}

// NewUnknown wraps an arbitrary failure reason that doesn't fit any
// other kind (spec.md §7's Unknown(string)).
func NewUnknown(reason string) *Error {
	return &Error{Kind: KindUnknown, code: 6, reason: reason}
}

// NewDuplicate builds the fatal error raised when a Subscribe names an
// id already in use.
func NewDuplicate() *Error {
	return &Error{Kind: KindDuplicate, code: 1, reason: "duplicate subscription id"}
}

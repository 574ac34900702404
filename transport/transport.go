// Package transport defines the WebTransport/QUIC primitives the
// publisher session depends on (spec.md §1 treats these as an external
// collaborator: CLI/TLS setup, the transport session itself, and
// subscriber-role negotiation are all out of this core's scope). The
// interfaces here are intentionally narrow — open/accept a
// unidirectional stream, write, close the session with a code and
// reason — so tests can supply hand-written fakes instead of a real
// QUIC connection, matching the teacher's mockControlStream style in
// distribution/session_helpers_test.go.
package transport

import (
	"context"
	"io"
)

// SendStream is a unidirectional QUIC send stream: write-only. Neither
// quic-go nor webtransport-go exposes a stream-priority primitive, so
// segment priority travels in-band in the Object header's priority
// field instead (the teacher's own convention, see
// distribution/moq_catalog.go:117).
type SendStream interface {
	io.Writer
	io.Closer
}

// ReceiveStream is a unidirectional QUIC receive stream.
type ReceiveStream interface {
	io.Reader
}

// Session is the WebTransport session the publisher core runs over,
// already upgraded and already negotiated into the publisher role by an
// external collaborator. Only the primitives spec.md §1 names are
// exposed.
type Session interface {
	// OpenUniStream opens a new unidirectional stream for sending a
	// segment's or probe's objects.
	OpenUniStream(ctx context.Context) (SendStream, error)
	// AcceptUniStream blocks until the peer opens a unidirectional
	// stream. Per spec.md §4.E, a publisher never expects the peer (a
	// subscriber) to open one — receiving any such stream is a fatal
	// RoleViolation.
	AcceptUniStream(ctx context.Context) (ReceiveStream, error)
	// CloseWithError closes the whole session with a QUIC application
	// error code and reason string.
	CloseWithError(code uint64, reason string) error
}

// Control is the already-established bidirectional control stream
// carrying framed moq messages. Negotiating and opening it is this
// core's one external dependency per spec.md §1; the publisher session
// is handed an already-open Control, not a raw Session, for its control
// channel.
type Control interface {
	io.Reader
	io.Writer
}

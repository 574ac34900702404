package moq

import (
	"encoding/binary"

	"github.com/arcspire/moqpub/wire"
)

// Extensions records which optional Object header fields this session
// negotiated with its peer. spec.md's Design Notes defer this decision
// to "the external setup subsystem" rather than hard-coding field
// presence; in this repo the caller that sets up the session hands a
// negotiated Extensions value to session.New at construction time
// (cmd/moqpub passes DefaultExtensions).
type Extensions struct {
	NtpTimestamp bool
	Size         bool
}

// DefaultExtensions reports both optional fields present, matching every
// scenario spec.md §8 exercises.
func DefaultExtensions() Extensions {
	return Extensions{NtpTimestamp: true, Size: true}
}

// Object is the header written at the start of every unidirectional
// data stream (spec.md §4.E): it identifies the track/group/sequence the
// stream's bytes belong to, the segment's relative priority and expiry,
// and, when negotiated, an NTP capture timestamp and the stream's total
// byte size.
type Object struct {
	Track        wire.VarInt
	Group        wire.VarInt
	Priority     wire.VarInt
	Expires      wire.VarInt
	HasExpires   bool
	Sequence     wire.VarInt
	NtpTimestamp wire.VarInt
	Size         wire.VarInt
}

// Encode appends the wire encoding of the header to buf, including only
// the optional fields ext negotiates. Field order matches the grouping
// in spec.md §4.E: track, group, priority, expires, sequence, then the
// optional trailing fields. priority is a fixed 4-byte big-endian u32,
// not a VarInt; expires is a single VarInt, 0 meaning no expiry.
func (o Object) Encode(buf []byte, ext Extensions) []byte {
	buf = wire.Encode(buf, o.Track)
	buf = wire.Encode(buf, o.Group)
	buf = binary.BigEndian.AppendUint32(buf, uint32(o.Priority))

	expires := o.Expires
	if !o.HasExpires {
		expires = 0
	}
	buf = wire.Encode(buf, expires)

	buf = wire.Encode(buf, o.Sequence)

	if ext.NtpTimestamp {
		buf = wire.Encode(buf, o.NtpTimestamp)
	}
	if ext.Size {
		buf = wire.Encode(buf, o.Size)
	}
	return buf
}

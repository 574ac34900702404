// Package wire implements the QUIC-style variable-length integer used
// throughout the MoQ control and object wire formats: a 62-bit unsigned
// integer with a 2-bit length tag selecting a 1/2/4/8-byte big-endian
// encoding.
package wire

import (
	"errors"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// MaxVarInt is the largest value representable by a VarInt (2^62 - 1).
const MaxVarInt = uint64(1)<<62 - 1

// ErrBoundsExceeded is returned when a value does not fit in the VarInt
// range [0, 2^62).
var ErrBoundsExceeded = errors.New("wire: value exceeds varint bounds (2^62)")

// VarInt is an unsigned integer in [0, 2^62), as used for every
// sequence/group/id/length field on the wire.
type VarInt uint64

// NewVarInt validates v and returns it as a VarInt, or ErrBoundsExceeded.
func NewVarInt(v uint64) (VarInt, error) {
	if v > MaxVarInt {
		return 0, ErrBoundsExceeded
	}
	return VarInt(v), nil
}

// Encode appends the big-endian, 2-bit-tagged varint encoding of v to buf
// and returns the result. It panics only if v exceeds MaxVarInt; callers
// that accept untrusted values should use NewVarInt first.
func Encode(buf []byte, v VarInt) []byte {
	if uint64(v) > MaxVarInt {
		panic(ErrBoundsExceeded)
	}
	return quicvarint.Append(buf, uint64(v))
}

// EncodeValue is a convenience wrapper returning a fresh byte slice holding
// the encoding of v.
func EncodeValue(v uint64) ([]byte, error) {
	vi, err := NewVarInt(v)
	if err != nil {
		return nil, err
	}
	return Encode(nil, vi), nil
}

// Decode reads one varint from r, returning the decoded value and the
// number of bytes consumed. Decoding is total on any well-formed prefix:
// the first byte's top two bits determine the total length, and Decode
// reads exactly that many bytes before returning.
func Decode(r io.Reader) (VarInt, int, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReader{r: r}
	}

	first, err := br.ReadByte()
	if err != nil {
		return 0, 0, err
	}

	length := 1 << (first >> 6) // 1, 2, 4, or 8
	buf := make([]byte, length)
	buf[0] = first

	for i := 1; i < length; i++ {
		b, err := br.ReadByte()
		if err != nil {
			return 0, 0, io.ErrUnexpectedEOF
		}
		buf[i] = b
	}

	val, n, err := quicvarint.Parse(buf)
	if err != nil {
		return 0, 0, err
	}
	return VarInt(val), n, nil
}

// byteReader adapts an io.Reader without ByteReader to io.ByteReader by
// reading one byte at a time.
type byteReader struct {
	r io.Reader
}

func (b *byteReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// AppendBytes appends a varint-length-prefixed byte string to buf.
func AppendBytes(buf []byte, data []byte) []byte {
	buf = Encode(buf, VarInt(len(data)))
	return append(buf, data...)
}

// AppendString appends a varint-length-prefixed UTF-8 string to buf.
func AppendString(buf []byte, s string) []byte {
	return AppendBytes(buf, []byte(s))
}

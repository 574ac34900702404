// Package mp4box implements the small subset of ISO base media file
// format (fragmented MP4 / CMAF) box parsing the ingest pipeline needs:
// reading top-level atoms from a stdin stream, decoding moov/moof
// metadata, and encoding/decoding the prft box. It mirrors the vendored
// mp4 box fork moq-rs carries at third_party/mp4-rust rather than
// depending on an unmodified upstream box library (see DESIGN.md).
package mp4box

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrHeaderSize is returned when an atom's compact size field is in
// [2, 7]: not a valid compact size, and not the sentinel values 0 (to
// EOF) or 1 (use the following 64-bit extended size).
var ErrHeaderSize = errors.New("mp4box: invalid atom header size")

// HeaderLen is the length, in bytes, of a standard (non-extended) atom
// header: a 4-byte size followed by a 4-byte type.
const HeaderLen = 8

// ExtendedHeaderLen is the length, in bytes, of an atom header using the
// 64-bit extended size form.
const ExtendedHeaderLen = 16

// Header is a parsed atom header: its type, and the number of content
// bytes that follow the header (ContentLen == -1 means "read to EOF").
type Header struct {
	Type       string
	ContentLen int64
	// HeaderSize is how many bytes the header itself occupied (8 or 16).
	HeaderSize int
}

// ReadHeader reads one atom header from r. A compact size of 0 means the
// atom's content runs to EOF (ContentLen is reported as -1); a compact
// size of 1 means the real size is an 8-byte big-endian integer
// immediately following the type, which must be at least
// ExtendedHeaderLen (a size that small is fatal, since the box couldn't
// even contain its own extended header). Compact sizes 2 through 7 are
// never valid and are fatal.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	size := binary.BigEndian.Uint32(buf[0:4])
	typ := string(buf[4:8])

	switch size {
	case 0:
		return Header{Type: typ, ContentLen: -1, HeaderSize: HeaderLen}, nil
	case 1:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return Header{}, err
		}
		full := binary.BigEndian.Uint64(ext[:])
		if full < ExtendedHeaderLen {
			return Header{}, fmt.Errorf("mp4box: extended atom %q size %d too small: %w", typ, full, ErrHeaderSize)
		}
		return Header{Type: typ, ContentLen: int64(full) - ExtendedHeaderLen, HeaderSize: ExtendedHeaderLen}, nil
	case 2, 3, 4, 5, 6, 7:
		return Header{}, fmt.Errorf("mp4box: atom %q has reserved size %d: %w", typ, size, ErrHeaderSize)
	default:
		return Header{Type: typ, ContentLen: int64(size) - HeaderLen, HeaderSize: HeaderLen}, nil
	}
}

// ReadAtom reads one full atom (header + content) from r and returns its
// header and raw content bytes. If the header signals "to EOF"
// (ContentLen == -1), content is read until r is exhausted.
func ReadAtom(r io.Reader) (Header, []byte, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, nil, err
	}
	if h.ContentLen < 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return Header{}, nil, err
		}
		return h, data, nil
	}
	data := make([]byte, h.ContentLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return Header{}, nil, err
	}
	return h, data, nil
}

// ReadRawAtom reads one full atom from r like ReadAtom, but returns the
// complete encoded atom (header bytes included) instead of just its
// content. The ingest pipeline re-chunks moof/mdat atoms onto the cache
// verbatim, so it needs the bytes as they appeared on the wire, not a
// re-encoding of the parsed fields.
func ReadRawAtom(r io.Reader) (Header, []byte, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Header{}, nil, err
	}
	size := binary.BigEndian.Uint32(hdr[0:4])
	typ := string(hdr[4:8])
	raw := append([]byte(nil), hdr[:]...)

	switch size {
	case 0:
		rest, err := io.ReadAll(r)
		if err != nil {
			return Header{}, nil, err
		}
		raw = append(raw, rest...)
		return Header{Type: typ, ContentLen: -1, HeaderSize: HeaderLen}, raw, nil
	case 1:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return Header{}, nil, err
		}
		full := binary.BigEndian.Uint64(ext[:])
		if full < ExtendedHeaderLen {
			return Header{}, nil, fmt.Errorf("mp4box: extended atom %q size %d too small: %w", typ, full, ErrHeaderSize)
		}
		raw = append(raw, ext[:]...)
		content := make([]byte, full-ExtendedHeaderLen)
		if _, err := io.ReadFull(r, content); err != nil {
			return Header{}, nil, err
		}
		raw = append(raw, content...)
		return Header{Type: typ, ContentLen: int64(full) - ExtendedHeaderLen, HeaderSize: ExtendedHeaderLen}, raw, nil
	case 2, 3, 4, 5, 6, 7:
		return Header{}, nil, fmt.Errorf("mp4box: atom %q has reserved size %d: %w", typ, size, ErrHeaderSize)
	default:
		content := make([]byte, size-HeaderLen)
		if _, err := io.ReadFull(r, content); err != nil {
			return Header{}, nil, err
		}
		raw = append(raw, content...)
		return Header{Type: typ, ContentLen: int64(size) - HeaderLen, HeaderSize: HeaderLen}, raw, nil
	}
}

// RawChild is one immediate child box within a container box's content.
type RawChild struct {
	Type string
	Data []byte
}

// SplitChildren parses data as a flat sequence of child boxes, as found
// inside container boxes like moov/trak/mdia/minf/stbl/moof/traf. It does
// not recurse; callers decode nested containers explicitly.
func SplitChildren(data []byte) ([]RawChild, error) {
	var children []RawChild
	for len(data) > 0 {
		if len(data) < HeaderLen {
			return nil, fmt.Errorf("mp4box: truncated child box header (%d bytes left)", len(data))
		}
		size := binary.BigEndian.Uint32(data[0:4])
		typ := string(data[4:8])

		var headerLen int
		var contentLen int64
		switch size {
		case 0:
			headerLen = HeaderLen
			contentLen = int64(len(data) - HeaderLen)
		case 1:
			if len(data) < ExtendedHeaderLen {
				return nil, fmt.Errorf("mp4box: truncated extended child box header")
			}
			full := binary.BigEndian.Uint64(data[8:16])
			if full < ExtendedHeaderLen {
				return nil, fmt.Errorf("mp4box: child atom %q size %d too small: %w", typ, full, ErrHeaderSize)
			}
			headerLen = ExtendedHeaderLen
			contentLen = int64(full) - ExtendedHeaderLen
		case 2, 3, 4, 5, 6, 7:
			return nil, fmt.Errorf("mp4box: child atom %q has reserved size %d: %w", typ, size, ErrHeaderSize)
		default:
			headerLen = HeaderLen
			contentLen = int64(size) - HeaderLen
		}

		total := int64(headerLen) + contentLen
		if total < int64(headerLen) || total > int64(len(data)) {
			return nil, fmt.Errorf("mp4box: child atom %q size out of range", typ)
		}
		children = append(children, RawChild{Type: typ, Data: data[headerLen:total]})
		data = data[total:]
	}
	return children, nil
}

// find returns the content of the first child of the given type, if any.
func find(children []RawChild, typ string) ([]byte, bool) {
	for _, c := range children {
		if c.Type == typ {
			return c.Data, true
		}
	}
	return nil, false
}

// findAll returns the contents of every child of the given type.
func findAll(children []RawChild, typ string) [][]byte {
	var out [][]byte
	for _, c := range children {
		if c.Type == typ {
			out = append(out, c.Data)
		}
	}
	return out
}

package mp4box

import (
	"encoding/binary"
	"fmt"
)

// Prft is the "Producer Reference Time" box: it ties a track's media
// time to an NTP wall-clock timestamp at the moment of capture. Layout
// matches moq-rs's vendored mp4-rust fork exactly (version/flags full
// box header, then a 32-bit reference track id, a 64-bit NTP timestamp,
// and a media time that is 64-bit when version == 1 or 32-bit when
// version == 0).
type Prft struct {
	Version          uint8
	Flags            uint32
	ReferenceTrackID uint32
	NtpTimestamp     uint64
	MediaTime        uint64
}

// ParsePrft decodes a prft box's content.
func ParsePrft(data []byte) (Prft, error) {
	if len(data) < 4+4+8+4 {
		return Prft{}, fmt.Errorf("mp4box: prft too short (%d bytes)", len(data))
	}
	version := data[0]
	flags := uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	refTrackID := binary.BigEndian.Uint32(data[4:8])
	ntp := binary.BigEndian.Uint64(data[8:16])

	var mediaTime uint64
	rest := data[16:]
	if version == 1 {
		if len(rest) < 8 {
			return Prft{}, fmt.Errorf("mp4box: prft v1 media_time truncated")
		}
		mediaTime = binary.BigEndian.Uint64(rest[:8])
	} else {
		if len(rest) < 4 {
			return Prft{}, fmt.Errorf("mp4box: prft v0 media_time truncated")
		}
		mediaTime = uint64(binary.BigEndian.Uint32(rest[:4]))
	}

	return Prft{
		Version:          version,
		Flags:            flags,
		ReferenceTrackID: refTrackID,
		NtpTimestamp:     ntp,
		MediaTime:        mediaTime,
	}, nil
}

// Size returns the full encoded size of the box, including its 8-byte
// header.
func (p Prft) Size() int64 {
	n := int64(HeaderLen) + 4 /* version+flags */ + 4 /* ref track id */ + 8 /* ntp */
	if p.Version == 1 {
		n += 8
	} else {
		n += 4
	}
	return n
}

// Encode appends the full wire encoding (header + content) of the box to
// buf and returns the result.
func (p Prft) Encode(buf []byte) []byte {
	size := p.Size()
	var header [HeaderLen]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(size))
	copy(header[4:8], "prft")
	buf = append(buf, header[:]...)

	buf = append(buf, p.Version, byte(p.Flags>>16), byte(p.Flags>>8), byte(p.Flags))

	var refID [4]byte
	binary.BigEndian.PutUint32(refID[:], p.ReferenceTrackID)
	buf = append(buf, refID[:]...)

	var ntp [8]byte
	binary.BigEndian.PutUint64(ntp[:], p.NtpTimestamp)
	buf = append(buf, ntp[:]...)

	if p.Version == 1 {
		var mt [8]byte
		binary.BigEndian.PutUint64(mt[:], p.MediaTime)
		buf = append(buf, mt[:]...)
	} else {
		var mt [4]byte
		binary.BigEndian.PutUint32(mt[:], uint32(p.MediaTime))
		buf = append(buf, mt[:]...)
	}
	return buf
}

// WithReferenceTrackID returns a copy of p with its reference track id
// overwritten. Used when cloning the most recently observed prft into
// every track's last-prft slot (spec.md §4.C step 6).
func (p Prft) WithReferenceTrackID(trackID uint32) Prft {
	p.ReferenceTrackID = trackID
	return p
}

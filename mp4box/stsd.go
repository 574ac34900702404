package mp4box

import (
	"encoding/binary"
	"fmt"
)

// SampleEntry is the subset of a stsd sample description the catalog
// builder needs, covering the two codecs spec.md scopes in (avc1,
// mp4a); other fourccs (hev1, vp09, ...) are reported via Type with
// their decoder-config fields left zero, since spec.md's Non-goals
// exclude HEVC/VP9/AV1 catalog emission — callers treat any other Type
// as a fatal "unsupported codec" condition.
type SampleEntry struct {
	Type string

	// Video (avc1).
	Width, Height        uint16
	AVCProfile           uint8
	AVCProfileCompat     uint8
	AVCLevel             uint8

	// Audio (mp4a).
	ChannelCount  uint16
	SampleSize    uint16
	SampleRate    uint32
	ObjectType    uint8 // esds DecoderConfigDescriptor.objectTypeIndication
	AudioObjType  uint8 // AudioSpecificConfig audioObjectType (top 5 bits)
	MaxBitrate    uint32
	AvgBitrate    uint32
}

// ParseStsd decodes an stsd box's content into its sample entries.
func ParseStsd(data []byte) ([]SampleEntry, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("mp4box: stsd too short")
	}
	count := binary.BigEndian.Uint32(data[4:8])
	rest := data[8:]

	entries := make([]SampleEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		children, err := SplitChildren(rest)
		if err != nil {
			return nil, fmt.Errorf("mp4box: stsd entry %d: %w", i, err)
		}
		if len(children) == 0 {
			break
		}
		// SplitChildren consumed the whole remainder as one pass; to
		// extract just the first entry and the leftover bytes we
		// re-split manually using its reported size.
		c := children[0]
		consumed := headerSizeFor(rest) + len(c.Data)
		entry, err := parseSampleEntry(c.Type, c.Data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
		if consumed >= len(rest) {
			break
		}
		rest = rest[consumed:]
	}
	return entries, nil
}

// headerSizeFor reports how many header bytes the leading box in data
// used (8, or 16 for the extended-size form), mirroring SplitChildren's
// own parsing of the same leading box.
func headerSizeFor(data []byte) int {
	if len(data) < HeaderLen {
		return HeaderLen
	}
	if binary.BigEndian.Uint32(data[0:4]) == 1 {
		return ExtendedHeaderLen
	}
	return HeaderLen
}

func parseSampleEntry(typ string, data []byte) (SampleEntry, error) {
	switch typ {
	case "avc1", "avc3":
		return parseVisualSampleEntry(typ, data)
	case "mp4a":
		return parseAudioSampleEntry(typ, data)
	default:
		return SampleEntry{Type: typ}, nil
	}
}

func parseVisualSampleEntry(typ string, data []byte) (SampleEntry, error) {
	const fixed = 6 + 2 + 2 + 2 + 12 + 2 + 2 + 4 + 4 + 4 + 2 + 32 + 2 + 2
	if len(data) < fixed {
		return SampleEntry{}, fmt.Errorf("mp4box: %s entry too short", typ)
	}
	width := binary.BigEndian.Uint16(data[6+2+2+2+12 : 6+2+2+2+12+2])
	height := binary.BigEndian.Uint16(data[6+2+2+2+12+2 : 6+2+2+2+12+4])

	entry := SampleEntry{Type: typ, Width: width, Height: height}

	children, err := SplitChildren(data[fixed:])
	if err != nil {
		return entry, nil // trailing garbage in a nonstandard encoder; codec dims still valid
	}
	if avcC, ok := find(children, "avcC"); ok && len(avcC) >= 4 {
		entry.AVCProfile = avcC[1]
		entry.AVCProfileCompat = avcC[2]
		entry.AVCLevel = avcC[3]
	}
	return entry, nil
}

func parseAudioSampleEntry(typ string, data []byte) (SampleEntry, error) {
	const fixed = 8 + 8 + 2 + 2 + 2 + 2 + 4
	if len(data) < fixed {
		return SampleEntry{}, fmt.Errorf("mp4box: %s entry too short", typ)
	}
	channelCount := binary.BigEndian.Uint16(data[16:18])
	sampleSize := binary.BigEndian.Uint16(data[18:20])
	sampleRate := binary.BigEndian.Uint32(data[24:28]) >> 16 // 16.16 fixed point

	entry := SampleEntry{
		Type:         typ,
		ChannelCount: channelCount,
		SampleSize:   sampleSize,
		SampleRate:   sampleRate,
	}

	children, err := SplitChildren(data[fixed:])
	if err != nil {
		return entry, nil
	}
	if esds, ok := find(children, "esds"); ok {
		objType, audioObjType, maxBR, avgBR := parseEsds(esds)
		entry.ObjectType = objType
		entry.AudioObjType = audioObjType
		entry.MaxBitrate = maxBR
		entry.AvgBitrate = avgBR
	}
	return entry, nil
}

// parseEsds extracts the handful of fields the catalog needs from an
// esds box's MPEG-4 descriptor tree: the DecoderConfigDescriptor's
// objectTypeIndication and bitrate fields, and the leading
// audioObjectType bits of the nested AudioSpecificConfig.
func parseEsds(data []byte) (objType, audioObjType uint8, maxBitrate, avgBitrate uint32) {
	if len(data) < 4 {
		return
	}
	body := data[4:] // skip version+flags

	tag, content, _, ok := readDescriptor(body)
	if !ok || tag != 0x03 {
		return
	}
	// ES_Descriptor payload: ES_ID(2) + flags(1), then optional fields
	// gated by the top three bits of flags (streamDependenceFlag,
	// URL_Flag, OCRstreamFlag) before the nested descriptors begin.
	if len(content) < 3 {
		return
	}
	flags := content[2]
	content = content[3:]
	if flags&0x80 != 0 { // streamDependenceFlag: dependsOn_ES_ID(2)
		if len(content) < 2 {
			return
		}
		content = content[2:]
	}
	if flags&0x40 != 0 { // URL_Flag: URLlength(1) + URLstring
		if len(content) < 1 {
			return
		}
		n := int(content[0])
		if len(content) < 1+n {
			return
		}
		content = content[1+n:]
	}
	if flags&0x20 != 0 { // OCRstreamFlag: OCR_ES_Id(2)
		if len(content) < 2 {
			return
		}
		content = content[2:]
	}
	for len(content) > 0 {
		t, c, remaining, ok := readDescriptor(content)
		if !ok {
			return
		}
		if t == 0x04 && len(c) >= 13 {
			objType = c[0]
			maxBitrate = binary.BigEndian.Uint32(c[5:9])
			avgBitrate = binary.BigEndian.Uint32(c[9:13])
			if dt, dc, _, ok := readDescriptor(c[13:]); ok && dt == 0x05 && len(dc) >= 1 {
				audioObjType = dc[0] >> 3
			}
		}
		content = remaining
	}
	return
}

// readDescriptor reads one MPEG-4 tag-length-value descriptor from data,
// returning its tag, content, and the remaining bytes after it.
func readDescriptor(data []byte) (tag uint8, content []byte, rest []byte, ok bool) {
	if len(data) < 2 {
		return 0, nil, nil, false
	}
	tag = data[0]
	size := 0
	i := 1
	for ; i < len(data) && i < 5; i++ {
		b := data[i]
		size = size<<7 | int(b&0x7f)
		if b&0x80 == 0 {
			i++
			break
		}
	}
	if i+size > len(data) {
		return 0, nil, nil, false
	}
	return tag, data[i : i+size], data[i+size:], true
}

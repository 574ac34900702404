package mp4box

import (
	"encoding/binary"
	"fmt"
)

// tfhd flag bits (ISO/IEC 14496-12).
const (
	tfhdBaseDataOffsetPresent        = 0x000001
	tfhdSampleDescriptionIndexPresent = 0x000002
	tfhdDefaultSampleDurationPresent = 0x000008
	tfhdDefaultSampleSizePresent     = 0x000010
	tfhdDefaultSampleFlagsPresent    = 0x000020
)

// trun flag bits.
const (
	trunDataOffsetPresent      = 0x000001
	trunFirstSampleFlagsPresent = 0x000004
	trunSampleDurationPresent  = 0x000100
	trunSampleSizePresent      = 0x000200
	trunSampleFlagsPresent     = 0x000400
	trunSampleCtsPresent       = 0x000800
)

// Tfhd is a decoded track fragment header.
type Tfhd struct {
	TrackID             uint32
	DefaultSampleFlags  uint32
	HasDefaultSampleFlags bool
}

func parseTfhd(data []byte) (Tfhd, error) {
	if len(data) < 8 {
		return Tfhd{}, fmt.Errorf("mp4box: tfhd too short")
	}
	flags := uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	trackID := binary.BigEndian.Uint32(data[4:8])
	off := 8

	if flags&tfhdBaseDataOffsetPresent != 0 {
		off += 8
	}
	if flags&tfhdSampleDescriptionIndexPresent != 0 {
		off += 4
	}
	if flags&tfhdDefaultSampleDurationPresent != 0 {
		off += 4
	}
	if flags&tfhdDefaultSampleSizePresent != 0 {
		off += 4
	}

	t := Tfhd{TrackID: trackID}
	if flags&tfhdDefaultSampleFlagsPresent != 0 {
		if len(data) < off+4 {
			return Tfhd{}, fmt.Errorf("mp4box: tfhd default_sample_flags truncated")
		}
		t.DefaultSampleFlags = binary.BigEndian.Uint32(data[off : off+4])
		t.HasDefaultSampleFlags = true
	}
	return t, nil
}

// parseTfdtBaseMediaDecodeTime returns a tfdt box's base_media_decode_time.
func parseTfdtBaseMediaDecodeTime(data []byte) (uint64, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("mp4box: tfdt empty")
	}
	version := data[0]
	if version == 1 {
		if len(data) < 4+8 {
			return 0, fmt.Errorf("mp4box: tfdt v1 truncated")
		}
		return binary.BigEndian.Uint64(data[4:12]), nil
	}
	if len(data) < 4+4 {
		return 0, fmt.Errorf("mp4box: tfdt v0 truncated")
	}
	return uint64(binary.BigEndian.Uint32(data[4:8])), nil
}

// TrunSample is one sample entry in a trun box.
type TrunSample struct {
	Flags    uint32
	HasFlags bool
}

func parseTrun(data []byte) (sampleCount uint32, firstSampleFlags uint32, hasFirstSampleFlags bool, samples []TrunSample, err error) {
	if len(data) < 8 {
		return 0, 0, false, nil, fmt.Errorf("mp4box: trun too short")
	}
	flags := uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	sampleCount = binary.BigEndian.Uint32(data[4:8])
	off := 8

	if flags&trunDataOffsetPresent != 0 {
		off += 4
	}
	if flags&trunFirstSampleFlagsPresent != 0 {
		if len(data) < off+4 {
			return 0, 0, false, nil, fmt.Errorf("mp4box: trun first_sample_flags truncated")
		}
		firstSampleFlags = binary.BigEndian.Uint32(data[off : off+4])
		hasFirstSampleFlags = true
		off += 4
	}

	perSample := 0
	if flags&trunSampleDurationPresent != 0 {
		perSample += 4
	}
	if flags&trunSampleSizePresent != 0 {
		perSample += 4
	}
	hasSampleFlags := flags&trunSampleFlagsPresent != 0
	if hasSampleFlags {
		perSample += 4
	}
	if flags&trunSampleCtsPresent != 0 {
		perSample += 4
	}

	samples = make([]TrunSample, sampleCount)
	for i := uint32(0); i < sampleCount; i++ {
		if len(data) < off+perSample {
			return 0, 0, false, nil, fmt.Errorf("mp4box: trun sample %d truncated", i)
		}
		entry := data[off : off+perSample]
		off += perSample
		if !hasSampleFlags {
			continue
		}
		flagOff := 0
		if flags&trunSampleDurationPresent != 0 {
			flagOff += 4
		}
		if flags&trunSampleSizePresent != 0 {
			flagOff += 4
		}
		samples[i] = TrunSample{
			Flags:    binary.BigEndian.Uint32(entry[flagOff : flagOff+4]),
			HasFlags: true,
		}
	}
	return sampleCount, firstSampleFlags, hasFirstSampleFlags, samples, nil
}

// Traf is one decoded track fragment: its track id, base media decode
// time, and whether it contains a sync (keyframe) sample.
type Traf struct {
	TrackID              uint32
	BaseMediaDecodeTime  uint64
	Keyframe             bool
}

// ParseMoof decodes a moof box's content into its track fragments,
// requiring exactly one traf as moq-pub does (spec.md §4.C step 5).
func ParseMoof(data []byte) ([]Traf, error) {
	children, err := SplitChildren(data)
	if err != nil {
		return nil, fmt.Errorf("mp4box: moof: %w", err)
	}
	trafs := findAll(children, "traf")
	if len(trafs) != 1 {
		return nil, fmt.Errorf("mp4box: moof has %d traf boxes, want exactly 1", len(trafs))
	}

	trafChildren, err := SplitChildren(trafs[0])
	if err != nil {
		return nil, fmt.Errorf("mp4box: traf: %w", err)
	}

	tfhdData, ok := find(trafChildren, "tfhd")
	if !ok {
		return nil, fmt.Errorf("mp4box: traf missing tfhd")
	}
	tfhd, err := parseTfhd(tfhdData)
	if err != nil {
		return nil, err
	}

	var baseMediaDecodeTime uint64
	if tfdtData, ok := find(trafChildren, "tfdt"); ok {
		baseMediaDecodeTime, err = parseTfdtBaseMediaDecodeTime(tfdtData)
		if err != nil {
			return nil, err
		}
	}

	keyframe := false
	for _, trunData := range findAll(trafChildren, "trun") {
		count, firstFlags, hasFirstFlags, samples, err := parseTrun(trunData)
		if err != nil {
			return nil, err
		}
		if isKeyframe(count, firstFlags, hasFirstFlags, samples, tfhd) {
			keyframe = true
			break
		}
	}

	return []Traf{{TrackID: tfhd.TrackID, BaseMediaDecodeTime: baseMediaDecodeTime, Keyframe: keyframe}}, nil
}

// isKeyframe mirrors moq-pub's sample_keyframe: a sample is a keyframe
// when bits 24-25 of its flags are 0b10 (kSampleDependsOnNoOther) and
// bit 16 is 0 (not kSampleIsNonSyncSample). Sample 0's flags come from
// trun's first_sample_flags when present, otherwise from the trun's own
// per-sample flags, otherwise from tfhd's default_sample_flags.
func isKeyframe(sampleCount uint32, firstSampleFlags uint32, hasFirstSampleFlags bool, samples []TrunSample, tfhd Tfhd) bool {
	for i := uint32(0); i < sampleCount; i++ {
		var flags uint32
		switch {
		case i == 0 && hasFirstSampleFlags:
			flags = firstSampleFlags
		case samples[i].HasFlags:
			flags = samples[i].Flags
		default:
			flags = tfhd.DefaultSampleFlags
		}
		if (flags>>24)&0x3 == 0x2 && (flags>>16)&0x1 == 0 {
			return true
		}
	}
	return false
}

package ingest

import "encoding/binary"

// box wraps content with a standard 8-byte size+type header, mirroring
// how the ingest pipeline's own input arrives: fully-formed CMAF atoms.
func box(typ string, content []byte) []byte {
	buf := make([]byte, 8+len(content))
	binary.BigEndian.PutUint32(buf[0:4], uint32(8+len(content)))
	copy(buf[4:8], typ)
	copy(buf[8:], content)
	return buf
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func descriptor(tag byte, content []byte) []byte {
	return append([]byte{tag, byte(len(content))}, content...)
}

func tkhd(trackID uint32) []byte {
	c := make([]byte, 16)
	binary.BigEndian.PutUint32(c[12:16], trackID)
	return box("tkhd", c)
}

func mdhd(timescale uint32) []byte {
	c := make([]byte, 16)
	binary.BigEndian.PutUint32(c[12:16], timescale)
	return box("mdhd", c)
}

func avcCBox(profile, compat, level byte) []byte {
	return box("avcC", []byte{1, profile, compat, level})
}

func avc1Entry(width, height uint16, profile, compat, level byte) []byte {
	c := make([]byte, 78)
	copy(c[24:26], u16(width))
	copy(c[26:28], u16(height))
	c = append(c, avcCBox(profile, compat, level)...)
	return box("avc1", c)
}

func esdsBox(objType uint8, maxBitrate, avgBitrate uint32, audioObjType uint8) []byte {
	decSpecific := descriptor(0x05, []byte{audioObjType << 3})
	decConfig := make([]byte, 0, 13+len(decSpecific))
	decConfig = append(decConfig, objType)
	decConfig = append(decConfig, 0, 0, 0, 0) // streamType/upStream/reserved/bufferSizeDB
	decConfig = append(decConfig, u32(maxBitrate)...)
	decConfig = append(decConfig, u32(avgBitrate)...)
	decConfig = append(decConfig, decSpecific...)

	esPayload := append([]byte{0, 0, 0}, descriptor(0x04, decConfig)...) // ES_ID(2)+flags(1)
	esDescriptor := descriptor(0x03, esPayload)

	content := append([]byte{0, 0, 0, 0}, esDescriptor...) // version+flags
	return box("esds", content)
}

func mp4aEntry(channelCount, sampleSize uint16, sampleRate uint32, objType uint8, maxBitrate, avgBitrate uint32, audioObjType uint8) []byte {
	c := make([]byte, 28)
	copy(c[16:18], u16(channelCount))
	copy(c[18:20], u16(sampleSize))
	binary.BigEndian.PutUint32(c[24:28], sampleRate<<16)
	c = append(c, esdsBox(objType, maxBitrate, avgBitrate, audioObjType)...)
	return box("mp4a", c)
}

func stsd(entries ...[]byte) []byte {
	content := make([]byte, 8)
	binary.BigEndian.PutUint32(content[4:8], uint32(len(entries)))
	for _, e := range entries {
		content = append(content, e...)
	}
	return box("stsd", content)
}

func trak(trackID uint32, timescale uint32, entry []byte) []byte {
	stbl := box("stbl", stsd(entry))
	minf := box("minf", stbl)
	mdia := box("mdia", append(mdhd(timescale), minf...))
	return box("trak", append(tkhd(trackID), mdia...))
}

func moovBox(traks ...[]byte) []byte {
	var content []byte
	for _, t := range traks {
		content = append(content, t...)
	}
	return box("moov", content)
}

func tfhd(trackID uint32) []byte {
	c := make([]byte, 8)
	binary.BigEndian.PutUint32(c[4:8], trackID)
	return box("tfhd", c)
}

func tfdt(baseMediaDecodeTime uint32) []byte {
	c := make([]byte, 8)
	binary.BigEndian.PutUint32(c[4:8], baseMediaDecodeTime)
	return box("tfdt", c)
}

// trunKeyframe builds a trun box with first_sample_flags set to a
// keyframe (depends-on-none, not non-sync) or non-keyframe value.
func trunKeyframe(keyframe bool) []byte {
	const trunFirstSampleFlagsPresent = 0x000004
	flags := uint32(trunFirstSampleFlagsPresent)
	c := make([]byte, 12)
	c[1] = byte(flags >> 16)
	c[2] = byte(flags >> 8)
	c[3] = byte(flags)
	binary.BigEndian.PutUint32(c[4:8], 1) // sample_count

	var sampleFlags uint32
	if keyframe {
		sampleFlags = 0x02000000
	} else {
		sampleFlags = 0x01010000
	}
	binary.BigEndian.PutUint32(c[8:12], sampleFlags)
	return box("trun", c)
}

func moofBox(trackID, baseMediaDecodeTime uint32, keyframe bool) []byte {
	traf := box("traf", append(append(tfhd(trackID), tfdt(baseMediaDecodeTime)...), trunKeyframe(keyframe)...))
	return box("moof", traf)
}

func mdatBox(payload string) []byte {
	return box("mdat", []byte(payload))
}

package mp4box

import (
	"encoding/binary"
	"fmt"
)

// TrackInfo is the subset of a moov box's per-track metadata the ingest
// pipeline needs: its id (to correlate with tfhd.track_ID in moof), its
// media timescale (to convert tfdt decode times to milliseconds), and
// its sample description (to build the catalog entry).
type TrackInfo struct {
	ID          uint32
	Timescale   uint32
	SampleEntry SampleEntry
}

// ParseMoov decodes a moov box's content into one TrackInfo per trak
// child, in the order they appear.
func ParseMoov(data []byte) ([]TrackInfo, error) {
	children, err := SplitChildren(data)
	if err != nil {
		return nil, fmt.Errorf("mp4box: moov: %w", err)
	}

	var tracks []TrackInfo
	for _, trak := range findAll(children, "trak") {
		info, err := parseTrak(trak)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, info)
	}
	return tracks, nil
}

func parseTrak(data []byte) (TrackInfo, error) {
	children, err := SplitChildren(data)
	if err != nil {
		return TrackInfo{}, fmt.Errorf("mp4box: trak: %w", err)
	}

	tkhd, ok := find(children, "tkhd")
	if !ok {
		return TrackInfo{}, fmt.Errorf("mp4box: trak missing tkhd")
	}
	trackID, err := parseTkhdTrackID(tkhd)
	if err != nil {
		return TrackInfo{}, err
	}

	mdia, ok := find(children, "mdia")
	if !ok {
		return TrackInfo{}, fmt.Errorf("mp4box: trak %d missing mdia", trackID)
	}
	mdiaChildren, err := SplitChildren(mdia)
	if err != nil {
		return TrackInfo{}, fmt.Errorf("mp4box: mdia: %w", err)
	}

	mdhd, ok := find(mdiaChildren, "mdhd")
	if !ok {
		return TrackInfo{}, fmt.Errorf("mp4box: trak %d missing mdhd", trackID)
	}
	timescale, err := parseMdhdTimescale(mdhd)
	if err != nil {
		return TrackInfo{}, err
	}

	minf, ok := find(mdiaChildren, "minf")
	if !ok {
		return TrackInfo{}, fmt.Errorf("mp4box: trak %d missing minf", trackID)
	}
	minfChildren, err := SplitChildren(minf)
	if err != nil {
		return TrackInfo{}, fmt.Errorf("mp4box: minf: %w", err)
	}
	stbl, ok := find(minfChildren, "stbl")
	if !ok {
		return TrackInfo{}, fmt.Errorf("mp4box: trak %d missing stbl", trackID)
	}
	stblChildren, err := SplitChildren(stbl)
	if err != nil {
		return TrackInfo{}, fmt.Errorf("mp4box: stbl: %w", err)
	}
	stsd, ok := find(stblChildren, "stsd")
	if !ok {
		return TrackInfo{}, fmt.Errorf("mp4box: trak %d missing stsd", trackID)
	}
	entries, err := ParseStsd(stsd)
	if err != nil {
		return TrackInfo{}, err
	}
	var entry SampleEntry
	if len(entries) > 0 {
		entry = entries[0]
	}

	return TrackInfo{ID: trackID, Timescale: timescale, SampleEntry: entry}, nil
}

func parseTkhdTrackID(data []byte) (uint32, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("mp4box: tkhd empty")
	}
	version := data[0]
	if version == 1 {
		// flags(3) + ctime(8) + mtime(8) + track_id(4)
		off := 4 + 8 + 8
		if len(data) < off+4 {
			return 0, fmt.Errorf("mp4box: tkhd v1 truncated")
		}
		return binary.BigEndian.Uint32(data[off : off+4]), nil
	}
	// flags(3) + ctime(4) + mtime(4) + track_id(4)
	off := 4 + 4 + 4
	if len(data) < off+4 {
		return 0, fmt.Errorf("mp4box: tkhd v0 truncated")
	}
	return binary.BigEndian.Uint32(data[off : off+4]), nil
}

func parseMdhdTimescale(data []byte) (uint32, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("mp4box: mdhd empty")
	}
	version := data[0]
	if version == 1 {
		// flags(3) + ctime(8) + mtime(8) + timescale(4)
		off := 4 + 8 + 8
		if len(data) < off+4 {
			return 0, fmt.Errorf("mp4box: mdhd v1 truncated")
		}
		return binary.BigEndian.Uint32(data[off : off+4]), nil
	}
	// flags(3) + ctime(4) + mtime(4) + timescale(4)
	off := 4 + 4 + 4
	if len(data) < off+4 {
		return 0, fmt.Errorf("mp4box: mdhd v0 truncated")
	}
	return binary.BigEndian.Uint32(data[off : off+4]), nil
}

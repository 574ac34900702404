package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/arcspire/moqpub/mp4box"
)

// CatalogTrack is one entry in the ".catalog" track's JSON document,
// describing a single moov trak in terms a subscriber can use to select
// and decode it without parsing MP4 boxes itself.
type CatalogTrack struct {
	Container    string `json:"container"`
	Kind         string `json:"kind"`
	InitTrack    string `json:"init_track"`
	DataTrack    string `json:"data_track"`
	Codec        string `json:"codec"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	ChannelCount int    `json:"channel_count,omitempty"`
	SampleRate   int    `json:"sample_rate,omitempty"`
	SampleSize   int    `json:"sample_size,omitempty"`
	BitRate      int    `json:"bit_rate,omitempty"`
}

// Catalog is the top-level ".catalog" JSON document.
type Catalog struct {
	Tracks []CatalogTrack `json:"tracks"`
}

// BuildCatalog builds the catalog document for the given moov tracks,
// in trak order. bitrates is indexed by the running count of video
// (avc1) tracks seen so far, per spec.md §4.C step 5; a missing index
// yields bit_rate: 0 (the JSON field is simply omitted).
func BuildCatalog(tracks []mp4box.TrackInfo, initTrackName string, bitrates []int) (Catalog, error) {
	var cat Catalog
	videoIndex := 0
	for _, tr := range tracks {
		ct := CatalogTrack{
			Container: "mp4",
			InitTrack: initTrackName,
			DataTrack: fmt.Sprintf("%d.m4s", tr.ID),
		}

		switch tr.SampleEntry.Type {
		case "avc1":
			ct.Kind = "video"
			ct.Codec = avc1CodecString(tr.SampleEntry)
			ct.Width = int(tr.SampleEntry.Width)
			ct.Height = int(tr.SampleEntry.Height)
			if videoIndex < len(bitrates) {
				ct.BitRate = bitrates[videoIndex]
			}
			videoIndex++
		case "mp4a":
			ct.Kind = "audio"
			ct.Codec = mp4aCodecString(tr.SampleEntry)
			ct.ChannelCount = int(tr.SampleEntry.ChannelCount)
			ct.SampleRate = int(tr.SampleEntry.SampleRate)
			ct.SampleSize = int(tr.SampleEntry.SampleSize)
			bitRate := tr.SampleEntry.MaxBitrate
			if tr.SampleEntry.AvgBitrate > bitRate {
				bitRate = tr.SampleEntry.AvgBitrate
			}
			if bitRate > 0 {
				ct.BitRate = int(bitRate)
			}
		default:
			return Catalog{}, fmt.Errorf("ingest: unsupported codec for track %d: %q", tr.ID, tr.SampleEntry.Type)
		}

		cat.Tracks = append(cat.Tracks, ct)
	}
	return cat, nil
}

// avc1CodecString reproduces moq-pub's rfc6381 avc1 codec string, which
// renders profile_compatibility as a six-hex-digit field rather than
// two: "avc1.PPCCCCCCLL" for profile PP, compatibility CC, level LL.
func avc1CodecString(e mp4box.SampleEntry) string {
	return fmt.Sprintf("avc1.%02x%06x%02x", e.AVCProfile, e.AVCProfileCompat, e.AVCLevel)
}

// mp4aCodecString renders "mp4a.OO.P" for object type indication OO and
// the AudioSpecificConfig's audio object type P.
func mp4aCodecString(e mp4box.SampleEntry) string {
	return fmt.Sprintf("mp4a.%02x.%d", e.ObjectType, e.AudioObjType)
}

// Encode serializes the catalog to its canonical JSON form.
func (c Catalog) Encode() ([]byte, error) {
	return json.Marshal(c)
}

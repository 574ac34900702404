package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/arcspire/moqpub/cache"
	"github.com/arcspire/moqpub/mp4box"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readAllChunks(t *testing.T, fragSub *cache.FragmentSubscriber) []byte {
	t.Helper()
	ctx := context.Background()
	var out []byte
	for {
		c, err := fragSub.Chunk(ctx)
		if err != nil {
			return out
		}
		out = append(out, c...)
	}
}

// TestCatalogEmission covers spec.md §8 scenario 1.
func TestCatalogEmission(t *testing.T) {
	t.Parallel()

	ftyp := box("ftyp", []byte("isom"))
	video := avc1Entry(1920, 1080, 0x64, 0x00, 0x1f)
	audio := mp4aEntry(2, 16, 48000, 0x40, 128000, 128000, 5)
	moov := moovBox(trak(1, 30000, video), trak(2, 48000, audio))

	input := append(append([]byte(nil), ftyp...), moov...)

	bcastPub, bcastSub := cache.NewBroadcast("live")
	in := New(bytes.NewReader(input), bcastPub, []int{5000000}, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := in.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	catalogTrack, err := bcastSub.GetTrack(".catalog")
	if err != nil {
		t.Fatalf("GetTrack(.catalog): %v", err)
	}
	seg, err := catalogTrack.Segment(ctx)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	frag, err := seg.Fragment(ctx)
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	doc := readAllChunks(t, frag)

	var got Catalog
	if err := json.Unmarshal(doc, &got); err != nil {
		t.Fatalf("unmarshal catalog: %v, doc=%s", err, doc)
	}
	if len(got.Tracks) != 2 {
		t.Fatalf("tracks = %d, want 2", len(got.Tracks))
	}

	video0 := got.Tracks[0]
	if video0.Kind != "video" || video0.Codec != "avc1.640000001f" || video0.Width != 1920 ||
		video0.Height != 1080 || video0.BitRate != 5000000 || video0.DataTrack != "1.m4s" || video0.InitTrack != "0.mp4" {
		t.Fatalf("video track = %+v", video0)
	}

	audio0 := got.Tracks[1]
	if audio0.Kind != "audio" || audio0.Codec != "mp4a.40.5" || audio0.ChannelCount != 2 ||
		audio0.SampleRate != 48000 || audio0.SampleSize != 16 || audio0.BitRate != 128000 || audio0.DataTrack != "2.m4s" {
		t.Fatalf("audio track = %+v", audio0)
	}

	initTrack, err := bcastSub.GetTrack("0.mp4")
	if err != nil {
		t.Fatalf("GetTrack(0.mp4): %v", err)
	}
	initSeg, err := initTrack.Segment(ctx)
	if err != nil {
		t.Fatalf("init Segment: %v", err)
	}
	initFrag, err := initSeg.Fragment(ctx)
	if err != nil {
		t.Fatalf("init Fragment: %v", err)
	}
	initBytes := readAllChunks(t, initFrag)
	if !bytes.Equal(initBytes, input) {
		t.Fatalf("init segment bytes = %d bytes, want %d bytes of ftyp+moov", len(initBytes), len(input))
	}
}

// TestKeyframeSegmentation covers spec.md §8 scenario 2.
func TestKeyframeSegmentation(t *testing.T) {
	t.Parallel()

	ftyp := box("ftyp", []byte("isom"))
	video := avc1Entry(1280, 720, 0x64, 0x00, 0x1f)
	moov := moovBox(trak(1, 30000, video))

	prft := mp4box.Prft{Version: 0, ReferenceTrackID: 99, NtpTimestamp: 111, MediaTime: 222}
	prftAtom := prft.Encode(nil)

	moof1 := moofBox(1, 60000, true)
	mdat1 := mdatBox("a")
	moof2 := moofBox(1, 60030, false)
	mdat2 := mdatBox("b")
	moof3 := moofBox(1, 60060, true)
	mdat3 := mdatBox("c")

	var buf bytes.Buffer
	buf.Write(ftyp)
	buf.Write(moov)
	buf.Write(prftAtom)
	buf.Write(moof1)
	buf.Write(mdat1)
	buf.Write(moof2)
	buf.Write(mdat2)
	buf.Write(moof3)
	buf.Write(mdat3)

	bcastPub, bcastSub := cache.NewBroadcast("live")
	in := New(&buf, bcastPub, nil, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := in.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	track, err := bcastSub.GetTrack("1.m4s")
	if err != nil {
		t.Fatalf("GetTrack(1.m4s): %v", err)
	}

	seg0, err := track.Segment(ctx)
	if err != nil {
		t.Fatalf("Segment 0: %v", err)
	}
	info0 := seg0.Info()
	if info0.Sequence != 0 {
		t.Fatalf("segment 0 sequence = %d, want 0", info0.Sequence)
	}
	wantPriority0 := uint32(math.MaxUint32) - 2000
	if info0.Priority != wantPriority0 {
		t.Fatalf("segment 0 priority = %d, want %d", info0.Priority, wantPriority0)
	}

	frag0, err := seg0.Fragment(ctx)
	if err != nil {
		t.Fatalf("Fragment 0: %v", err)
	}
	got0 := readAllChunks(t, frag0)

	want0 := concatAll(prftClone(prft, 1), moof1, mdat1, prftClone(prft, 1), moof2, mdat2)
	if !bytes.Equal(got0, want0) {
		t.Fatalf("segment 0 bytes = %d, want %d (prft+moof1+mdat1+prft+moof2+mdat2)", len(got0), len(want0))
	}

	seg1, err := track.Segment(ctx)
	if err != nil {
		t.Fatalf("Segment 1: %v", err)
	}
	info1 := seg1.Info()
	if info1.Sequence != 1 {
		t.Fatalf("segment 1 sequence = %d, want 1", info1.Sequence)
	}
	wantPriority1 := uint32(math.MaxUint32) - 2002
	if info1.Priority != wantPriority1 {
		t.Fatalf("segment 1 priority = %d, want %d", info1.Priority, wantPriority1)
	}

	frag1, err := seg1.Fragment(ctx)
	if err != nil {
		t.Fatalf("Fragment 1: %v", err)
	}
	got1 := readAllChunks(t, frag1)
	want1 := concatAll(prftClone(prft, 1), moof3, mdat3)
	if !bytes.Equal(got1, want1) {
		t.Fatalf("segment 1 bytes = %d, want %d (prft+moof3+mdat3)", len(got1), len(want1))
	}
}

func prftClone(p mp4box.Prft, trackID uint32) []byte {
	return p.WithReferenceTrackID(trackID).Encode(nil)
}

func concatAll(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

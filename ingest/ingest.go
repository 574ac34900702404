// Package ingest implements the MP4 ingest pipeline (spec.md §4.C): it
// reads a stream of CMAF atoms, emits the init and catalog tracks, and
// maps each keyframe-aligned run of moof/mdat pairs onto the cache as a
// prioritized, expirable segment. It is grounded on moq-rs's
// moq-pub/src/media.rs, reworked in the teacher's pipeline-stage idiom
// (internal/demux/mpegts.go's Demuxer: a struct wrapping an io.Reader,
// a Run(ctx) loop, structured logging via log/slog).
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/arcspire/moqpub/cache"
	"github.com/arcspire/moqpub/mp4box"
)

const (
	initTrackName    = "0.mp4"
	catalogTrackName = ".catalog"
	retryBackoff     = 100 * time.Millisecond
	segmentExpiresMS = 10_000
)

// trackState is the ingest pipeline's bookkeeping for one moov trak:
// its cache track producer, its media timescale, the per-track segment
// counter, and whatever segment/fragment is currently being appended to.
type trackState struct {
	producer  *cache.TrackProducer
	timescale uint32
	nextSeq   uint64

	curSeg  *cache.SegmentProducer
	curFrag *cache.FragmentProducer
}

// pendingMoof is the ingest loop's two-state machine (spec.md §9): a
// moof atom is held here until the mdat that must immediately follow it
// arrives. Its zero value means "no moof pending".
type pendingMoof struct {
	set       bool
	trackID   uint32
	raw       []byte
	keyframe  bool
	timestamp uint64
}

// Ingester drives the ingest pipeline: it owns the broadcast producer
// and every per-track cache state, and is the exclusive writer into the
// broadcast (spec.md's Ownership section).
type Ingester struct {
	r        io.Reader
	bcast    *cache.BroadcastProducer
	bitrates []int
	log      *slog.Logger

	tracks      map[uint32]*trackState
	lastPrft    map[uint32]mp4box.Prft
	pending     pendingMoof
	moovContent []byte
}

// New builds an Ingester reading CMAF atoms from r and writing into
// bcast. bitrates overrides per-video-track catalog bit rates, indexed
// by the order video traks appear in moov. If log is nil, slog.Default()
// is used.
func New(r io.Reader, bcast *cache.BroadcastProducer, bitrates []int, log *slog.Logger) *Ingester {
	if log == nil {
		log = slog.Default()
	}
	return &Ingester{
		r:        r,
		bcast:    bcast,
		bitrates: bitrates,
		log:      log.With("component", "ingest"),
		tracks:   make(map[uint32]*trackState),
		lastPrft: make(map[uint32]mp4box.Prft),
	}
}

// Run drives the pipeline until r is exhausted, ctx is canceled, or a
// fatal error occurs (an unsupported codec, or a moof whose timestamp
// overflows u32). On a clean end of input it finalizes every open
// segment/fragment and closes the broadcast with ErrClosed; on error it
// closes the broadcast with ErrStop and returns the error.
func (in *Ingester) Run(ctx context.Context) error {
	if err := in.readInit(ctx); err != nil {
		in.bcast.Close(cache.ErrStop)
		return err
	}
	if err := in.readMoovAndEmitTracks(); err != nil {
		in.bcast.Close(cache.ErrStop)
		return err
	}

	err := in.mainLoop(ctx)
	in.finalizeAll()
	if err != nil {
		in.bcast.Close(cache.ErrStop)
		return err
	}
	in.bcast.Close(cache.ErrClosed)
	return nil
}

// readInit reads the mandatory leading ftyp and moov atoms, retrying
// indefinitely with a 100ms backoff on parse error or atom-type
// mismatch, per spec.md §4.C step 2. It stashes the concatenated raw
// bytes for the init segment and the moov content for track discovery.
func (in *Ingester) readInit(ctx context.Context) error {
	ftypRaw, err := in.readAtomRetry(ctx, "ftyp")
	if err != nil {
		return err
	}
	moovHeader, moovRaw, err := in.readRawAtomRetry(ctx, "moov")
	if err != nil {
		return err
	}

	init := append(append([]byte(nil), ftypRaw...), moovRaw...)
	if err := in.emitInitSegment(init); err != nil {
		return err
	}
	in.moovContent = moovRaw[moovHeader.HeaderSize:]
	return nil
}

// readAtomRetry reads one atom of exactly the given type, retrying on
// parse error or a type mismatch. It discards the parsed header and
// returns the raw (header-included) bytes.
func (in *Ingester) readAtomRetry(ctx context.Context, want string) ([]byte, error) {
	_, raw, err := in.readRawAtomRetry(ctx, want)
	return raw, err
}

func (in *Ingester) readRawAtomRetry(ctx context.Context, want string) (mp4box.Header, []byte, error) {
	for {
		h, raw, err := mp4box.ReadRawAtom(in.r)
		if err == nil && h.Type == want {
			return h, raw, nil
		}
		if err != nil {
			in.log.Warn("could not parse atom", "want", want, "err", err)
		} else {
			in.log.Warn("unexpected atom type", "want", want, "got", h.Type)
		}
		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
			return mp4box.Header{}, nil, ctx.Err()
		}
	}
}

func (in *Ingester) emitInitSegment(init []byte) error {
	trackPub, err := in.bcast.CreateTrack(initTrackName)
	if err != nil {
		return fmt.Errorf("ingest: create init track: %w", err)
	}
	segPub := trackPub.CreateSegment(cache.SegmentInfo{Sequence: 0, Priority: 0})
	fragPub := segPub.FinalFragment(0, uint64(len(init)))
	fragPub.Write(init)
	fragPub.Close(nil)
	segPub.Close(nil)
	return nil
}

// readMoovAndEmitTracks parses the stashed moov content, creates one
// empty per-trak track plus the catalog track, and emits the catalog
// document.
func (in *Ingester) readMoovAndEmitTracks() error {
	infos, err := mp4box.ParseMoov(in.moovContent)
	if err != nil {
		return fmt.Errorf("ingest: parse moov: %w", err)
	}

	for _, info := range infos {
		trackPub, err := in.bcast.CreateTrack(fmt.Sprintf("%d.m4s", info.ID))
		if err != nil {
			return fmt.Errorf("ingest: create track %d: %w", info.ID, err)
		}
		in.tracks[info.ID] = &trackState{producer: trackPub, timescale: info.Timescale}
	}

	catalog, err := BuildCatalog(infos, initTrackName, in.bitrates)
	if err != nil {
		return err
	}
	catalogJSON, err := catalog.Encode()
	if err != nil {
		return fmt.Errorf("ingest: encode catalog: %w", err)
	}
	return in.emitCatalogSegment(catalogJSON)
}

func (in *Ingester) emitCatalogSegment(doc []byte) error {
	trackPub, err := in.bcast.CreateTrack(catalogTrackName)
	if err != nil {
		return fmt.Errorf("ingest: create catalog track: %w", err)
	}
	segPub := trackPub.CreateSegment(cache.SegmentInfo{Sequence: 0, Priority: 0})
	fragPub := segPub.FinalFragment(0, uint64(len(doc)))
	fragPub.Write(doc)
	fragPub.Close(nil)
	segPub.Close(nil)
	return nil
}

// mainLoop implements spec.md §4.C step 6: moof/mdat/prft dispatch.
func (in *Ingester) mainLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		h, raw, err := mp4box.ReadRawAtom(in.r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("ingest: read atom: %w", err)
		}
		content := raw[h.HeaderSize:]

		switch h.Type {
		case "moof":
			if err := in.handleMoof(content, raw); err != nil {
				return err
			}
		case "mdat":
			if err := in.handleMdat(raw); err != nil {
				return err
			}
		case "prft":
			in.handlePrft(content)
		default:
			// Silently ignored, per spec.md §4.C step 6.
		}
	}
}

func (in *Ingester) handleMoof(content, raw []byte) error {
	trafs, err := mp4box.ParseMoof(content)
	if err != nil {
		return fmt.Errorf("ingest: parse moof: %w", err)
	}
	traf := trafs[0]

	if in.pending.set {
		in.log.Warn("moof received while another moof is still pending; dropping the earlier one")
	}
	in.pending = pendingMoof{
		set:       true,
		trackID:   traf.TrackID,
		raw:       raw,
		keyframe:  traf.Keyframe,
		timestamp: traf.BaseMediaDecodeTime,
	}
	return nil
}

func (in *Ingester) handleMdat(raw []byte) error {
	if !in.pending.set {
		in.log.Warn("mdat received with no pending moof; dropping")
		return nil
	}
	pending := in.pending
	in.pending = pendingMoof{}

	track, ok := in.tracks[pending.trackID]
	if !ok {
		in.log.Warn("mdat for unknown track", "track", pending.trackID)
		return nil
	}

	var prftBytes []byte
	if prft, ok := in.lastPrft[pending.trackID]; ok {
		prftBytes = prft.Encode(nil)
	}

	if pending.keyframe || track.curFrag == nil {
		timestampMs := uint64(1000) * pending.timestamp / uint64(track.timescale)
		if timestampMs > math.MaxUint32 {
			return fmt.Errorf("ingest: track %d timestamp %dms overflows u32", pending.trackID, timestampMs)
		}
		in.startSegment(track, uint32(timestampMs))
	}

	if prftBytes != nil {
		track.curFrag.Write(prftBytes)
	}
	track.curFrag.Write(pending.raw)
	track.curFrag.Write(raw)
	return nil
}

// startSegment finalizes track's current segment/fragment, if any, and
// opens a new one at the given millisecond timestamp.
func (in *Ingester) startSegment(track *trackState, timestampMs uint32) {
	if track.curFrag != nil {
		track.curFrag.Close(nil)
		track.curSeg.Close(nil)
	}

	priority := uint32(math.MaxUint32) - timestampMs
	info := cache.SegmentInfo{
		Sequence:  track.nextSeq,
		Priority:  priority,
		HasExpiry: true,
		ExpiresMS: segmentExpiresMS,
	}
	track.nextSeq++

	track.curSeg = track.producer.CreateSegment(info)
	track.curFrag = track.curSeg.CreateFragment(0)
}

func (in *Ingester) handlePrft(content []byte) {
	prft, err := mp4box.ParsePrft(content)
	if err != nil {
		in.log.Warn("could not parse prft", "err", err)
		return
	}
	for trackID := range in.tracks {
		in.lastPrft[trackID] = prft.WithReferenceTrackID(trackID)
	}
}

// finalizeAll closes every still-open fragment/segment, for a clean
// shutdown at end of input.
func (in *Ingester) finalizeAll() {
	for _, track := range in.tracks {
		if track.curFrag != nil {
			track.curFrag.Close(nil)
			track.curSeg.Close(nil)
		}
	}
}

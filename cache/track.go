package cache

import "context"

// trackCore is the shared state behind a TrackProducer and its
// TrackSubscriber handles: an append-only sequence of segments.
type trackCore struct {
	name     string
	segments *buffer[*segmentCore]
	bc       *broadcastCore
}

func newTrackCore(name string) *trackCore {
	return &trackCore{name: name, segments: newBuffer[*segmentCore]()}
}

// close implements closer: it closes the track's own segment sequence,
// waking any Segment() reader suspended waiting for the next segment or
// for track closure. Descendant segment/fragment buffers are closed
// independently by the broadcast's own cascade, since they're registered
// directly in its descendant list.
func (t *trackCore) close(err *Error) {
	t.segments.close(err)
}

// TrackProducer is the exclusive-owner handle for a Track.
type TrackProducer struct {
	core *trackCore
}

// TrackSubscriber is a reader handle for a Track. Each subscriber tracks
// its own read position, so independent subscribers (e.g. two
// subscriptions to the same track) each observe the full segment
// history from the point they started reading.
type TrackSubscriber struct {
	core *trackCore
	next int
}

// Name returns the track's name.
func (p *TrackProducer) Name() string { return p.core.name }

// Name returns the track's name.
func (s *TrackSubscriber) Name() string { return s.core.name }

// SegmentInfo carries the per-segment metadata fixed at creation: its
// sequence number, relative priority, and expiry.
type SegmentInfo struct {
	Sequence uint64
	Priority uint32
	// ExpiresMS is the duration, in milliseconds, after which this
	// segment's objects become stale. Ignored unless HasExpiry is set.
	ExpiresMS uint64
	HasExpiry bool
}

// CreateSegment appends a new segment to the track and returns its
// producer handle.
func (p *TrackProducer) CreateSegment(info SegmentInfo) *SegmentProducer {
	sc := newSegmentCore(info)
	sc.bc = p.core.bc
	if sc.bc != nil {
		sc.bc.register(sc)
	}
	p.core.segments.append(sc)
	return &SegmentProducer{core: sc}
}

// Segment returns the next segment subscriber in sequence, blocking
// until it is available, the track's broadcast closes, or ctx is done.
func (s *TrackSubscriber) Segment(ctx context.Context) (*SegmentSubscriber, error) {
	sc, err := s.core.segments.at(ctx, s.next)
	if err != nil {
		return nil, err
	}
	s.next++
	return &SegmentSubscriber{core: sc}, nil
}

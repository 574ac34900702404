package cache

import "context"

// segmentCore is the shared state behind a SegmentProducer and its
// SegmentSubscriber handles: fixed metadata plus an append-only sequence
// of fragments.
type segmentCore struct {
	info      SegmentInfo
	fragments *buffer[*fragmentCore]
	bc        *broadcastCore
}

func newSegmentCore(info SegmentInfo) *segmentCore {
	return &segmentCore{info: info, fragments: newBuffer[*fragmentCore]()}
}

// close implements closer: ends this segment's fragment stream.
func (s *segmentCore) close(err *Error) {
	s.fragments.close(err)
}

// SegmentProducer is the exclusive-owner handle for a Segment.
type SegmentProducer struct {
	core *segmentCore
}

// SegmentSubscriber is a reader handle for a Segment.
type SegmentSubscriber struct {
	core *segmentCore
	next int
}

// Info returns the segment's fixed metadata.
func (p *SegmentProducer) Info() SegmentInfo { return p.core.info }

// Info returns the segment's fixed metadata.
func (s *SegmentSubscriber) Info() SegmentInfo { return s.core.info }

// CreateFragment appends a new fragment to the segment with no declared
// size: Size() reports a running total of bytes written so far. This is
// what moqpub's ingest pipeline uses while a fragment is still being
// assembled from a run of moof/mdat pairs.
func (p *SegmentProducer) CreateFragment(sequence uint64) *FragmentProducer {
	return p.createFragment(newFragmentCore(sequence))
}

// FinalFragment appends a new fragment whose total byte count is already
// known (spec.md's "final_fragment"): Size() reports size immediately,
// before any chunk is written. Used when the fragment's bytes were
// already assembled in memory before the fragment itself was created.
func (p *SegmentProducer) FinalFragment(sequence, size uint64) *FragmentProducer {
	return p.createFragment(newFinalFragmentCore(sequence, size))
}

func (p *SegmentProducer) createFragment(fc *fragmentCore) *FragmentProducer {
	fc.bc = p.core.bc
	if fc.bc != nil {
		fc.bc.register(fc)
	}
	p.core.fragments.append(fc)
	return &FragmentProducer{core: fc}
}

// Close ends this segment's fragment stream: Fragment() reads past the
// last fragment return err (ErrClosed if nil) instead of blocking
// forever.
func (p *SegmentProducer) Close(err *Error) {
	p.core.close(err)
}

// Fragment returns the next fragment subscriber in sequence, blocking
// until it is available, the segment closes, or ctx is done.
func (s *SegmentSubscriber) Fragment(ctx context.Context) (*FragmentSubscriber, error) {
	fc, err := s.core.fragments.at(ctx, s.next)
	if err != nil {
		return nil, err
	}
	s.next++
	return &FragmentSubscriber{core: fc}, nil
}

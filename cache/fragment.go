package cache

import (
	"context"
	"sync/atomic"
)

// fragmentCore is the shared state behind a FragmentProducer and its
// FragmentSubscriber handles: an append-only sequence of byte chunks,
// plus an optional declared total size (spec.md's "final_fragment").
// When no size was declared at creation, Size reports a running total
// of bytes written so far instead.
type fragmentCore struct {
	sequence    uint64
	declared    bool
	declaredLen uint64
	written     atomic.Uint64
	chunks      *buffer[[]byte]
	bc          *broadcastCore
}

func newFragmentCore(sequence uint64) *fragmentCore {
	return &fragmentCore{sequence: sequence, chunks: newBuffer[[]byte]()}
}

func newFinalFragmentCore(sequence, size uint64) *fragmentCore {
	return &fragmentCore{sequence: sequence, declared: true, declaredLen: size, chunks: newBuffer[[]byte]()}
}

// close implements closer: ends this fragment's chunk stream.
func (f *fragmentCore) close(err *Error) {
	f.chunks.close(err)
}

func (f *fragmentCore) size() uint64 {
	if f.declared {
		return f.declaredLen
	}
	return f.written.Load()
}

// FragmentProducer is the exclusive-owner handle for a Fragment.
type FragmentProducer struct {
	core *fragmentCore
}

// FragmentSubscriber is a reader handle for a Fragment.
type FragmentSubscriber struct {
	core *fragmentCore
	next int
}

// Sequence returns the fragment's sequence number within its segment.
func (p *FragmentProducer) Sequence() uint64 { return p.core.sequence }

// Sequence returns the fragment's sequence number within its segment.
func (s *FragmentSubscriber) Sequence() uint64 { return s.core.sequence }

// Size returns the fragment's declared total size if one was set at
// creation, otherwise a running total of bytes written so far.
func (p *FragmentProducer) Size() uint64 { return p.core.size() }

// Size returns the fragment's declared total size if one was set at
// creation, otherwise a running total of bytes written so far.
func (s *FragmentSubscriber) Size() uint64 { return s.core.size() }

// Write appends a chunk of bytes to the fragment. A zero-length write is
// a no-op: the wire encoder only ever transmits non-empty chunks.
func (p *FragmentProducer) Write(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	p.core.written.Add(uint64(len(chunk)))
	p.core.chunks.append(chunk)
}

// Close ends this fragment's chunk stream: Chunk() reads past the last
// chunk return err (ErrClosed if nil) instead of blocking forever.
func (p *FragmentProducer) Close(err *Error) {
	p.core.close(err)
}

// Chunk returns the next chunk in sequence, blocking until it is
// available, the fragment closes, or ctx is done.
func (s *FragmentSubscriber) Chunk(ctx context.Context) ([]byte, error) {
	c, err := s.core.chunks.at(ctx, s.next)
	if err != nil {
		return nil, err
	}
	s.next++
	return c, nil
}

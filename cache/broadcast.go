// Package cache implements the single-producer/multi-consumer media
// buffer described in spec.md §4.B: a Broadcast owning a set of named
// Tracks, each an append-only sequence of Segments, each an append-only
// sequence of Fragments, each an append-only sequence of byte chunks.
// Every read suspends until data is available or the relevant level (or
// an ancestor) closes; closing a Broadcast propagates its close error to
// every outstanding reader anywhere in its tree.
package cache

import (
	"context"
	"sync"
)

// closer is implemented by every descendant buffer (track/segment/
// fragment) so a Broadcast can cascade its close reason down the whole
// tree, including buffers created after some readers were already
// suspended on them.
type closer interface {
	close(err *Error)
}

// broadcastCore is the shared state behind a BroadcastProducer and its
// BroadcastSubscriber handles.
type broadcastCore struct {
	mu     sync.Mutex
	name   string
	tracks map[string]*trackCore
	// order records track creation order; map iteration order is not
	// stable.
	order []string

	closed  bool
	err     *Error
	closeCh chan struct{}

	descendants []closer
}

// BroadcastProducer is the exclusive-owner handle for a Broadcast: only
// it may create tracks or close the broadcast.
type BroadcastProducer struct {
	core *broadcastCore
}

// BroadcastSubscriber is a shared, cloneable reader handle for a
// Broadcast.
type BroadcastSubscriber struct {
	core *broadcastCore
}

// NewBroadcast creates a new broadcast named name and returns its
// producer and subscriber handles.
func NewBroadcast(name string) (*BroadcastProducer, *BroadcastSubscriber) {
	core := &broadcastCore{
		name:    name,
		tracks:  make(map[string]*trackCore),
		closeCh: make(chan struct{}),
	}
	return &BroadcastProducer{core: core}, &BroadcastSubscriber{core: core}
}

// Name returns the broadcast's name.
func (p *BroadcastProducer) Name() string { return p.core.name }

// Name returns the broadcast's name.
func (s *BroadcastSubscriber) Name() string { return s.core.name }

// CreateTrack creates a new track named name. It fails with ErrDuplicate
// if a track by that name already exists, or with the broadcast's close
// error if the broadcast is already closed.
func (p *BroadcastProducer) CreateTrack(name string) (*TrackProducer, error) {
	c := p.core
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, c.err
	}
	if _, ok := c.tracks[name]; ok {
		return nil, ErrDuplicate
	}

	tc := newTrackCore(name)
	tc.bc = c
	c.tracks[name] = tc
	c.order = append(c.order, name)
	c.descendants = append(c.descendants, tc)

	return &TrackProducer{core: tc}, nil
}

// register adds a descendant buffer to the cascade-close list. Safe to
// call concurrently with Close: if the broadcast is already closed, the
// descendant is closed immediately instead of being registered, so a
// segment/fragment created in a race with Close still observes closure.
func (c *broadcastCore) register(cl closer) {
	c.mu.Lock()
	if c.closed {
		err := c.err
		c.mu.Unlock()
		cl.close(err)
		return
	}
	c.descendants = append(c.descendants, cl)
	c.mu.Unlock()
}

// GetTrack looks up an existing track by name, failing with ErrNotFound
// if it doesn't exist.
func (s *BroadcastSubscriber) GetTrack(name string) (*TrackSubscriber, error) {
	c := s.core
	c.mu.Lock()
	defer c.mu.Unlock()

	tc, ok := c.tracks[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &TrackSubscriber{core: tc}, nil
}

// Clone returns an independent subscriber handle sharing the same
// underlying broadcast. Cache subscriber handles are cheap, reference
// the same state, and never need explicit release — Go's garbage
// collector reclaims the broadcast once every handle and goroutine
// referencing it is gone.
func (s *BroadcastSubscriber) Clone() *BroadcastSubscriber {
	return &BroadcastSubscriber{core: s.core}
}

// Close closes the broadcast with err (ErrClosed if nil), propagating it
// to every track, segment, and fragment created under it — including
// ones created concurrently with this call. Idempotent.
func (p *BroadcastProducer) Close(err *Error) {
	c := p.core
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if err == nil {
		err = ErrClosed
	}
	c.closed = true
	c.err = err
	descendants := append([]closer(nil), c.descendants...)
	close(c.closeCh)
	c.mu.Unlock()

	for _, d := range descendants {
		d.close(err)
	}
}

// Closed blocks until the broadcast is closed (or ctx is done) and
// returns the close error.
func (s *BroadcastSubscriber) Closed(ctx context.Context) (*Error, error) {
	c := s.core
	select {
	case <-c.closeCh:
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		return err, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

package session

import (
	"context"
	"errors"
	"time"

	"github.com/arcspire/moqpub/cache"
	"github.com/arcspire/moqpub/moq"
	"github.com/arcspire/moqpub/wire"
)

// runSubscribe is the per-subscription task (spec.md §4.E): it iterates
// a track's segments, spawning a per-segment task for each one, and
// checks after every yield that this subscription's id is still
// present in the subscriptions map (an Unsubscribe or a switch_track_id
// eviction removes it without this task's involvement). On exit it
// sends a SubscribeReset carrying the task's terminal error — defaulting
// to Closed when the track simply ran out of segments — unless the
// entry was already removed by someone else, in which case no reset is
// sent from here (an Unsubscribe sends its own; a switch_track_id
// eviction sends none).
func (p *Publisher) runSubscribe(ctx context.Context, id wire.VarInt, track *cache.TrackSubscriber) {
	finalErr := moq.CodedError(FromCache(cache.ErrClosed))

	for {
		seg, err := track.Segment(ctx)
		if err != nil {
			finalErr = toCodedError(err)
			break
		}

		p.mu.Lock()
		_, active := p.subs[id]
		p.mu.Unlock()
		if !active {
			return
		}

		go p.runSegment(ctx, id, seg)
	}

	p.mu.Lock()
	_, active := p.subs[id]
	if active {
		delete(p.subs, id)
	}
	p.mu.Unlock()

	if active {
		if err := p.sendReset(id, finalErr, 0, 0); err != nil {
			p.log.Warn("send subscribe reset", "id", id, "err", err)
		}
	}
}

// runSegment is the per-segment task: it opens one unidirectional
// stream and streams each fragment as one Object header, carrying the
// segment's cache priority in-band, followed by its chunks. A fragment
// that produces zero non-empty chunks is logged as an "empty segment"
// condition, per spec.md §4.E.
func (p *Publisher) runSegment(ctx context.Context, id wire.VarInt, seg *cache.SegmentSubscriber) {
	info := seg.Info()

	stream, err := p.sess.OpenUniStream(ctx)
	if err != nil {
		p.log.Warn("open uni stream", "id", id, "err", err)
		return
	}
	defer stream.Close()

	for {
		frag, err := seg.Fragment(ctx)
		if err != nil {
			return
		}

		ntp, err := ntpTimestamp()
		if err != nil {
			p.log.Warn("ntp timestamp", "id", id, "err", err)
			return
		}

		obj := moq.Object{
			Track:        id,
			Group:        wire.VarInt(info.Sequence),
			Priority:     wire.VarInt(info.Priority),
			Sequence:     wire.VarInt(frag.Sequence()),
			NtpTimestamp: ntp,
			Size:         wire.VarInt(frag.Size()),
		}
		if info.HasExpiry {
			obj.HasExpires = true
			obj.Expires = wire.VarInt(info.ExpiresMS)
		}

		if _, err := stream.Write(obj.Encode(nil, p.ext)); err != nil {
			p.log.Warn("write object header", "id", id, "err", err)
			return
		}

		chunkCount := 0
		for {
			chunk, err := frag.Chunk(ctx)
			if err != nil {
				break
			}
			if len(chunk) == 0 {
				continue
			}
			if _, err := stream.Write(chunk); err != nil {
				p.log.Warn("write chunk", "id", id, "err", err)
				return
			}
			chunkCount++
		}
		if chunkCount == 0 {
			p.log.Warn("empty segment", "id", id, "group", info.Sequence, "sequence", frag.Sequence())
		}
	}
}

// toCodedError adapts any error surfaced by the cache into a
// moq.CodedError, preferring to preserve a cache.Error's exact code.
func toCodedError(err error) moq.CodedError {
	var ce *cache.Error
	if errors.As(err, &ce) {
		return FromCache(ce)
	}
	return NewUnknown(err.Error())
}

// ntpTimestamp returns the current wall-clock time as milliseconds since
// the Unix epoch, encoded as a VarInt. It fails with BoundsExceeded if
// the value doesn't fit (spec.md §4.E).
func ntpTimestamp() (wire.VarInt, error) {
	ms := time.Now().UnixMilli()
	if ms < 0 {
		return 0, NewBoundsExceeded()
	}
	v, err := wire.NewVarInt(uint64(ms))
	if err != nil {
		return 0, NewBoundsExceeded()
	}
	return v, nil
}

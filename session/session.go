// Package session implements the publisher session core (spec.md §4.E):
// the control run-loop, per-subscription and per-segment tasks, and the
// probe side-channel. It is grounded on the teacher's
// internal/distribution/moq_session.go (subscriptions map guarded by a
// mutex, one goroutine per subscription/segment, short critical
// sections) and on moq-rs's moq-transport/src/session/publisher.rs,
// which spec.md §4.E distills almost verbatim.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/arcspire/moqpub/cache"
	"github.com/arcspire/moqpub/moq"
	"github.com/arcspire/moqpub/transport"
	"github.com/arcspire/moqpub/wire"
)

// errRoleViolationStream is a sentinel used internally to signal that
// the peer opened a unidirectional stream, which a publisher never
// permits from a subscriber.
var errRoleViolationStream = errors.New("session: peer opened a uni stream")

// Publisher runs the control loop for a single accepted WebTransport
// session already negotiated into the publisher role.
type Publisher struct {
	sess    transport.Session
	control transport.Control
	bcast   *cache.BroadcastSubscriber
	ext     moq.Extensions
	log     *slog.Logger

	mu   sync.Mutex
	subs map[wire.VarInt]context.CancelFunc
}

// New builds a Publisher. control is the already-open bidirectional moq
// control stream (negotiating and opening it is an external
// collaborator's job per spec.md §1).
func New(sess transport.Session, control transport.Control, bcast *cache.BroadcastSubscriber, ext moq.Extensions, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		sess:    sess,
		control: control,
		bcast:   bcast,
		ext:     ext,
		log:     log,
		subs:    make(map[wire.VarInt]context.CancelFunc),
	}
}

// Run drives the session until the peer's control channel errors, the
// broadcast closes, the peer violates its role, or ctx is canceled. It
// selects over exactly the three sources spec.md §4.E names: an
// incoming unidirectional stream from the peer (fatal), a control
// message (dispatched; only RoleViolation/Duplicate dispatch failures
// are fatal), and the broadcast closing (closes the transport with the
// broadcast's close code/reason, then returns cleanly).
func (p *Publisher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	uniCh := make(chan error, 1)
	go func() {
		_, err := p.sess.AcceptUniStream(ctx)
		if err != nil {
			uniCh <- err
			return
		}
		uniCh <- errRoleViolationStream
	}()

	msgCh := make(chan moq.Any)
	msgErrCh := make(chan error, 1)
	go func() {
		for {
			msg, err := moq.ReadMessage(p.control)
			if err != nil {
				msgErrCh <- err
				return
			}
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	closedCh := make(chan *cache.Error, 1)
	go func() {
		cerr, err := p.bcast.Closed(ctx)
		if err != nil {
			return
		}
		closedCh <- cerr
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-uniCh:
			if errors.Is(err, errRoleViolationStream) {
				se := NewRoleViolation(0)
				_ = p.sess.CloseWithError(se.Code(), se.Reason())
				return se
			}
			return nil

		case err := <-msgErrCh:
			return fmt.Errorf("session: control channel: %w", err)

		case msg := <-msgCh:
			if err := p.dispatch(ctx, msg); err != nil {
				var se *Error
				if errors.As(err, &se) && se.Fatal() {
					_ = p.sess.CloseWithError(se.Code(), se.Reason())
					return se
				}
				p.log.Warn("control message error", "err", err)
			}

		case cerr := <-closedCh:
			return p.sess.CloseWithError(cerr.Code(), cerr.Reason())
		}
	}
}

// dispatch routes one decoded control message. Receiving a message only a
// publisher sends (SubscribeOk, SubscribeReset) is a role violation;
// receiving AnnounceOk/AnnounceError, a reply to an announce this core
// never makes, is a non-fatal NotFound.
func (p *Publisher) dispatch(ctx context.Context, msg moq.Any) error {
	switch m := msg.(type) {
	case moq.Subscribe:
		return p.recvSubscribe(ctx, m)
	case moq.Unsubscribe:
		return p.recvUnsubscribe(m)
	case moq.AnnounceOk:
		// This core never announces (spec.md's Non-goals exclude
		// server-initiated ANNOUNCE), so any AnnounceOk/AnnounceError
		// refers to an announce we never made: NotFound, not fatal.
		return FromCache(cache.ErrNotFound)
	case moq.AnnounceError:
		return FromCache(cache.ErrNotFound)
	case moq.SubscribeOk:
		// Only a publisher ever sends these; a peer sending one back is
		// a genuine role violation.
		return NewRoleViolation(0)
	case moq.SubscribeReset:
		return NewRoleViolation(0)
	default:
		return NewUnknown(fmt.Sprintf("unhandled message %T", m))
	}
}

func (p *Publisher) writeOk(id wire.VarInt) error {
	return moq.WriteMessage(p.control, moq.SubscribeOk{ID: id, Expires: 0})
}

func (p *Publisher) sendReset(id wire.VarInt, cause moq.CodedError, finalGroup, finalObject wire.VarInt) error {
	return moq.WriteMessage(p.control, moq.SubscribeReset{
		ID:          id,
		Code:        wire.VarInt(cause.Code()),
		Reason:      cause.Reason(),
		FinalGroup:  finalGroup,
		FinalObject: finalObject,
	})
}

// recvSubscribe handles an incoming Subscribe, per spec.md §4.E: a
// ".probe"-prefixed name is routed to the probe side-channel; otherwise
// a non-empty namespace is rejected, the name is looked up in the
// broadcast, and on success a per-subscription task is spawned keyed by
// id (after first tearing down any subscription named by a nonzero
// SwitchTrackID).
func (p *Publisher) recvSubscribe(ctx context.Context, m moq.Subscribe) error {
	if strings.HasPrefix(m.Name, probePrefix) {
		go p.sendProbe(ctx, m)
		return p.writeOk(m.ID)
	}

	if m.Namespace != "" {
		notFound := cache.ErrNotFound
		return p.sendReset(m.ID, notFound, 0, 0)
	}

	trackSub, err := p.bcast.GetTrack(m.Name)
	if err != nil {
		var ce *cache.Error
		if errors.As(err, &ce) {
			return p.sendReset(m.ID, ce, 0, 0)
		}
		return p.sendReset(m.ID, cache.ErrNotFound, 0, 0)
	}

	p.mu.Lock()
	if m.SwitchTrackID != 0 {
		if cancel, ok := p.subs[m.SwitchTrackID]; ok {
			cancel()
			delete(p.subs, m.SwitchTrackID)
		}
	}
	if _, ok := p.subs[m.ID]; ok {
		p.mu.Unlock()
		dup := NewDuplicate()
		_ = p.sendReset(m.ID, dup, 0, 0)
		return dup
	}
	subCtx, cancel := context.WithCancel(ctx)
	p.subs[m.ID] = cancel
	p.mu.Unlock()

	go p.runSubscribe(subCtx, m.ID, trackSub)

	return p.writeOk(m.ID)
}

// recvUnsubscribe cancels an existing subscription's task and sends a
// SubscribeReset carrying Stop. Unknown ids are a NotFound error, logged
// but not fatal.
func (p *Publisher) recvUnsubscribe(m moq.Unsubscribe) error {
	p.mu.Lock()
	cancel, ok := p.subs[m.ID]
	if ok {
		delete(p.subs, m.ID)
	}
	p.mu.Unlock()

	if !ok {
		return FromCache(cache.ErrNotFound)
	}
	cancel()
	return p.sendReset(m.ID, cache.ErrStop, 0, 0)
}

const (
	probePrefix        = ".probe"
	defaultProbeSize   = 20000
	defaultProbePriority = 0
)

// parseProbeArgs parses the optional ":SIZE:PRIORITY" suffix on a probe
// subscription name, defaulting to 20000 bytes and priority 0.
func parseProbeArgs(name string) (size, priority int) {
	size, priority = defaultProbeSize, defaultProbePriority
	rest := strings.TrimPrefix(name, probePrefix)
	rest = strings.TrimPrefix(rest, ":")
	if rest == "" {
		return size, priority
	}
	parts := strings.SplitN(rest, ":", 2)
	if v, err := strconv.Atoi(parts[0]); err == nil {
		size = v
	}
	if len(parts) > 1 {
		if v, err := strconv.Atoi(parts[1]); err == nil {
			priority = v
		}
	}
	return size, priority
}

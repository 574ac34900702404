package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/arcspire/moqpub/cache"
	"github.com/arcspire/moqpub/moq"
	"github.com/arcspire/moqpub/transport"
	"github.com/arcspire/moqpub/wire"
)

type fakeSendStream struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (s *fakeSendStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}
func (s *fakeSendStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
func (s *fakeSendStream) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

type fakeReceiveStream struct{}

func (fakeReceiveStream) Read(p []byte) (int, error) { return 0, io.EOF }

type fakeSession struct {
	mu                sync.Mutex
	opened            []*fakeSendStream
	acceptImmediately bool
	closed            bool
	closeCode         uint64
	closeReason       string
}

func (f *fakeSession) OpenUniStream(ctx context.Context) (transport.SendStream, error) {
	s := &fakeSendStream{}
	f.mu.Lock()
	f.opened = append(f.opened, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeSession) AcceptUniStream(ctx context.Context) (transport.ReceiveStream, error) {
	if f.acceptImmediately {
		return fakeReceiveStream{}, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSession) CloseWithError(code uint64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCode = code
	f.closeReason = reason
	return nil
}

func (f *fakeSession) lastStream() *fakeSendStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.opened) == 0 {
		return nil
	}
	return f.opened[len(f.opened)-1]
}

// fakeControl is a Control whose reads block forever (no incoming
// messages) unless closed, and whose writes are captured for
// inspection.
type fakeControl struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
}

func newFakeControl() *fakeControl {
	pr, pw := io.Pipe()
	return &fakeControl{pr: pr, pw: pw}
}

func (c *fakeControl) Read(p []byte) (int, error) { return c.pr.Read(p) }
func (c *fakeControl) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written.Write(p)
}
func (c *fakeControl) close() { c.pw.Close() }
func (c *fakeControl) writtenMessages(t *testing.T) []moq.Any {
	t.Helper()
	c.mu.Lock()
	data := append([]byte(nil), c.written.Bytes()...)
	c.mu.Unlock()

	var msgs []moq.Any
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		m, err := moq.ReadMessage(r)
		if err != nil {
			t.Fatalf("decode written message: %v", err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func newTestPublisher(t *testing.T, sess *fakeSession, control *fakeControl, bcastSub *cache.BroadcastSubscriber) *Publisher {
	t.Helper()
	return New(sess, control, bcastSub, moq.DefaultExtensions(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRecvSubscribeProbeSendsObjectAndZeroPayload(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{}
	control := newFakeControl()
	defer control.close()
	_, bcastSub := cache.NewBroadcast("live")
	p := newTestPublisher(t, sess, control, bcastSub)

	ctx := context.Background()
	if err := p.recvSubscribe(ctx, moq.Subscribe{ID: 7, Name: ".probe:4096:1"}); err != nil {
		t.Fatalf("recvSubscribe: %v", err)
	}

	msgs := control.writtenMessages(t)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 written message (SubscribeOk), got %d", len(msgs))
	}
	ok, isOk := msgs[0].(moq.SubscribeOk)
	if !isOk || ok.ID != 7 || ok.Expires != 0 {
		t.Fatalf("message = %+v, want SubscribeOk{id:7, expires:0}", msgs[0])
	}

	// sendProbe runs in its own goroutine; give it a moment to finish.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s := sess.lastStream(); s != nil && len(s.bytes()) >= 4096 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	stream := sess.lastStream()
	if stream == nil {
		t.Fatal("probe never opened a uni stream")
	}
	written := stream.bytes()
	if len(written) < 4096 {
		t.Fatalf("probe wrote %d bytes, want at least 4096 payload bytes", len(written))
	}

	r := bytes.NewReader(written)
	if _, _, err := wire.Decode(r); err != nil { // track
		t.Fatalf("decode track: %v", err)
	}
	if _, _, err := wire.Decode(r); err != nil { // group
		t.Fatalf("decode group: %v", err)
	}
	var priorityBuf [4]byte
	if _, err := io.ReadFull(r, priorityBuf[:]); err != nil {
		t.Fatalf("read priority: %v", err)
	}
	if priority := binary.BigEndian.Uint32(priorityBuf[:]); priority != 1 {
		t.Fatalf("priority = %d, want 1 (in-band object header field)", priority)
	}
	if payload := written[len(written)-4096:]; !bytes.Equal(payload, make([]byte, 4096)) {
		t.Fatal("probe payload is not 4096 zero bytes")
	}
}

func TestRecvSubscribeDuplicateIsFatal(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{}
	control := newFakeControl()
	defer control.close()
	bcastPub, bcastSub := cache.NewBroadcast("live")
	if _, err := bcastPub.CreateTrack("video"); err != nil {
		t.Fatalf("CreateTrack: %v", err)
	}
	p := newTestPublisher(t, sess, control, bcastSub)

	ctx := context.Background()
	p.mu.Lock()
	p.subs[5] = func() {}
	p.mu.Unlock()

	err := p.recvSubscribe(ctx, moq.Subscribe{ID: 5, Name: "video"})
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindDuplicate || !se.Fatal() {
		t.Fatalf("err = %v, want fatal Duplicate", err)
	}
}

func TestRecvUnsubscribeCancelsAndResets(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{}
	control := newFakeControl()
	defer control.close()
	_, bcastSub := cache.NewBroadcast("live")
	p := newTestPublisher(t, sess, control, bcastSub)

	canceled := false
	p.mu.Lock()
	p.subs[3] = func() { canceled = true }
	p.mu.Unlock()

	if err := p.recvUnsubscribe(moq.Unsubscribe{ID: 3}); err != nil {
		t.Fatalf("recvUnsubscribe: %v", err)
	}
	if !canceled {
		t.Fatal("expected cancel func to be called")
	}
	p.mu.Lock()
	_, stillPresent := p.subs[3]
	p.mu.Unlock()
	if stillPresent {
		t.Fatal("subscription should be removed from the map")
	}

	msgs := control.writtenMessages(t)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 written message, got %d", len(msgs))
	}
	reset, isReset := msgs[0].(moq.SubscribeReset)
	if !isReset || reset.ID != 3 {
		t.Fatalf("message = %+v, want SubscribeReset{id:3}", msgs[0])
	}
}

func TestRunClosesOnPeerOpenedUniStream(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{acceptImmediately: true}
	control := newFakeControl()
	defer control.close()
	_, bcastSub := cache.NewBroadcast("live")
	p := newTestPublisher(t, sess, control, bcastSub)

	err := p.Run(context.Background())
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindRoleViolation {
		t.Fatalf("err = %v, want RoleViolation", err)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.closed || sess.closeCode != se.Code() {
		t.Fatalf("session not closed with role violation code: closed=%v code=%d", sess.closed, sess.closeCode)
	}
}

func TestRunClosesWhenBroadcastCloses(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{}
	control := newFakeControl()
	defer control.close()
	bcastPub, bcastSub := cache.NewBroadcast("live")
	p := newTestPublisher(t, sess, control, bcastSub)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	bcastPub.Close(cache.ErrStop)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after broadcast close")
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.closed || sess.closeCode != cache.ErrStop.Code() {
		t.Fatalf("session not closed with broadcast's close code: closed=%v code=%d", sess.closed, sess.closeCode)
	}
}

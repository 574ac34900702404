package transport

import (
	"context"
	"fmt"

	"github.com/quic-go/webtransport-go"
)

// WebtransportSession adapts a *webtransport.Session to this package's
// narrow Session interface.
type WebtransportSession struct {
	sess *webtransport.Session
}

// NewWebtransportSession wraps an already-upgraded WebTransport session.
func NewWebtransportSession(sess *webtransport.Session) *WebtransportSession {
	return &WebtransportSession{sess: sess}
}

func (w *WebtransportSession) OpenUniStream(ctx context.Context) (SendStream, error) {
	s, err := w.sess.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: open uni stream: %w", err)
	}
	return s, nil
}

func (w *WebtransportSession) AcceptUniStream(ctx context.Context) (ReceiveStream, error) {
	s, err := w.sess.AcceptUniStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: accept uni stream: %w", err)
	}
	return s, nil
}

func (w *WebtransportSession) CloseWithError(code uint64, reason string) error {
	return w.sess.CloseWithError(webtransport.SessionErrorCode(code), reason)
}

// OpenControlStream opens the bidirectional stream used as this
// session's moq control channel. Negotiating which stream plays this
// role (and the publisher-role handshake itself) is the external setup
// collaborator's job; this helper only performs the mechanical open.
func OpenControlStream(ctx context.Context, sess *webtransport.Session) (Control, error) {
	s, err := sess.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: open control stream: %w", err)
	}
	return s, nil
}

// AcceptControlStream accepts the peer-opened bidirectional stream used
// as this session's moq control channel.
func AcceptControlStream(ctx context.Context, sess *webtransport.Session) (Control, error) {
	s, err := sess.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: accept control stream: %w", err)
	}
	return s, nil
}

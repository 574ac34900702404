package moq

import (
	"bytes"
	"fmt"
	"io"

	"github.com/arcspire/moqpub/wire"
)

// ReadControlMsg reads one framed control message from r: a varint type
// tag, a varint payload length, then the payload itself. It mirrors the
// teacher's internal/moq/control.go framing, adapted to a varint length
// instead of a fixed uint16 so it composes with the rest of this wire
// format.
func ReadControlMsg(r io.Reader) (msgType wire.VarInt, payload []byte, err error) {
	msgType, _, err = wire.Decode(r)
	if err != nil {
		return 0, nil, fmt.Errorf("moq: read message type: %w", err)
	}
	length, _, err := wire.Decode(r)
	if err != nil {
		return 0, nil, fmt.Errorf("moq: read message length: %w", err)
	}
	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("moq: read message payload: %w", err)
	}
	return msgType, payload, nil
}

// WriteControlMsg frames and writes one control message to w.
func WriteControlMsg(w io.Writer, msgType wire.VarInt, payload []byte) error {
	buf := wire.Encode(nil, msgType)
	buf = wire.Encode(buf, wire.VarInt(len(payload)))
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// Any is the set of message types ReadMessage can decode.
type Any interface {
	isMessage()
}

func (Subscribe) isMessage()      {}
func (SubscribeOk) isMessage()    {}
func (SubscribeReset) isMessage() {}
func (Unsubscribe) isMessage()    {}
func (AnnounceOk) isMessage()     {}
func (AnnounceError) isMessage()  {}

// ReadMessage reads and decodes one control message from r.
func ReadMessage(r io.Reader) (Any, error) {
	msgType, payload, err := ReadControlMsg(r)
	if err != nil {
		return nil, err
	}
	p := &payloadReader{r: bytes.NewReader(payload)}

	switch msgType {
	case MsgSubscribe:
		return decodeSubscribe(p)
	case MsgSubscribeOk:
		return decodeSubscribeOk(p)
	case MsgSubscribeReset:
		return decodeSubscribeReset(p)
	case MsgUnsubscribe:
		return decodeUnsubscribe(p)
	case MsgAnnounceOk:
		return decodeAnnounceOk(p)
	case MsgAnnounceError:
		return decodeAnnounceError(p)
	default:
		return nil, fmt.Errorf("moq: unknown message type %d", msgType)
	}
}

// WriteMessage encodes and writes msg to w.
func WriteMessage(w io.Writer, msg Any) error {
	var msgType wire.VarInt
	var payload []byte

	switch m := msg.(type) {
	case Subscribe:
		msgType, payload = MsgSubscribe, m.Encode(nil)
	case SubscribeOk:
		msgType, payload = MsgSubscribeOk, m.Encode(nil)
	case SubscribeReset:
		msgType, payload = MsgSubscribeReset, m.Encode(nil)
	case Unsubscribe:
		msgType, payload = MsgUnsubscribe, m.Encode(nil)
	case AnnounceOk:
		msgType, payload = MsgAnnounceOk, m.Encode(nil)
	case AnnounceError:
		msgType, payload = MsgAnnounceError, m.Encode(nil)
	default:
		return fmt.Errorf("moq: unsupported message type %T", msg)
	}
	return WriteControlMsg(w, msgType, payload)
}

// payloadReader decodes fields sequentially from a message's payload.
type payloadReader struct {
	r *bytes.Reader
}

func (p *payloadReader) varint() (wire.VarInt, error) {
	v, _, err := wire.Decode(p.r)
	return v, err
}

func (p *payloadReader) str() (string, error) {
	length, err := p.varint()
	if err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

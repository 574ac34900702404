// Package moq implements the MoQ Transport control-channel wire format
// used by this publisher: the framed message codec (adapted from the
// teacher's internal/moq/control.go) restricted to the message set
// spec.md §4.D names, plus the Object header encoding used on every
// unidirectional data stream (spec.md §4.E).
package moq

import (
	"fmt"

	"github.com/arcspire/moqpub/wire"
)

// Message type tags. Values are this repo's own assignment (the older,
// pre-draft-15 message set spec.md specifies), not draft-15's.
const (
	MsgSubscribe      = wire.VarInt(0x01)
	MsgSubscribeOk    = wire.VarInt(0x02)
	MsgSubscribeReset = wire.VarInt(0x03)
	MsgUnsubscribe    = wire.VarInt(0x04)
	MsgAnnounceOk     = wire.VarInt(0x05)
	MsgAnnounceError  = wire.VarInt(0x06)
)

// Subscribe requests a track by name, optionally scoped to a namespace.
// A non-zero SwitchTrackID names a prior subscription (by id) that this
// one replaces; see spec.md §4.E switch semantics.
type Subscribe struct {
	ID            wire.VarInt
	Namespace     string
	Name          string
	SwitchTrackID wire.VarInt
}

// SubscribeOk acknowledges a Subscribe. Expires is always zero on this
// publisher (spec.md §4.E: every reply uses expires=0).
type SubscribeOk struct {
	ID      wire.VarInt
	Expires wire.VarInt
}

// SubscribeReset tears down a subscription, carrying a CodedError's code
// and reason plus the final group/object delivered (both zero when none
// were).
type SubscribeReset struct {
	ID          wire.VarInt
	Code        wire.VarInt
	Reason      string
	FinalGroup  wire.VarInt
	FinalObject wire.VarInt
}

// Unsubscribe cancels a prior Subscribe by id.
type Unsubscribe struct {
	ID wire.VarInt
}

// AnnounceOk and AnnounceError are received, never sent, by this
// publisher core: it never announces anything itself (spec.md's
// Non-goals exclude server-initiated ANNOUNCE), so any incoming
// AnnounceOk/AnnounceError is unexpected and handled as NotFound by the
// session layer.
type AnnounceOk struct {
	Namespace string
}

type AnnounceError struct {
	Namespace string
	Code      wire.VarInt
	Reason    string
}

// Encode appends the wire encoding of each message to buf.

func (m Subscribe) Encode(buf []byte) []byte {
	buf = wire.Encode(buf, m.ID)
	buf = wire.AppendString(buf, m.Namespace)
	buf = wire.AppendString(buf, m.Name)
	buf = wire.Encode(buf, m.SwitchTrackID)
	return buf
}

func (m SubscribeOk) Encode(buf []byte) []byte {
	buf = wire.Encode(buf, m.ID)
	buf = wire.Encode(buf, m.Expires)
	return buf
}

func (m SubscribeReset) Encode(buf []byte) []byte {
	buf = wire.Encode(buf, m.ID)
	buf = wire.Encode(buf, m.Code)
	buf = wire.AppendString(buf, m.Reason)
	buf = wire.Encode(buf, m.FinalGroup)
	buf = wire.Encode(buf, m.FinalObject)
	return buf
}

func (m Unsubscribe) Encode(buf []byte) []byte {
	return wire.Encode(buf, m.ID)
}

func (m AnnounceOk) Encode(buf []byte) []byte {
	return wire.AppendString(buf, m.Namespace)
}

func (m AnnounceError) Encode(buf []byte) []byte {
	buf = wire.AppendString(buf, m.Namespace)
	buf = wire.Encode(buf, m.Code)
	buf = wire.AppendString(buf, m.Reason)
	return buf
}

// decode helpers operate on a payload byte slice already delimited by
// the outer frame (see ReadMessage), so they never need to detect
// end-of-message themselves.

func decodeSubscribe(p *payloadReader) (Subscribe, error) {
	var m Subscribe
	var err error
	if m.ID, err = p.varint(); err != nil {
		return m, fmt.Errorf("moq: subscribe.id: %w", err)
	}
	if m.Namespace, err = p.str(); err != nil {
		return m, fmt.Errorf("moq: subscribe.namespace: %w", err)
	}
	if m.Name, err = p.str(); err != nil {
		return m, fmt.Errorf("moq: subscribe.name: %w", err)
	}
	if m.SwitchTrackID, err = p.varint(); err != nil {
		return m, fmt.Errorf("moq: subscribe.switch_track_id: %w", err)
	}
	return m, nil
}

func decodeSubscribeOk(p *payloadReader) (SubscribeOk, error) {
	var m SubscribeOk
	var err error
	if m.ID, err = p.varint(); err != nil {
		return m, err
	}
	if m.Expires, err = p.varint(); err != nil {
		return m, err
	}
	return m, nil
}

func decodeSubscribeReset(p *payloadReader) (SubscribeReset, error) {
	var m SubscribeReset
	var err error
	if m.ID, err = p.varint(); err != nil {
		return m, err
	}
	if m.Code, err = p.varint(); err != nil {
		return m, err
	}
	if m.Reason, err = p.str(); err != nil {
		return m, err
	}
	if m.FinalGroup, err = p.varint(); err != nil {
		return m, err
	}
	if m.FinalObject, err = p.varint(); err != nil {
		return m, err
	}
	return m, nil
}

func decodeUnsubscribe(p *payloadReader) (Unsubscribe, error) {
	var m Unsubscribe
	var err error
	if m.ID, err = p.varint(); err != nil {
		return m, err
	}
	return m, nil
}

func decodeAnnounceOk(p *payloadReader) (AnnounceOk, error) {
	var m AnnounceOk
	var err error
	if m.Namespace, err = p.str(); err != nil {
		return m, err
	}
	return m, nil
}

func decodeAnnounceError(p *payloadReader) (AnnounceError, error) {
	var m AnnounceError
	var err error
	if m.Namespace, err = p.str(); err != nil {
		return m, err
	}
	if m.Code, err = p.varint(); err != nil {
		return m, err
	}
	if m.Reason, err = p.str(); err != nil {
		return m, err
	}
	return m, nil
}

package moq

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/arcspire/moqpub/wire"
)

func roundTrip(t *testing.T, msg Any) Any {
	t.Helper()
	var buf bytes.Buffer
	if err := WriteMessage(&buf, msg); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return got
}

func TestSubscribeRoundTrip(t *testing.T) {
	t.Parallel()
	want := Subscribe{ID: 7, Namespace: "", Name: "video", SwitchTrackID: 3}
	got := roundTrip(t, want)
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestSubscribeOkRoundTrip(t *testing.T) {
	t.Parallel()
	want := SubscribeOk{ID: 7, Expires: 0}
	got := roundTrip(t, want)
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestSubscribeResetRoundTrip(t *testing.T) {
	t.Parallel()
	want := SubscribeReset{ID: 7, Code: 2, Reason: "closed", FinalGroup: 0, FinalObject: 0}
	got := roundTrip(t, want)
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestUnsubscribeRoundTrip(t *testing.T) {
	t.Parallel()
	want := Unsubscribe{ID: 9}
	got := roundTrip(t, want)
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestAnnounceOkRoundTrip(t *testing.T) {
	t.Parallel()
	want := AnnounceOk{Namespace: "live"}
	got := roundTrip(t, want)
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestAnnounceErrorRoundTrip(t *testing.T) {
	t.Parallel()
	want := AnnounceError{Namespace: "live", Code: 1, Reason: "duplicate"}
	got := roundTrip(t, want)
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestReadMessageUnknownType(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := WriteControlMsg(&buf, wire.VarInt(0xff), nil); err != nil {
		t.Fatalf("WriteControlMsg: %v", err)
	}
	if _, err := ReadMessage(&buf); err == nil {
		t.Fatal("expected error decoding unknown message type")
	}
}

func TestObjectEncodeOmitsUnnegotiatedFields(t *testing.T) {
	t.Parallel()
	o := Object{Track: 1, Group: 2, Priority: 3, Sequence: 4, NtpTimestamp: 5, Size: 6}

	full := o.Encode(nil, DefaultExtensions())
	bare := o.Encode(nil, Extensions{})

	if len(bare) >= len(full) {
		t.Fatalf("bare encoding (%d bytes) should be shorter than full (%d bytes)", len(bare), len(full))
	}
}

func TestObjectEncodeWithExpires(t *testing.T) {
	t.Parallel()
	o := Object{Track: 1, Group: 0, Priority: 0, Sequence: 0, HasExpires: true, Expires: 10000}
	buf := o.Encode(nil, Extensions{})
	if len(buf) == 0 {
		t.Fatal("expected non-empty encoding")
	}
}

func TestObjectEncodePriorityIsFixedWidth(t *testing.T) {
	t.Parallel()
	o := Object{Track: 0, Group: 0, Priority: 0xdeadbeef, Sequence: 0}
	buf := o.Encode(nil, Extensions{})

	r := bytes.NewReader(buf)
	if _, _, err := wire.Decode(r); err != nil { // track
		t.Fatalf("decode track: %v", err)
	}
	if _, _, err := wire.Decode(r); err != nil { // group
		t.Fatalf("decode group: %v", err)
	}

	var priorityBuf [4]byte
	if _, err := r.Read(priorityBuf[:]); err != nil {
		t.Fatalf("read priority: %v", err)
	}
	if got := binary.BigEndian.Uint32(priorityBuf[:]); got != 0xdeadbeef {
		t.Fatalf("priority = %#x, want %#x", got, uint32(0xdeadbeef))
	}
}

func TestObjectEncodeNoExpiryIsZeroVarInt(t *testing.T) {
	t.Parallel()
	withExpires := Object{Track: 1, Group: 2, Priority: 3, Sequence: 4, HasExpires: true, Expires: 10000}
	withoutExpires := Object{Track: 1, Group: 2, Priority: 3, Sequence: 4, HasExpires: false, Expires: 10000}

	bufWith := withExpires.Encode(nil, Extensions{})
	bufWithout := withoutExpires.Encode(nil, Extensions{})

	skipHeader := func(buf []byte) []byte {
		r := bytes.NewReader(buf)
		for i := 0; i < 2; i++ { // track, group
			if _, _, err := wire.Decode(r); err != nil {
				t.Fatalf("decode: %v", err)
			}
		}
		rest := make([]byte, r.Len())
		if _, err := r.Read(rest); err != nil {
			t.Fatalf("read rest: %v", err)
		}
		return rest[4:] // skip fixed-width priority
	}

	expiresWith, _, err := wire.Decode(bytes.NewReader(skipHeader(bufWith)))
	if err != nil {
		t.Fatalf("decode expires (with): %v", err)
	}
	if expiresWith != 10000 {
		t.Fatalf("expires = %d, want 10000", expiresWith)
	}

	expiresWithout, _, err := wire.Decode(bytes.NewReader(skipHeader(bufWithout)))
	if err != nil {
		t.Fatalf("decode expires (without): %v", err)
	}
	if expiresWithout != 0 {
		t.Fatalf("expires = %d, want 0 (no flag byte, zero means none)", expiresWithout)
	}
}

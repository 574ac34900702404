package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []uint64{0, 63, 64, 16383, 16384, 1<<30 - 1, 1 << 30, MaxVarInt}
	for _, v := range cases {
		buf, err := EncodeValue(v)
		if err != nil {
			t.Fatalf("EncodeValue(%d): %v", v, err)
		}
		got, n, err := Decode(bytes.NewReader(buf))
		if err != nil {
			t.Fatalf("Decode(%d): %v", v, err)
		}
		if uint64(got) != v {
			t.Fatalf("round trip = %d, want %d", got, v)
		}
		if n != len(buf) {
			t.Fatalf("bytes read = %d, want %d", n, len(buf))
		}
	}
}

func TestEncodeBoundsExceeded(t *testing.T) {
	t.Parallel()
	_, err := EncodeValue(uint64(1) << 62)
	if !errors.Is(err, ErrBoundsExceeded) {
		t.Fatalf("err = %v, want ErrBoundsExceeded", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	t.Parallel()
	// A first byte tagged for a 4-byte encoding (0x80) with no continuation.
	_, _, err := Decode(bytes.NewReader([]byte{0x7f + 1}))
	if err == nil {
		t.Fatal("expected error on truncated varint")
	}
}

func TestDecodeEmpty(t *testing.T) {
	t.Parallel()
	_, _, err := Decode(bytes.NewReader(nil))
	if err == nil {
		t.Fatal("expected error on empty input")
	}
}

package wire

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/orizon-lang/litebus/internal/aid"
	"github.com/orizon-lang/litebus/internal/message"
)

func mustAID(t *testing.T, s string) aid.AID {
	t.Helper()

	a, err := aid.New(s)
	if err != nil {
		t.Fatalf("aid.New(%q): %v", s, err)
	}

	return a
}

func testMessage(t *testing.T) *message.Message {
	t.Helper()

	from := mustAID(t, "testserver@tcp://127.0.0.1:2223")
	to := mustAID(t, "testserver@tcp://127.0.0.1:2225")

	return message.New(from, to, "testname", bytes.Repeat([]byte("A"), 100))
}

func TestRoundTripWholeFrame(t *testing.T) {
	m := testMessage(t)

	bufs, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}

	var flat []byte
	for _, b := range bufs {
		flat = append(flat, b...)
	}

	d := NewDecoder()

	out, err := d.Feed(flat)
	if err != nil {
		t.Fatal(err)
	}

	if len(out) != 1 {
		t.Fatalf("got %d messages, want 1", len(out))
	}

	if !out[0].Equal(m) {
		t.Errorf("decoded message differs: got %+v, want %+v", out[0], m)
	}
}

func TestRoundTripChunked(t *testing.T) {
	m := testMessage(t)

	bufs, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}

	var flat []byte
	for _, b := range bufs {
		flat = append(flat, b...)
	}

	d := NewDecoder()

	var got []*message.Message
	// Feed one byte at a time to exercise partial-header and partial-body
	// resumption.
	for i := 0; i < len(flat); i++ {
		out, err := d.Feed(flat[i : i+1])
		if err != nil {
			t.Fatal(err)
		}

		got = append(got, out...)
	}

	if len(got) != 1 || !got[0].Equal(m) {
		t.Fatalf("chunked decode mismatch: %+v", got)
	}
}

func TestTwoFramesBackToBackPreserveOrder(t *testing.T) {
	from := mustAID(t, "a@tcp://127.0.0.1:1")
	to := mustAID(t, "b@tcp://127.0.0.1:2")
	m1 := message.New(from, to, "first", []byte("one"))
	m2 := message.New(from, to, "second", []byte("two"))

	var flat []byte
	for _, m := range []*message.Message{m1, m2} {
		bufs, err := Encode(m)
		if err != nil {
			t.Fatal(err)
		}

		for _, b := range bufs {
			flat = append(flat, b...)
		}
	}

	d := NewDecoder()

	out, err := d.Feed(flat)
	if err != nil {
		t.Fatal(err)
	}

	if len(out) != 2 || out[0].Name != "first" || out[1].Name != "second" {
		t.Fatalf("order not preserved: %+v", out)
	}
}

func TestOversizeNameRejected(t *testing.T) {
	m := testMessage(t)
	m.Name = strings.Repeat("x", MaxNameLen+1)

	if _, err := Encode(m); !errors.Is(err, ErrOversize) {
		t.Fatalf("Encode oversize name: got %v, want ErrOversize", err)
	}
}

func TestOversizeBodyDetectedFromHeaderAlone(t *testing.T) {
	hdr := make([]byte, HeaderSize)
	copy(hdr[0:4], Magic)
	// name/to/from/sig all zero, body absurdly large
	hdr[20] = 0xFF
	hdr[21] = 0xFF
	hdr[22] = 0xFF
	hdr[23] = 0xFF

	d := NewDecoder()

	_, err := d.Feed(hdr)
	if !errors.Is(err, ErrOversize) {
		t.Fatalf("got %v, want ErrOversize", err)
	}
}

func TestBadMagicRejected(t *testing.T) {
	d := NewDecoder()

	frame := append([]byte("NOPE"), make([]byte, HeaderSize-4)...)

	_, err := d.Feed(frame)
	if err != ErrBadMagic {
		t.Fatalf("got %v, want ErrBadMagic", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		peek []byte
		want Protocol
	}{
		{[]byte("BUS0xxxx"), ProtoKMSG},
		{[]byte("HTTP/1.1"), ProtoHTTPResponse},
		{[]byte("GET /x HTTP/1.1"), ProtoHTTPRequest},
		{[]byte("BU"), ProtoUnknown},
	}

	for _, c := range cases {
		if got := Classify(c.peek); got != c.want {
			t.Errorf("Classify(%q) = %v, want %v", c.peek, got, c.want)
		}
	}
}

func TestBadAddressAfterReassemblyRejected(t *testing.T) {
	// Hand-craft a frame whose "to" field is not a valid AID.
	name := []byte("n")
	to := []byte("not-an-aid")
	from := []byte("a@tcp://127.0.0.1:1")
	sig := []byte(message.DefaultSignature)
	body := []byte{}

	hdr := make([]byte, HeaderSize)
	copy(hdr[0:4], Magic)
	putU32 := func(off int, v int) {
		hdr[off] = byte(v >> 24)
		hdr[off+1] = byte(v >> 16)
		hdr[off+2] = byte(v >> 8)
		hdr[off+3] = byte(v)
	}
	putU32(4, len(name))
	putU32(8, len(to))
	putU32(12, len(from))
	putU32(16, len(sig))
	putU32(20, len(body))

	flat := append(hdr, name...)
	flat = append(flat, to...)
	flat = append(flat, from...)
	flat = append(flat, sig...)
	flat = append(flat, body...)

	d := NewDecoder()

	_, err := d.Feed(flat)
	if err == nil {
		t.Fatal("expected error for invalid address, got nil")
	}
}

package litebus

import (
	"testing"
	"time"
)

// TestBusInitStopIdempotent exercises the glue component's lifecycle
// contract: Init and Stop may each be called more than once without
// starting a second set of goroutines or panicking on double-close.
func TestBusInitStopIdempotent(t *testing.T) {
	t.Setenv("LITEBUS_TLS_CERT_FILE", "")
	t.Setenv("LITEBUS_TLS_KEY_FILE", "")

	b, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := b.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := b.Init(); err != nil {
		t.Fatalf("second Init returned an error: %v", err)
	}

	b.Stop()
	b.Stop()
}

// TestBusSendRoundTrip exercises the public façade end to end: two Bus
// instances, a StartServer each, and a Send observed by the receiver's
// registered handler.
func TestBusSendRoundTrip(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New a: %v", err)
	}

	if err := a.Init(); err != nil {
		t.Fatalf("Init a: %v", err)
	}

	t.Cleanup(a.Stop)

	b, err := New()
	if err != nil {
		t.Fatalf("New b: %v", err)
	}

	if err := b.Init(); err != nil {
		t.Fatalf("Init b: %v", err)
	}

	t.Cleanup(b.Stop)

	inbound := make(chan *Message, 4)
	b.RegisterMsgHandler(func(m *Message) { inbound <- m })

	if err := a.StartServer("tcp://127.0.0.1:0", "", "a"); err != nil {
		t.Fatalf("StartServer a: %v", err)
	}

	if err := b.StartServer("tcp://127.0.0.1:0", "", "b"); err != nil {
		t.Fatalf("StartServer b: %v", err)
	}

	aSelf, err := ParseAID("a@tcp://" + addrOf(t, a))
	if err != nil {
		t.Fatalf("ParseAID a: %v", err)
	}

	bSelf, err := ParseAID("b@tcp://" + addrOf(t, b))
	if err != nil {
		t.Fatalf("ParseAID b: %v", err)
	}

	msg := NewMessage(aSelf, bSelf, "hello", []byte("payload"))

	if outcome := a.Send(msg, false, false); outcome != SendQueued {
		t.Fatalf("expected SendQueued, got %v", outcome)
	}

	select {
	case got := <-inbound:
		if got.Name != "hello" || string(got.Body) != "payload" {
			t.Fatalf("unexpected message: %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func addrOf(t *testing.T, b *Bus) string {
	t.Helper()

	addr := b.transport.ListenerAddr()
	if addr == "" {
		t.Fatal("bus has no listener address")
	}

	return addr
}

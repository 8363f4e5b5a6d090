package conn

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/orizon-lang/litebus/internal/aid"
	"github.com/orizon-lang/litebus/internal/message"
	"github.com/orizon-lang/litebus/internal/socket"
)

func mustAID(t *testing.T, s string) aid.AID {
	t.Helper()

	a, err := aid.New(s)
	if err != nil {
		t.Fatalf("aid.New(%q): %v", s, err)
	}

	return a
}

func TestSendThenReceiveRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	from := mustAID(t, "alice@tcp://127.0.0.1:1111")
	to := mustAID(t, "bob@tcp://127.0.0.1:2222")

	sender := New(1, socket.NewPlain(client), from, to, false)
	receiver := New(2, socket.NewPlain(server), to, from, true)

	sender.Enqueue(message.New(from, to, "greet", []byte("hello")))

	done := make(chan struct{})

	go func() {
		defer close(done)

		deadline := time.Now().Add(2 * time.Second)

		for time.Now().Before(deadline) {
			res, err := sender.TrySend()
			if err != nil {
				t.Errorf("TrySend: %v", err)

				return
			}

			if res == SendIdle {
				return
			}
		}
	}()

	r := bufio.NewReader(server)

	var got []*message.Message

	deadline := time.Now().Add(2 * time.Second)

	for len(got) == 0 && time.Now().Before(deadline) {
		msgs, err := receiver.ReceiveReady(r)
		if err != nil {
			t.Fatalf("ReceiveReady: %v", err)
		}

		got = append(got, msgs...)

		if len(got) == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}

	<-done

	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}

	if got[0].Name != "greet" || string(got[0].Body) != "hello" {
		t.Errorf("unexpected message: %+v", got[0])
	}
}

func TestAcceptedConnectionAdoptsToFromFirstMessage(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	from := mustAID(t, "alice@tcp://127.0.0.1:1111")
	to := mustAID(t, "bob@tcp://127.0.0.1:2222")

	sender := New(1, socket.NewPlain(client), from, to, false)
	receiver := New(2, socket.NewPlain(server), aid.AID{}, aid.AID{}, true)

	sender.Enqueue(message.New(from, to, "hi", nil))

	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			res, _ := sender.TrySend()
			if res == SendIdle {
				return
			}
		}
	}()

	r := bufio.NewReader(server)

	deadline := time.Now().Add(2 * time.Second)

	for time.Now().Before(deadline) {
		msgs, err := receiver.ReceiveReady(r)
		if err != nil {
			t.Fatalf("ReceiveReady: %v", err)
		}

		if len(msgs) > 0 {
			if receiver.To.IsZero() {
				t.Error("expected receiver.To to be adopted from first message")
			}

			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("never received the first message")
}

func TestQueueLenReflectsEnqueue(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	from := mustAID(t, "alice@tcp://127.0.0.1:1111")
	to := mustAID(t, "bob@tcp://127.0.0.1:2222")

	c := New(1, socket.NewPlain(client), from, to, false)
	if c.QueueLen() != 0 {
		t.Fatalf("expected empty queue")
	}

	c.Enqueue(message.New(from, to, "x", nil))

	if c.QueueLen() != 1 {
		t.Fatalf("expected 1 queued message, got %d", c.QueueLen())
	}
}

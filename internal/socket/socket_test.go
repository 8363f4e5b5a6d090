package socket

import (
	"net"
	"testing"
	"time"
)

func TestPlainSocketRecvReturnsZeroOnWouldBlock(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	s := NewPlain(server)

	buf := make([]byte, 4)

	n, err := s.Recv(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n != 0 {
		t.Fatalf("expected 0 (would-block), got %d", n)
	}
}

func TestPlainSocketRecvReturnsData(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	s := NewPlain(server)

	go func() { _, _ = client.Write([]byte("hi")) }()

	buf := make([]byte, 4)

	deadline := time.Now().Add(time.Second)

	for time.Now().Before(deadline) {
		n, err := s.Recv(buf)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if n > 0 {
			if string(buf[:n]) != "hi" {
				t.Fatalf("got %q, want %q", buf[:n], "hi")
			}

			return
		}
	}

	t.Fatal("never observed written data")
}

func TestPlainSocketSendMsg(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	s := NewPlain(client)

	readDone := make(chan []byte, 1)

	go func() {
		buf := make([]byte, 8)
		n, _ := server.Read(buf)
		readDone <- buf[:n]
	}()

	bufs := net.Buffers{[]byte("ab"), []byte("cd")}

	deadline := time.Now().Add(time.Second)

	var sent int64

	for time.Now().Before(deadline) && sent == 0 {
		n, err := s.SendMsg(bufs)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		sent = n
	}

	select {
	case got := <-readDone:
		if string(got) != "abcd" {
			t.Fatalf("got %q, want %q", got, "abcd")
		}
	case <-time.After(time.Second):
		t.Fatal("server never observed the write")
	}
}

func TestParseURLSplitsScheme(t *testing.T) {
	cases := []struct {
		in        string
		wantProto string
		wantRest  string
	}{
		{"tcp://127.0.0.1:9000", "tcp", "127.0.0.1:9000"},
		{"127.0.0.1:9000", "tcp", "127.0.0.1:9000"},
		{"udp://host:1", "udp", "host:1"},
	}

	for _, c := range cases {
		proto, rest, err := ParseURL(c.in)
		if err != nil {
			t.Fatalf("ParseURL(%q): %v", c.in, err)
		}

		if proto != c.wantProto || rest != c.wantRest {
			t.Errorf("ParseURL(%q) = (%q,%q), want (%q,%q)", c.in, proto, rest, c.wantProto, c.wantRest)
		}
	}
}

func TestParseURLRejectsEmpty(t *testing.T) {
	if _, _, err := ParseURL(""); err == nil {
		t.Error("expected error for empty url")
	}
}

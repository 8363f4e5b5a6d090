package aid

import "testing"

func TestNewValid(t *testing.T) {
	cases := []struct {
		in       string
		wantURL  string
		wantProto Protocol
	}{
		{"svc@127.0.0.1:2223", "127.0.0.1:2223", ProtoTCP},
		{"svc@tcp://127.0.0.1:2223", "127.0.0.1:2223", ProtoTCP},
		{"svc@udp://127.0.0.1:9000", "udp://127.0.0.1:9000", ProtoUDP},
		{"svc@[::1]:2223", "[::1]:2223", ProtoTCP},
	}

	for _, c := range cases {
		a, err := New(c.in)
		if err != nil {
			t.Fatalf("New(%q): %v", c.in, err)
		}

		if a.URL() != c.wantURL {
			t.Errorf("New(%q).URL() = %q, want %q", c.in, a.URL(), c.wantURL)
		}

		if a.GetProtocol() != c.wantProto {
			t.Errorf("New(%q).GetProtocol() = %q, want %q", c.in, a.GetProtocol(), c.wantProto)
		}

		if !a.OK() {
			t.Errorf("New(%q).OK() = false, want true", c.in)
		}
	}
}

func TestNewInvalid(t *testing.T) {
	cases := []string{
		"",
		"noat",
		"@127.0.0.1:2223",
		"svc@",
		"svc@127.0.0.1",
		"svc@127.0.0.1:70000",
		"svc@sctp://127.0.0.1:2223",
	}

	for _, in := range cases {
		if _, err := New(in); err == nil {
			t.Errorf("New(%q) succeeded, want error", in)
		}
	}
}

func TestHashStringRoundTrip(t *testing.T) {
	a, err := FromParts("svc", "tcp://127.0.0.1:2223")
	if err != nil {
		t.Fatal(err)
	}

	if got, want := a.HashString(), "svc@127.0.0.1:2223"; got != want {
		t.Errorf("HashString() = %q, want %q", got, want)
	}
}

func TestEqual(t *testing.T) {
	a, _ := FromParts("svc", "tcp://127.0.0.1:2223")
	b, _ := FromParts("svc", "127.0.0.1:2223")
	c, _ := FromParts("svc", "127.0.0.1:2224")

	if !a.Equal(b) {
		t.Errorf("expected %v to equal %v", a, b)
	}

	if a.Equal(c) {
		t.Errorf("expected %v to not equal %v", a, c)
	}
}

func TestOKRejectsZeroPort(t *testing.T) {
	var z AID
	if z.OK() {
		t.Errorf("zero AID.OK() = true, want false")
	}
}

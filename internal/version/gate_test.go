package version

import "testing"

func TestDefaultsAdmitDefaultPeer(t *testing.T) {
	g, err := NewGate("", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := g.Check(g.Signature(), "peer"); err != nil {
		t.Errorf("own signature rejected: %v", err)
	}
}

func TestOlderPeerRejected(t *testing.T) {
	g, err := NewGate("2.0.0", ">=2.0.0")
	if err != nil {
		t.Fatal(err)
	}

	if err := g.Check([]byte("litebus/1.0.0"), "peer"); err == nil {
		t.Error("expected rejection of older peer version")
	}
}

func TestNewerPeerAdmitted(t *testing.T) {
	g, err := NewGate("1.0.0", ">=1.0.0")
	if err != nil {
		t.Fatal(err)
	}

	if err := g.Check([]byte("litebus/1.4.2"), "peer"); err != nil {
		t.Errorf("newer peer rejected: %v", err)
	}
}

func TestUnversionedPeerAdmitted(t *testing.T) {
	g, err := NewGate("", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := g.Check(nil, "peer"); err != nil {
		t.Errorf("unversioned peer rejected: %v", err)
	}
}

func TestBadConstraintRejectedAtConstruction(t *testing.T) {
	if _, err := NewGate("1.0.0", "not-a-constraint"); err == nil {
		t.Error("expected error for malformed constraint")
	}
}

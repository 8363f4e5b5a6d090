package linkmgr

import (
	"net"
	"testing"
	"time"

	"github.com/orizon-lang/litebus/internal/aid"
	"github.com/orizon-lang/litebus/internal/conn"
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

func newTestConn(t *testing.T, key int64, from, to aid.AID, isRemote bool) *conn.Connection {
	t.Helper()

	server, _ := net.Pipe()
	t.Cleanup(func() { server.Close() })

	return conn.New(key, socket.NewPlain(server), from, to, isRemote)
}

func TestAddLinkAndFindLink(t *testing.T) {
	r := New(false)

	from := mustAID(t, "alice@tcp://127.0.0.1:1111")
	to := mustAID(t, "bob@tcp://127.0.0.1:2222")

	c := newTestConn(t, 1, from, to, false)
	r.AddLink(c)

	got := r.FindLink(to, false, false)
	if got != c {
		t.Fatal("FindLink did not return the added connection")
	}

	if r.FindLink(to, false, true) != c {
		t.Fatal("exactNotRemote lookup should also find a local-origin link")
	}
}

func TestFindLinkRemotePreferredFallsBackToLocal(t *testing.T) {
	r := New(false)

	from := mustAID(t, "alice@tcp://127.0.0.1:1111")
	to := mustAID(t, "bob@tcp://127.0.0.1:2222")

	local := newTestConn(t, 1, from, to, false)
	r.AddLink(local)

	if r.FindLink(to, true, false) != local {
		t.Fatal("expected fallback to local link when no remote link exists")
	}

	remote := newTestConn(t, 2, from, to, true)
	r.AddLink(remote)

	if r.FindLink(to, true, false) != remote {
		t.Fatal("expected remote-preferred lookup to return the remote link")
	}
}

func TestAddLinkClosesPriorConnectionUnderSameKey(t *testing.T) {
	r := New(false)

	from := mustAID(t, "alice@tcp://127.0.0.1:1111")
	to := mustAID(t, "bob@tcp://127.0.0.1:2222")

	first := newTestConn(t, 1, from, to, false)
	second := newTestConn(t, 2, from, to, false)

	r.AddLink(first)
	r.AddLink(second)

	if r.FindLink(to, false, false) != second {
		t.Fatal("expected second connection to win the slot")
	}

	if first.State() != conn.StateClosed {
		t.Fatalf("expected prior connection to be closed, got state %v", first.State())
	}
}

func TestDeleteLinkerSingleLinkModeNotifiesBothSides(t *testing.T) {
	r := New(false)

	from := mustAID(t, "alice@tcp://127.0.0.1:1111")
	to := mustAID(t, "bob@tcp://127.0.0.1:2222")

	local := newTestConn(t, 1, from, to, false)
	remote := newTestConn(t, 2, from, to, true)

	r.AddLink(local)
	r.AddLink(remote)

	var exitMsg, remoteExitMsg *message.Message

	r.AddLinker(local.Key, from, to, func(exit *message.Message) { exitMsg = exit })
	r.AddLinker(remote.Key, from, to, func(exit *message.Message) { remoteExitMsg = exit })

	r.DeleteLinker(to, 99)

	if exitMsg == nil {
		t.Fatal("expected linker callback to fire with a KEXIT message")
	}

	if remoteExitMsg == nil {
		t.Fatal("expected the remote side's linker callback to fire too")
	}

	if exitMsg.Type != message.KEXIT {
		t.Errorf("expected KEXIT type, got %v", exitMsg.Type)
	}

	if !local.IsExited() {
		t.Error("expected local connection to be marked exited")
	}

	if !remote.IsExited() {
		t.Error("expected remote connection to be marked exited")
	}
}

func TestRegisterPendingDoesNotCollideAcrossAnonymousAccepts(t *testing.T) {
	r := New(false)

	zero := aid.AID{}

	first := newTestConn(t, 1, zero, zero, true)
	second := newTestConn(t, 2, zero, zero, true)

	r.RegisterPending(first)
	r.RegisterPending(second)

	if first.State() == conn.StateClosed {
		t.Fatal("registering a second pending accept must not close the first")
	}

	to := mustAID(t, "bob@tcp://127.0.0.1:2222")
	from := mustAID(t, "alice@tcp://127.0.0.1:1111")
	first.To = to

	r.AddLink(first)

	if r.FindLink(to, true, false) != first {
		t.Fatal("AddLink after identity adoption should register under the real peer key")
	}

	_ = from
}

func TestRecycleIdleHTTPCapsAtTen(t *testing.T) {
	r := New(false)

	var timedOut []int64

	for i := int64(0); i < 15; i++ {
		from := mustAID(t, "a@tcp://127.0.0.1:1")
		to := mustAID(t, "b@tcp://127.0.0.1:2")
		c := newTestConn(t, i, from, to, true)
		// force idle by not touching; IdleSince starts at construction time
		r.RegisterHTTP(c)
	}

	time.Sleep(time.Millisecond) // let IdleSince accumulate beyond a zero period

	n := r.RecycleIdleHTTP(0, func(c *conn.Connection) {
		timedOut = append(timedOut, c.Key)
	})

	if n != recycleCapPerScan {
		t.Fatalf("expected exactly %d recycled, got %d", recycleCapPerScan, n)
	}
}

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tilesync/logging"
	"tilesync/protocol"
	"tilesync/server"
)

func startServer(t *testing.T) (*server.Session, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := server.NewSession(logging.Nop(), server.Options{TickInterval: 5 * time.Millisecond})
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	srv := httptest.NewServer(http.HandlerFunc(s.HandleWS))
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return s, "ws" + strings.TrimPrefix(srv.URL, "http")
}

type testPeer struct {
	client *Client
	conn   *Conn
	cancel context.CancelFunc
	errc   chan error
}

func connect(t *testing.T, url string, characterIndex int) *testPeer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	conn, err := Dial(ctx, url, logging.Nop())
	if err != nil {
		cancel()
		t.Fatalf("dial: %v", err)
	}
	p := &testPeer{
		client: New(logging.Nop(), conn, characterIndex, nil),
		conn:   conn,
		cancel: cancel,
		errc:   make(chan error, 1),
	}
	go func() { p.errc <- conn.Serve(ctx, p.client) }()
	t.Cleanup(p.close)
	return p
}

func (p *testPeer) close() {
	p.cancel()
	_ = p.conn.Close()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func othersOf(p *testPeer) []protocol.Generation { return generations(p.client.Others()) }

func TestTwoClientsSeeEachOtherMove(t *testing.T) {
	s, url := startServer(t)

	a := connect(t, url, 1)
	waitFor(t, "hello for a", func() bool { _, ok := a.client.Generation(); return ok })
	if n := len(a.client.Others()); n != 0 {
		t.Fatalf("first client roster has %d others", n)
	}

	b := connect(t, url, 2)
	waitFor(t, "hello for b", func() bool { _, ok := b.client.Generation(); return ok })
	genA, _ := a.client.Generation()
	genB, _ := b.client.Generation()
	if genA == genB {
		t.Fatalf("duplicate generation %d", genA)
	}

	waitFor(t, "a sees b", func() bool { o := othersOf(a); return len(o) == 1 && o[0] == genB })
	waitFor(t, "b sees a", func() bool { o := othersOf(b); return len(o) == 1 && o[0] == genA })
	if got := a.client.Others()[0].CharacterIndex; got != 2 {
		t.Fatalf("characterIndex of b = %d, want 2", got)
	}

	b.client.SetLocalPosition(48, 64)
	if sent, err := b.client.SendPlayerUpdate(); !sent || err != nil {
		t.Fatalf("SendPlayerUpdate = %v, %v", sent, err)
	}
	waitFor(t, "a receives b's position", func() bool {
		o := a.client.Others()
		return len(o) == 1 && o[0].TargetX == 48 && o[0].TargetY == 64
	})
	if x, y := b.client.LocalPosition(); x != 48 || y != 64 {
		t.Fatalf("b local position changed to (%v, %v)", x, y)
	}

	b.close()
	waitFor(t, "a sees b leave", func() bool { return len(a.client.Others()) == 0 })

	waitFor(t, "registry shrinks", func() bool {
		players, err := s.Players(context.Background())
		return err == nil && len(players) == 1
	})
	select {
	case err := <-a.errc:
		t.Fatalf("a's read loop exited: %v", err)
	default:
	}
}

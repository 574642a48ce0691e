package broadcast

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// dialTestWS creates a test HTTP server that upgrades to WebSocket and
// returns the server-side connection (grounded on mrf-agent-racer's
// broadcast_connlimit_test.go helper of the same name).
func dialTestWS(t *testing.T) (*httptest.Server, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	_ = clientConn.Close()

	select {
	case serverConn := <-connCh:
		return srv, serverConn
	case <-time.After(2 * time.Second):
		srv.Close()
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil, nil
	}
}

func TestJoin_MaxConnectionsPerRoom(t *testing.T) {
	const maxConns = 2
	b := New(zerolog.Nop(), maxConns)

	var servers []*httptest.Server
	var subs []*Subscriber
	for i := 0; i < maxConns; i++ {
		srv, conn := dialTestWS(t)
		servers = append(servers, srv)
		sub, err := b.Join("live", conn)
		if err != nil {
			t.Fatalf("Join[%d]: unexpected error: %v", i, err)
		}
		subs = append(subs, sub)
	}
	if got := b.SubscriberCount("live"); got != maxConns {
		t.Fatalf("expected %d subscribers, got %d", maxConns, got)
	}

	srv, conn := dialTestWS(t)
	servers = append(servers, srv)
	_, err := b.Join("live", conn)
	if !errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("expected ErrTooManyConnections, got %v", err)
	}

	b.Leave(subs[0])
	srv2, conn2 := dialTestWS(t)
	servers = append(servers, srv2)
	if _, err := b.Join("live", conn2); err != nil {
		t.Fatalf("Join after Leave: unexpected error: %v", err)
	}
	if got := b.SubscriberCount("live"); got != maxConns {
		t.Fatalf("expected %d subscribers after re-join, got %d", maxConns, got)
	}

	for _, srv := range servers {
		srv.Close()
	}
}

func TestJoin_RoomsAreIndependent(t *testing.T) {
	const maxConns = 1
	b := New(zerolog.Nop(), maxConns)

	srvA, connA := dialTestWS(t)
	defer srvA.Close()
	if _, err := b.Join("live", connA); err != nil {
		t.Fatalf("Join room live: %v", err)
	}

	srvB, connB := dialTestWS(t)
	defer srvB.Close()
	if _, err := b.Join("replay:1", connB); err != nil {
		t.Fatalf("a full 'live' room must not affect capacity of a distinct room: %v", err)
	}
}

func TestBroadcast_SequenceNumbersIncrementPerRoom(t *testing.T) {
	b := New(zerolog.Nop(), 0)

	srv, conn := dialTestWS(t)
	defer srv.Close()
	sub, err := b.Join("live", conn)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer b.Leave(sub)

	b.Broadcast("live", "positions", map[string]int{"x": 1})
	b.Broadcast("live", "positions", map[string]int{"x": 2})

	r := b.room("live")
	if got := r.seq.Load(); got != 2 {
		t.Fatalf("expected room sequence 2 after two broadcasts, got %d", got)
	}
}

func TestBroadcast_SlowSubscriberEvicted(t *testing.T) {
	b := New(zerolog.Nop(), 0)

	srv, conn := dialTestWS(t)
	defer srv.Close()
	sub, err := b.Join("live", conn)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	// Fill the subscriber's send buffer without draining it so the next
	// broadcast must evict rather than block.
	for i := 0; i < 100; i++ {
		b.Broadcast("live", "positions", map[string]int{"i": i})
	}

	if got := b.SubscriberCount("live"); got != 0 {
		t.Fatalf("expected slow subscriber to be evicted, got %d remaining", got)
	}
	_ = sub
}

func TestBroadcast_NoSubscribersIsNoop(t *testing.T) {
	b := New(zerolog.Nop(), 0)
	b.Broadcast("empty-room", "positions", map[string]int{"x": 1})
	if got := b.SubscriberCount("empty-room"); got != 0 {
		t.Fatalf("expected 0 subscribers, got %d", got)
	}
}

package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialTestHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	ws := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(ws.Close)

	url := "ws" + strings.TrimPrefix(ws.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Registration runs through the hub goroutine; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return hub, conn
}

func TestHubBroadcastsSnapshots(t *testing.T) {
	hub, conn := dialTestHub(t)

	sent := Snapshot{
		SessionID:        "session-a",
		Backend:          "lanes",
		Scanned:          4096,
		Total:            88000,
		Matches:          1,
		FingerprintIndex: 2,
		TimestampOffset:  17,
	}
	hub.BroadcastSnapshot(sent)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got Snapshot
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("frame is not snapshot JSON: %v\n%s", err, payload)
	}
	if got.SessionID != sent.SessionID || got.Backend != sent.Backend ||
		got.Scanned != sent.Scanned || got.Total != sent.Total ||
		got.Matches != sent.Matches || got.FingerprintIndex != sent.FingerprintIndex ||
		got.TimestampOffset != sent.TimestampOffset {
		t.Fatalf("frame round trip lost fields: %+v", got)
	}
	if got.SentAt == 0 {
		t.Fatalf("frame not timestamped")
	}
}

func TestHubBroadcastWithoutClientsDoesNotBlock(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.BroadcastSnapshot(Snapshot{Scanned: uint64(i)})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("broadcast blocked with no clients attached")
	}
}

func TestHubDropsDisconnectedClient(t *testing.T) {
	hub, conn := dialTestHub(t)

	conn.Close()
	// The read pump notices the close and unregisters.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("disconnected client never unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/speedwagon-io/vmc/internal/lib/logger/sl"
	"github.com/speedwagon-io/vmc/internal/model"
)

func startHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(sl.Discard())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn)
		hub.Register(client)
		go client.WritePump()
		go client.ReadPump()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	return hub, conn
}

func TestConsumeBroadcastsSnapshot(t *testing.T) {
	hub, conn := startHub(t)

	snapshot := model.NewSnapshot("vmc-1", "bench", []model.Reading{{CapteurID: 1, Value: 42}})
	if err := hub.Consume(context.Background(), snapshot); err != nil {
		t.Fatalf("consume: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg struct {
		Type    string         `json:"type"`
		Payload model.Snapshot `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != MessageSnapshot {
		t.Fatalf("expected type %q, got %q", MessageSnapshot, msg.Type)
	}
	if msg.Payload.ID != snapshot.ID || len(msg.Payload.Readings) != 1 {
		t.Fatalf("unexpected payload: %+v", msg.Payload)
	}
}

func TestClientUnregistersOnClose(t *testing.T) {
	hub, conn := startHub(t)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not unregistered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConsumeAfterHubStopped(t *testing.T) {
	hub := NewHub(sl.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	// Fill the broadcast queue so the next Consume can only return via done.
	for i := 0; i < cap(hub.broadcast); i++ {
		hub.broadcast <- []byte("x")
	}
	if err := hub.Consume(context.Background(), &model.Snapshot{}); err != nil {
		t.Fatalf("expected nil error after stop, got %v", err)
	}
}

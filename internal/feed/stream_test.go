package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"stocklab_go/pkg/quant"
)

func newWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(httpURL string) string {
	return strings.Replace(httpURL, "http://", "ws://", 1)
}

func TestTickStream_SubscribesAndDeliversTicks(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn) {
		// Expect the subscribe frame first.
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Logf("read error: %v", err)
			return
		}
		if !strings.Contains(string(msg), `"subscribe"`) {
			t.Errorf("first frame should subscribe, got %s", msg)
		}

		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"symbol":"VNM","price":"20.55","time":"2025-06-02T10:00:00+07:00"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"heartbeat":true}`))
		time.Sleep(200 * time.Millisecond)
	})
	defer server.Close()

	var mu sync.Mutex
	var ticks []Tick
	stream := NewTickStream(wsURL(server.URL), []string{"VNM"}, func(tk Tick) {
		mu.Lock()
		ticks = append(ticks, tk)
		mu.Unlock()
	})
	stream.ReadTimeout = 500 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stream.Start(ctx)
	time.Sleep(300 * time.Millisecond)
	stream.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(ticks) != 1 {
		t.Fatalf("got %d ticks, want 1 (heartbeat dropped)", len(ticks))
	}
	if ticks[0].Symbol != "VNM" || ticks[0].PriceMicros != quant.ToPriceMicros(20.55) {
		t.Errorf("tick = %+v", ticks[0])
	}
}

func TestTickStream_BadPriceDropped(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage() // subscribe
		conn.WriteMessage(websocket.TextMessage, []byte(`{"symbol":"VNM","price":"not-a-number"}`))
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	var count int
	stream := NewTickStream(wsURL(server.URL), []string{"VNM"}, func(Tick) { count++ })
	stream.ReadTimeout = 300 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	stream.Start(ctx)
	time.Sleep(200 * time.Millisecond)
	stream.Stop()

	if count != 0 {
		t.Errorf("bad tick should be dropped, got %d callbacks", count)
	}
}

package audio

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/sttstream/pkg/logger"
)

func TestWebSocketSourceReadsBinaryFrames(t *testing.T) {
	frames := [][]byte{
		bytes.Repeat([]byte{0xAA}, 700),
		bytes.Repeat([]byte{0xBB}, 100),
	}

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.BinaryMessage, frames[0])
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status"}`))
		conn.WriteMessage(websocket.BinaryMessage, frames[1])
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))

		// Wait for the client close frame
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		conn.ReadMessage()
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src, err := DialWebSocket(ctx, url, nil, logger.NewNop())
	if err != nil {
		t.Fatalf("DialWebSocket failed: %v", err)
	}
	defer src.Close()

	got := readAll(t, src, 256)
	want := append(append([]byte{}, frames[0]...), frames[1]...)
	if !bytes.Equal(got, want) {
		t.Errorf("Expected %d bytes of binary payload, got %d", len(want), len(got))
	}
}

func TestDialWebSocketFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	if _, err := DialWebSocket(context.Background(), url, nil, logger.NewNop()); err == nil {
		t.Error("Expected handshake failure against a non-websocket endpoint")
	}
}

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
	"github.com/yegors/sttstream/internal/session"
	"github.com/yegors/sttstream/internal/stt"
	"github.com/yegors/sttstream/pkg/logger"
)

var _ session.Recorder = (*Server)(nil)

func TestBroadcastSessionProgress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewServer(logger.NewNop())
	go feed.Run(ctx)

	httpServer := httptest.NewServer(http.HandlerFunc(feed.HandleConnection))
	defer httpServer.Close()

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for feed.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Client was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	end := 2 * time.Second
	start := time.Duration(0)
	feed.Transition(session.StreamOpen, session.Streaming)
	feed.UnitSent(stt.Silence(10))
	feed.EventDecided(&stt.RecognitionEvent{Results: []stt.RecognitionResult{{
		IsFinal: true,
		Recognition: &stt.SpeechRecognitionResult{
			StartTime:    &start,
			EndTime:      &end,
			Alternatives: []stt.Alternative{{Transcript: "добрый вечер"}},
		},
	}}}, session.Continue)
	feed.Finished(&session.Outcome{SessionID: "abc", State: session.Closed, Reason: session.ReasonRemoteClosed})

	var got []Message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(got) < 3 {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage failed after %d messages: %v", len(got), err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Invalid message: %v", err)
		}
		got = append(got, msg)
	}

	if got[0].Type != MessageTypeState || got[0].Data["to"] != "streaming" {
		t.Errorf("Unexpected state message %+v", got[0])
	}
	if got[1].Type != MessageTypeTranscript || got[1].Data["text"] != "добрый вечер" || got[1].Data["is_final"] != true {
		t.Errorf("Unexpected transcript message %+v", got[1])
	}
	if got[2].Type != MessageTypeFinished || got[2].Data["reason"] != "remote_closed" {
		t.Errorf("Unexpected finished message %+v", got[2])
	}
}

func TestBroadcastWithoutHubDoesNotBlock(t *testing.T) {
	feed := NewServer(logger.NewNop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			feed.Transition(session.Idle, session.TokenIssued)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked without a running hub")
	}
}

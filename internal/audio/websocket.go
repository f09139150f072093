package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/sttstream/pkg/logger"
)

// WebSocketSource is a live capture source fed by binary websocket frames,
// for example a browser microphone bridge. Text frames are ignored. A
// normal close from the peer ends the source.
type WebSocketSource struct {
	conn    *websocket.Conn
	logger  *logger.Logger
	pending []byte

	mu     sync.Mutex
	closed bool
}

// DialWebSocket connects to a websocket endpoint producing audio frames
func DialWebSocket(ctx context.Context, url string, header http.Header, log *logger.Logger) (*WebSocketSource, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to audio websocket (status %s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect to audio websocket: %w", err)
	}

	log = log.Named("ws-source")
	log.Info("Connected to audio websocket", logger.String("url", url))

	return NewWebSocketSource(conn, log), nil
}

// NewWebSocketSource wraps an established websocket connection
func NewWebSocketSource(conn *websocket.Conn, log *logger.Logger) *WebSocketSource {
	return &WebSocketSource{conn: conn, logger: log}
}

// Read implements Source. Frames larger than p are returned across
// several reads.
func (s *WebSocketSource) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			if s.isClosed() {
				return 0, io.EOF
			}
			return 0, fmt.Errorf("failed to read audio frame: %w", err)
		}
		if msgType != websocket.BinaryMessage {
			s.logger.Debug("Ignoring non-binary frame", logger.Int("type", msgType))
			continue
		}
		s.pending = data
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *WebSocketSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close sends a close frame and closes the connection. A blocked Read
// returns io.EOF.
func (s *WebSocketSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil &&
		!errors.Is(err, websocket.ErrCloseSent) {
		s.logger.Debug("Failed to send close frame", logger.Error(err))
	}
	return s.conn.Close()
}

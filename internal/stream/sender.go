// Package stream binds a websocket subscriber to a room and pushes result
// frames to it.
package stream

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Send after the subscriber has been closed or
// displaced.
var ErrClosed = errors.New("stream subscriber closed")

// Sender serializes writes to one websocket connection. Frames are produced
// concurrently by many command runners; the mutex makes the connection
// single-writer so each frame arrives whole. Ordering between different
// commands' frames is whatever the lock hands out.
type Sender struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewSender wraps an upgraded websocket connection.
func NewSender(conn *websocket.Conn) *Sender {
	return &Sender{conn: conn}
}

// Send writes one frame as a JSON message.
func (s *Sender) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.conn.WriteJSON(v)
}

// Close sends a close frame (best effort) and tears down the connection.
// Subsequent Sends return ErrClosed. Safe to call more than once.
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = s.conn.Close()
}

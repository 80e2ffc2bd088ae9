package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Sender is the write side of a live connection. The hub only ever needs to
// push envelopes; everything else about the transport stays in the handler.
type Sender interface {
	SendEvent(evt Envelope) error
}

// WSSession wraps a websocket connection with a write mutex, since gorilla
// connections allow only one concurrent writer.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewWSSession(conn *websocket.Conn) *WSSession {
	return &WSSession{conn: conn}
}

func (s *WSSession) SendEvent(evt Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	return s.conn.WriteJSON(evt)
}

func (s *WSSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

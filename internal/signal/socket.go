// Package signal implements the relay's WebSocket signaling transport: one
// listener per peer role, one Socket per accepted connection, and a dialer
// for client-side use.
package signal

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"screenmirror/relay/internal/domain"
	"screenmirror/relay/internal/logging"

	"github.com/gorilla/websocket"
)

const closeWriteWait = time.Second

// Socket is one full-duplex signaling channel. Writes are serialized by a
// mutex; reads happen on the single Run loop.
type Socket struct {
	role string
	log  *logging.Logger
	conn *websocket.Conn

	mu sync.Mutex

	handler func(domain.Envelope)
	onClose func()
}

func newSocket(role string, conn *websocket.Conn, log *logging.Logger) *Socket {
	return &Socket{
		role: role,
		log:  log,
		conn: conn,
	}
}

// Bind installs the envelope handler and the close hook. It must be called
// before Run starts delivering frames.
func (s *Socket) Bind(handler func(domain.Envelope), onClose func()) {
	s.handler = handler
	s.onClose = onClose
}

// SendEnvelope marshals env and writes it as a single text frame.
func (s *Socket) SendEnvelope(env domain.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// CloseGoingAway sends a close frame with status 1001 (going away) before
// tearing the connection down.
func (s *Socket) CloseGoingAway(reason string) {
	s.mu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait)); err != nil {
		s.log.Warning(s.role, "write close frame:", err)
	}
	s.mu.Unlock()
	s.Close()
}

// Close tears the connection down. The Run loop exits and fires the bound
// onClose hook.
func (s *Socket) Close() {
	s.conn.Close()
}

// RemoteAddr reports the peer's network address.
func (s *Socket) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Run reads frames until the connection closes, dispatching well-formed
// envelopes to the bound handler. Non-text frames and undecodable payloads
// are dropped with a warning; the connection stays open.
func (s *Socket) Run() {
	defer func() {
		s.conn.Close()
		if s.onClose != nil {
			s.onClose()
		}
	}()

	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			s.log.Info(s.role, "socket closed:", err)
			return
		}

		if mt != websocket.TextMessage {
			s.log.Warning(s.role, "dropping frame with opcode", mt)
			continue
		}

		env, err := domain.Decode(data)
		if err != nil {
			s.log.Warning(s.role, "dropping message:", err)
			continue
		}

		if s.handler != nil {
			s.handler(*env)
		}
	}
}

package signal

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"screenmirror/relay/internal/logging"

	"github.com/gorilla/websocket"
)

// Server is one WebSocket listener. Every accepted connection is wrapped in
// a Socket and handed to the accept callback, which must Bind the socket
// before returning; the read loop starts right after.
type Server struct {
	role     string
	log      *logging.Logger
	listener net.Listener
	httpSrv  *http.Server
	upgrader websocket.Upgrader
	accept   func(*Socket)
}

// NewServer binds the listener and starts serving. A bind failure is fatal
// to the caller. Port 0 picks an ephemeral port, reported by Addr.
func NewServer(role string, port int, accept func(*Socket), log *logging.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind %s port %d: %w", role, port, err)
	}

	s := &Server{
		role:     role,
		log:      log,
		listener: ln,
		accept:   accept,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.httpSrv = &http.Server{Handler: http.HandlerFunc(s.handle)}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(role, "listener stopped:", err)
		}
	}()

	log.Info(role, "listening on", ln.Addr())
	return s, nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warning(s.role, "upgrade failed:", err)
		return
	}

	s.log.Info(s.role, "socket opened from", conn.RemoteAddr())
	sock := newSocket(s.role, conn, s.log)
	s.accept(sock)
	sock.Run()
}

// Addr reports the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops accepting new connections. Already-upgraded sockets are not
// touched; the supervisor closes those itself, in order.
func (s *Server) Close() {
	s.httpSrv.Close()
}

package relay

import (
	"sync"

	"screenmirror/relay/internal/domain"
	"screenmirror/relay/internal/logging"
)

type sourceConn struct {
	peer domain.Peer
	sock domain.Socket
}

// SourceEndpoint accepts at most one active source peer at a time. A second
// source connecting while the slot is occupied is closed with "going away".
type SourceEndpoint struct {
	log    *logging.Logger
	peers  domain.PeerFactory
	fanout *FanOut

	mu      sync.Mutex
	current *sourceConn
}

// NewSourceEndpoint creates the endpoint with an empty source slot.
func NewSourceEndpoint(peers domain.PeerFactory, fanout *FanOut, log *logging.Logger) *SourceEndpoint {
	return &SourceEndpoint{
		log:    log,
		peers:  peers,
		fanout: fanout,
	}
}

// Accept admits one source socket. The adapter's track callback hands the
// inbound track to the fan-out; the source may renegotiate mid-session, in
// which case a fresh track supersedes the active one through the same path.
func (e *SourceEndpoint) Accept(sock domain.Socket) {
	e.mu.Lock()
	if e.current != nil {
		e.mu.Unlock()
		e.log.Warning("source: rejecting source connection, one already exists")
		sock.CloseGoingAway("source already connected")
		return
	}
	conn := &sourceConn{sock: sock}
	e.current = conn
	e.mu.Unlock()

	peer, err := e.peers.NewPeer(sock, false, func(track domain.SourceTrack, ssrc uint32) {
		e.onTrack(conn, track, ssrc)
	})
	if err != nil {
		e.log.Error("source: create peer:", err)
		e.mu.Lock()
		e.current = nil
		e.mu.Unlock()
		sock.Close()
		return
	}

	e.mu.Lock()
	conn.peer = peer
	e.mu.Unlock()

	sock.Bind(peer.HandleEnvelope, func() { e.drop(conn) })
	e.log.Info("source: source connected")
}

func (e *SourceEndpoint) onTrack(conn *sourceConn, track domain.SourceTrack, ssrc uint32) {
	e.mu.Lock()
	peer := conn.peer
	live := e.current == conn
	e.mu.Unlock()

	if !live || peer == nil {
		return
	}

	e.log.Info("source: track added, ssrc", ssrc)
	e.fanout.SetActive(track, func() {
		if err := peer.WriteKeyFrameRequest(ssrc); err != nil {
			e.log.Warning("source: keyframe request:", err)
		}
	})
}

func (e *SourceEndpoint) drop(conn *sourceConn) {
	e.mu.Lock()
	if e.current != conn {
		e.mu.Unlock()
		return
	}
	e.current = nil
	e.mu.Unlock()

	e.log.Warning("source: source disconnected")
	e.fanout.ClearActive()
	if conn.peer != nil {
		conn.peer.Close()
	}
}

// Close tears down the active source, if any. Called by the supervisor
// after every sink has been closed, so no sink still reads the track.
func (e *SourceEndpoint) Close() {
	e.mu.Lock()
	conn := e.current
	e.current = nil
	e.mu.Unlock()

	if conn == nil {
		return
	}

	e.log.Info("source: closing source connection")
	conn.sock.CloseGoingAway("server shutting down")
	e.fanout.ClearActive()
	if conn.peer != nil {
		conn.peer.Close()
	}
}

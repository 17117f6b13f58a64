package relay

import (
	"sync"

	"screenmirror/relay/internal/domain"
	"screenmirror/relay/internal/logging"
)

type sinkConn struct {
	peer domain.Peer
	sock domain.Socket
}

// SinkEndpoint accepts any number of sink peers and keeps each registered
// with the fan-out for as long as its socket stays open.
type SinkEndpoint struct {
	log    *logging.Logger
	peers  domain.PeerFactory
	fanout *FanOut

	mu    sync.Mutex
	sinks map[string]*sinkConn
}

// NewSinkEndpoint creates the endpoint with an empty registry.
func NewSinkEndpoint(peers domain.PeerFactory, fanout *FanOut, log *logging.Logger) *SinkEndpoint {
	return &SinkEndpoint{
		log:    log,
		peers:  peers,
		fanout: fanout,
		sinks:  make(map[string]*sinkConn),
	}
}

// Accept admits one sink socket. Sinks are send-only from the relay's
// perspective, so the adapter gets no track handler. Attaching to the
// fan-out publishes the active track, if any, which produces the sink's
// initial offer.
func (e *SinkEndpoint) Accept(sock domain.Socket) {
	peer, err := e.peers.NewPeer(sock, false, nil)
	if err != nil {
		e.log.Error("sink: create peer:", err)
		sock.Close()
		return
	}

	e.mu.Lock()
	e.sinks[peer.ID()] = &sinkConn{peer: peer, sock: sock}
	e.mu.Unlock()

	sock.Bind(peer.HandleEnvelope, func() { e.drop(peer.ID()) })
	e.log.Info("sink: new sink has appeared,", peer.ID())
	e.fanout.Attach(peer)
}

func (e *SinkEndpoint) drop(id string) {
	e.mu.Lock()
	conn, ok := e.sinks[id]
	if ok {
		delete(e.sinks, id)
	}
	e.mu.Unlock()

	if !ok {
		return
	}

	e.log.Info("sink: sink disconnected,", id)
	e.fanout.Detach(id)
	conn.peer.Close()
}

// CloseAll closes every sink socket with "going away" and releases the
// peers. Called by the supervisor before the source is torn down.
func (e *SinkEndpoint) CloseAll() {
	e.mu.Lock()
	conns := e.sinks
	e.sinks = make(map[string]*sinkConn)
	e.mu.Unlock()

	if len(conns) > 0 {
		e.log.Info("sink: closing sink connections")
	}
	for id, conn := range conns {
		conn.sock.CloseGoingAway("server shutting down")
		e.fanout.Detach(id)
		conn.peer.Close()
	}
}

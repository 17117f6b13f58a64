// Package probe implements a headless sink client for smoke-testing a
// running relay: it dials the sink port, answers the relay's offers as the
// polite side, and logs the first frames of the mirrored track.
package probe

import (
	"fmt"

	"screenmirror/relay/internal/domain"
	"screenmirror/relay/internal/logging"
	"screenmirror/relay/internal/signal"
)

const reportedFrames = 5

// Probe is the sink-side coordinator.
type Probe struct {
	log   *logging.Logger
	peers domain.PeerFactory
}

// New creates a probe building its peer from the given factory.
func New(peers domain.PeerFactory, log *logging.Logger) *Probe {
	return &Probe{log: log, peers: peers}
}

// Run dials the relay and answers its offers until the socket closes or
// stop is signalled.
func (p *Probe) Run(url string, stop <-chan struct{}) error {
	sock, err := signal.Dial(url, p.log)
	if err != nil {
		return err
	}

	peer, err := p.peers.NewPeer(sock, true, p.onTrack)
	if err != nil {
		sock.Close()
		return fmt.Errorf("create peer: %w", err)
	}

	done := make(chan struct{})
	sock.Bind(peer.HandleEnvelope, func() { close(done) })
	go sock.Run()

	p.log.Info("probe: connected to", url)

	select {
	case <-stop:
		sock.Close()
		<-done
	case <-done:
	}

	peer.Close()
	return nil
}

func (p *Probe) onTrack(track domain.SourceTrack, ssrc uint32) {
	p.log.Info("probe: mirrored track arrived, ssrc", ssrc)

	go func() {
		var frames int
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				return
			}
			// The marker bit closes one video frame.
			if pkt.Marker {
				frames++
				if frames <= reportedFrames {
					p.log.Info("probe: frame", frames, "received")
				}
			}
		}
	}()
}

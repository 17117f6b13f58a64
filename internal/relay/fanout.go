// Package relay implements the source endpoint, the sink endpoint, and the
// fan-out controller that mirrors the source's live track into every
// connected sink peer.
package relay

import (
	"errors"
	"io"
	"sync"

	"screenmirror/relay/internal/domain"
	"screenmirror/relay/internal/logging"

	pion "github.com/pion/webrtc/v4"
)

// StreamLabel is the stream id every sink publishes the mirrored track under.
const StreamLabel = "mirrored_stream"

// mirror is one active source track: the shared local track sinks publish,
// the keyframe requester pointed at the source peer, and the stop signal
// for the forwarding goroutine.
type mirror struct {
	track    *pion.TrackLocalStaticRTP
	keyframe func()
	stop     chan struct{}
}

// FanOut owns the current source track and the sink registry. All mutations
// run under one lock, so every sink observes a monotonic sequence of active
// tracks: a SetActive that supersedes an earlier one removes the old sender
// from each sink before installing the new one.
type FanOut struct {
	log *logging.Logger

	mu     sync.Mutex
	sinks  map[string]domain.Peer
	active *mirror
}

// NewFanOut creates an empty fan-out with no active track.
func NewFanOut(log *logging.Logger) *FanOut {
	return &FanOut{
		log:   log,
		sinks: make(map[string]domain.Peer),
	}
}

// SetActive installs src as the one active track. A shared local track is
// created from the source's codec, an RTP forwarding goroutine is started,
// and the track is published into every registered sink. The keyframe
// callback reaches the source peer; sinks invoke it through
// RequestKeyFrame when they lose a picture.
func (f *FanOut) SetActive(src domain.SourceTrack, keyframe func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.active != nil {
		close(f.active.stop)
		f.active = nil
	}

	local, err := pion.NewTrackLocalStaticRTP(src.Codec().RTPCodecCapability, "video", StreamLabel)
	if err != nil {
		f.log.Error("fanout: create mirrored track:", err)
		return
	}

	m := &mirror{
		track:    local,
		keyframe: keyframe,
		stop:     make(chan struct{}),
	}
	f.active = m
	go f.forward(src, m)

	f.log.Info("fanout: switching sources")
	for id, sink := range f.sinks {
		f.publish(id, sink, m)
	}
}

// ClearActive drops the active track after a source loss. Sink senders are
// left in place; they go quiet until a new source arrives and renegotiates.
func (f *FanOut) ClearActive() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.active == nil {
		return
	}
	close(f.active.stop)
	f.active = nil
	f.log.Info("fanout: active track cleared")
}

// Attach registers a sink. If a track is already active it is published
// into the new sink immediately, which triggers the sink's initial offer.
func (f *FanOut) Attach(sink domain.Peer) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sinks[sink.ID()] = sink
	if f.active != nil {
		f.publish(sink.ID(), sink, f.active)
	}
}

// Detach removes a sink from the registry.
func (f *FanOut) Detach(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sinks, id)
}

// RequestKeyFrame relays a sink's keyframe request to the current source.
func (f *FanOut) RequestKeyFrame() {
	f.mu.Lock()
	var keyframe func()
	if f.active != nil {
		keyframe = f.active.keyframe
	}
	f.mu.Unlock()

	if keyframe != nil {
		keyframe()
	}
}

// Close stops forwarding and empties the registry. The sinks themselves are
// closed by their endpoint.
func (f *FanOut) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.active != nil {
		close(f.active.stop)
		f.active = nil
	}
	f.sinks = make(map[string]domain.Peer)
}

func (f *FanOut) publish(id string, sink domain.Peer, m *mirror) {
	if err := sink.Publish(m.track, f.RequestKeyFrame); err != nil {
		f.log.Error("fanout: publish to sink", id, "failed:", err)
	}
}

// forward copies RTP from the source track into the shared local track
// until the mirror is superseded or the source read ends.
func (f *FanOut) forward(src domain.SourceTrack, m *mirror) {
	for {
		select {
		case <-m.stop:
			return
		default:
		}

		pkt, _, err := src.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				f.log.Warning("fanout: source read ended:", err)
			}
			return
		}

		if err := m.track.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			f.log.Warning("fanout: mirrored write:", err)
		}
	}
}

package domain

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
)

// Socket is the signaling channel bound 1:1 to a peer. Bind must be called
// before the socket's read loop starts delivering envelopes.
type Socket interface {
	SendEnvelope(Envelope) error
	Bind(handler func(Envelope), onClose func())
	CloseGoingAway(reason string)
	Close()
}

// SourceTrack is the inbound media stream the relay mirrors.
type SourceTrack interface {
	Codec() pion.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// TrackHandler receives a peer's inbound track as it arrives.
type TrackHandler func(track SourceTrack, ssrc uint32)

// Peer drives one WebRTC peer connection bound to one signaling socket.
type Peer interface {
	ID() string
	HandleEnvelope(Envelope)
	Publish(track pion.TrackLocal, keyframe func()) error
	WriteKeyFrameRequest(ssrc uint32) error
	Close()
}

// PeerFactory builds one Peer per accepted signaling socket.
type PeerFactory interface {
	NewPeer(sock Socket, polite bool, onTrack TrackHandler) (Peer, error)
}

package webrtc

import (
	"fmt"
	"sync/atomic"

	"screenmirror/relay/internal/domain"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	pion "github.com/pion/webrtc/v4"
)

// Adapter pairs one peer connection with one signaling socket and drives it
// through perfect negotiation. The relay side is always impolite: on an
// offer collision the incoming offer is dropped, never rolled back.
//
// makingOffer and ignoreOffer are touched only on the engine's signaling
// worker; every inbound envelope and negotiation-needed event is posted
// there, so reads and writes on one adapter never race. The closed flag
// makes engine callbacks that fire after Close into no-ops.
type Adapter struct {
	id      string
	engine  *Engine
	pc      *pion.PeerConnection
	socket  domain.Socket
	polite  bool
	onTrack domain.TrackHandler

	makingOffer bool
	ignoreOffer bool

	// mutated on the signaling worker only
	currentSender *pion.RTPSender

	closed atomic.Bool
}

func newAdapter(engine *Engine, sock domain.Socket, polite bool, onTrack domain.TrackHandler) (*Adapter, error) {
	pc, err := engine.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	a := &Adapter{
		id:      uuid.NewString(),
		engine:  engine,
		pc:      pc,
		socket:  sock,
		polite:  polite,
		onTrack: onTrack,
	}
	a.wire()

	engine.log.Info(a.id, "created peer connection")
	return a, nil
}

// ID reports the adapter's stable identifier.
func (a *Adapter) ID() string {
	return a.id
}

func (a *Adapter) wire() {
	a.pc.OnNegotiationNeeded(func() {
		a.engine.Post(a.negotiate)
	})

	a.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if a.closed.Load() {
			return
		}
		if c == nil {
			a.engine.log.Info(a.id, "ICE gathering complete")
			return
		}

		init := c.ToJSON()
		cand := domain.Candidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			cand.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			cand.SDPMLineIndex = int(*init.SDPMLineIndex)
		}

		if err := a.socket.SendEnvelope(domain.Envelope{Candidate: &cand}); err != nil {
			a.engine.log.Warning(a.id, "send candidate:", err)
		}
	})

	a.pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		if a.closed.Load() {
			return
		}
		a.engine.log.Info(a.id, "track added:", track.Kind(), "ssrc", uint32(track.SSRC()))
		if a.onTrack == nil {
			a.engine.log.Warning(a.id, "no handler for inbound track, ignoring")
			return
		}
		a.onTrack(track, uint32(track.SSRC()))
	})

	a.pc.OnDataChannel(func(dc *pion.DataChannel) {
		a.engine.log.Info(a.id, "data channel added:", dc.Label())
	})

	a.pc.OnSignalingStateChange(func(s pion.SignalingState) {
		a.engine.log.Info(a.id, "signaling state change:", s)
	})

	a.pc.OnICEGatheringStateChange(func(s pion.ICEGatheringState) {
		a.engine.log.Info(a.id, "ICE gathering state change:", s)
	})

	a.pc.OnICEConnectionStateChange(func(s pion.ICEConnectionState) {
		a.engine.log.Info(a.id, "ICE connection state change:", s)
	})

	a.pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		a.engine.log.Info(a.id, "connection state change:", s)
	})
}

// HandleEnvelope dispatches one inbound signaling message onto the
// signaling worker.
func (a *Adapter) HandleEnvelope(env domain.Envelope) {
	switch {
	case env.Description != nil:
		desc := *env.Description
		a.engine.Post(func() { a.handleDescription(desc) })
	case env.Candidate != nil:
		cand := *env.Candidate
		a.engine.Post(func() { a.handleCandidate(cand) })
	}
}

// negotiate runs on the signaling worker in response to negotiation-needed.
func (a *Adapter) negotiate() {
	if a.closed.Load() {
		return
	}

	a.makingOffer = true
	defer func() { a.makingOffer = false }()

	offer, err := a.pc.CreateOffer(nil)
	if err != nil {
		a.engine.log.Error(a.id, "create offer:", err)
		return
	}
	if err := a.pc.SetLocalDescription(offer); err != nil {
		a.engine.log.Error(a.id, "set local description:", err)
		return
	}

	a.sendLocalDescription()
}

func (a *Adapter) handleDescription(desc domain.Description) {
	if a.closed.Load() {
		return
	}

	isOffer := desc.Type == "offer"
	collision := isOffer && (a.makingOffer || a.pc.SignalingState() != pion.SignalingStateStable)

	a.ignoreOffer = !a.polite && collision
	if a.ignoreOffer {
		a.engine.log.Info(a.id, "ignoring colliding offer")
		return
	}

	remote := pion.SessionDescription{
		Type: pion.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	}
	if err := a.pc.SetRemoteDescription(remote); err != nil {
		a.engine.log.Error(a.id, "set remote description:", err)
		return
	}

	if !isOffer {
		return
	}

	answer, err := a.pc.CreateAnswer(nil)
	if err != nil {
		a.engine.log.Error(a.id, "create answer:", err)
		return
	}
	if err := a.pc.SetLocalDescription(answer); err != nil {
		a.engine.log.Error(a.id, "set local description:", err)
		return
	}

	a.sendLocalDescription()
}

func (a *Adapter) handleCandidate(cand domain.Candidate) {
	if a.closed.Load() {
		return
	}

	mid := cand.SDPMid
	idx := uint16(cand.SDPMLineIndex)
	err := a.pc.AddICECandidate(pion.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	})
	if err != nil {
		// Candidates for an intentionally ignored offer fail quietly.
		if a.ignoreOffer {
			return
		}
		a.engine.log.Error(a.id, "add ICE candidate:", err)
	}
}

func (a *Adapter) sendLocalDescription() {
	desc := a.pc.LocalDescription()
	if desc == nil {
		a.engine.log.Error(a.id, "no local description to send")
		return
	}

	env := domain.Envelope{Description: &domain.Description{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}}
	if err := a.socket.SendEnvelope(env); err != nil {
		a.engine.log.Warning(a.id, "send description:", err)
	}
}

// Publish replaces the adapter's outgoing video with track. The previous
// sender, if any, is removed first; a removal failure aborts the update and
// leaves the previous stream in place. Adding the track makes the engine
// fire negotiation-needed, which produces a fresh offer down the socket.
// The keyframe callback is invoked whenever the remote peer asks for a
// keyframe over RTCP.
func (a *Adapter) Publish(track pion.TrackLocal, keyframe func()) error {
	return a.engine.Do(func() error {
		if a.closed.Load() {
			return fmt.Errorf("adapter closed")
		}

		if a.currentSender != nil {
			if err := a.pc.RemoveTrack(a.currentSender); err != nil {
				return fmt.Errorf("remove previous sender: %w", err)
			}
			a.currentSender = nil
		}

		sender, err := a.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add track: %w", err)
		}
		a.currentSender = sender

		go a.drainRTCP(sender, keyframe)
		return nil
	})
}

// drainRTCP keeps the sender's interceptor chain fed and relays keyframe
// requests (PLI/FIR) from the remote peer upward.
func (a *Adapter) drainRTCP(sender *pion.RTPSender, keyframe func()) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		if keyframe == nil {
			continue
		}
		for _, pkt := range packets {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				keyframe()
			}
		}
	}
}

// WriteKeyFrameRequest sends a PLI toward the remote peer for ssrc.
func (a *Adapter) WriteKeyFrameRequest(ssrc uint32) error {
	if a.closed.Load() {
		return fmt.Errorf("adapter closed")
	}
	return a.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
}

// Close releases the peer connection. Engine callbacks that fire afterwards
// observe the closed flag and do nothing.
func (a *Adapter) Close() {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}

	a.engine.log.Info(a.id, "closing peer")
	if err := a.pc.Close(); err != nil {
		a.engine.log.Warning(a.id, "close peer:", err)
	}
}

package webrtc

import (
	"sync"
	"testing"
	"time"

	"screenmirror/relay/internal/domain"
	"screenmirror/relay/internal/logging"

	pion "github.com/pion/webrtc/v4"
)

const testTimeout = 5 * time.Second

// fakeSocket records outbound envelopes.
type fakeSocket struct {
	mu   sync.Mutex
	sent []domain.Envelope
}

func (s *fakeSocket) SendEnvelope(env domain.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
	return nil
}

func (s *fakeSocket) Bind(func(domain.Envelope), func()) {}
func (s *fakeSocket) CloseGoingAway(string)              {}
func (s *fakeSocket) Close()                             {}

func (s *fakeSocket) descriptions() []domain.Description {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Description
	for _, env := range s.sent {
		if env.Description != nil {
			out = append(out, *env.Description)
		}
	}
	return out
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger, err := logging.New("")
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	t.Cleanup(logger.Close)

	e, err := NewEngine("turn:127.0.0.1:3478?transport=tcp", "user", "root", logger)
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func newTestAdapter(t *testing.T, e *Engine, sock domain.Socket) *Adapter {
	t.Helper()
	a, err := newAdapter(e, sock, false, nil)
	if err != nil {
		t.Fatalf("create adapter: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

// browserOffer produces a real SDP offer the way a capturing browser would.
func browserOffer(t *testing.T) (*pion.PeerConnection, string) {
	t.Helper()
	pc, err := pion.NewPeerConnection(pion.Configuration{})
	if err != nil {
		t.Fatalf("create browser peer: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionSendonly,
	}); err != nil {
		t.Fatalf("add transceiver: %v", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("set local description: %v", err)
	}
	return pc, offer.SDP
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestAdapter_AnswersRemoteOffer(t *testing.T) {
	e := newTestEngine(t)
	sock := &fakeSocket{}
	a := newTestAdapter(t, e, sock)

	browser, sdp := browserOffer(t)

	a.HandleEnvelope(domain.Envelope{Description: &domain.Description{Type: "offer", SDP: sdp}})

	waitFor(t, func() bool {
		for _, d := range sock.descriptions() {
			if d.Type == "answer" {
				return true
			}
		}
		return false
	})

	var answer domain.Description
	for _, d := range sock.descriptions() {
		if d.Type == "answer" {
			answer = d
		}
	}
	if err := browser.SetRemoteDescription(pion.SessionDescription{
		Type: pion.SDPTypeAnswer,
		SDP:  answer.SDP,
	}); err != nil {
		t.Fatalf("browser rejected the answer: %v", err)
	}
}

func TestAdapter_GlareDropsRemoteOffer(t *testing.T) {
	e := newTestEngine(t)
	sock := &fakeSocket{}
	a := newTestAdapter(t, e, sock)

	_, sdp := browserOffer(t)

	// Simulate an offer mid-flight on this adapter.
	if err := e.Do(func() error { a.makingOffer = true; return nil }); err != nil {
		t.Fatalf("post: %v", err)
	}

	a.HandleEnvelope(domain.Envelope{Description: &domain.Description{Type: "offer", SDP: sdp}})

	var ignored bool
	var state pion.SignalingState
	if err := e.Do(func() error {
		ignored = a.ignoreOffer
		state = a.pc.SignalingState()
		a.makingOffer = false
		return nil
	}); err != nil {
		t.Fatalf("post: %v", err)
	}

	if !ignored {
		t.Error("expected the colliding offer to be ignored")
	}
	if state != pion.SignalingStateStable {
		t.Errorf("expected signaling state to stay stable, got %s", state)
	}
	if n := len(sock.descriptions()); n != 0 {
		t.Errorf("expected no outbound description, got %d", n)
	}
}

func TestAdapter_BadCandidateSwallowedWhileIgnoringOffer(t *testing.T) {
	e := newTestEngine(t)
	sock := &fakeSocket{}
	a := newTestAdapter(t, e, sock)

	if err := e.Do(func() error { a.ignoreOffer = true; return nil }); err != nil {
		t.Fatalf("post: %v", err)
	}

	a.HandleEnvelope(domain.Envelope{Candidate: &domain.Candidate{
		Candidate: "definitely not a candidate", SDPMid: "0", SDPMLineIndex: 0,
	}})

	var state pion.SignalingState
	if err := e.Do(func() error {
		state = a.pc.SignalingState()
		return nil
	}); err != nil {
		t.Fatalf("post: %v", err)
	}

	if state == pion.SignalingStateClosed {
		t.Error("a bad candidate must never close the peer")
	}
}

func TestAdapter_PublishProducesOffer(t *testing.T) {
	e := newTestEngine(t)
	sock := &fakeSocket{}
	a := newTestAdapter(t, e, sock)

	track, err := pion.NewTrackLocalStaticRTP(pion.RTPCodecCapability{
		MimeType: pion.MimeTypeVP8, ClockRate: 90000,
	}, "video", "mirrored_stream")
	if err != nil {
		t.Fatalf("create track: %v", err)
	}

	if err := a.Publish(track, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool {
		for _, d := range sock.descriptions() {
			if d.Type == "offer" {
				return true
			}
		}
		return false
	})
}

func TestAdapter_RepublishReplacesSender(t *testing.T) {
	e := newTestEngine(t)
	sock := &fakeSocket{}
	a := newTestAdapter(t, e, sock)

	capability := pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8, ClockRate: 90000}
	first, err := pion.NewTrackLocalStaticRTP(capability, "video", "mirrored_stream")
	if err != nil {
		t.Fatalf("create track: %v", err)
	}
	second, err := pion.NewTrackLocalStaticRTP(capability, "video", "mirrored_stream")
	if err != nil {
		t.Fatalf("create track: %v", err)
	}

	if err := a.Publish(first, nil); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	var firstSender *pion.RTPSender
	e.Do(func() error { firstSender = a.currentSender; return nil })

	if err := a.Publish(second, nil); err != nil {
		t.Fatalf("second publish: %v", err)
	}
	var secondSender *pion.RTPSender
	e.Do(func() error { secondSender = a.currentSender; return nil })

	if firstSender == nil || secondSender == nil {
		t.Fatal("expected a sender after each publish")
	}
	if firstSender == secondSender {
		t.Error("expected republish to install a fresh sender")
	}
}

func TestAdapter_ClosedAdapterIgnoresEnvelopes(t *testing.T) {
	e := newTestEngine(t)
	sock := &fakeSocket{}
	a := newTestAdapter(t, e, sock)

	_, sdp := browserOffer(t)
	a.Close()

	a.HandleEnvelope(domain.Envelope{Description: &domain.Description{Type: "offer", SDP: sdp}})

	// Barrier: the posted task has run by the time Do returns.
	if err := e.Do(func() error { return nil }); err != nil {
		t.Fatalf("post: %v", err)
	}

	if n := len(sock.descriptions()); n != 0 {
		t.Errorf("expected no outbound description after close, got %d", n)
	}
}

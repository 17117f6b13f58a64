package probe

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"screenmirror/relay/internal/domain"
	"screenmirror/relay/internal/logging"
	"screenmirror/relay/internal/signal"
	"screenmirror/relay/internal/webrtc"

	pion "github.com/pion/webrtc/v4"
)

const testTimeout = 10 * time.Second

func newTestLogger(t *testing.T) *logging.Logger {
	t.Helper()
	l, err := logging.New("")
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	t.Cleanup(l.Close)
	return l
}

// TestProbe_AnswersRelayOffer runs a minimal relay-side sink peer behind a
// real loopback WebSocket and checks that the probe answers the offer
// produced when a track is published into that peer.
func TestProbe_AnswersRelayOffer(t *testing.T) {
	logger := newTestLogger(t)

	engine, err := webrtc.NewEngine("turn:127.0.0.1:3478?transport=tcp", "user", "root", logger)
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	t.Cleanup(engine.Close)

	var mu sync.Mutex
	var fromProbe []domain.Envelope
	accepted := make(chan domain.Peer, 1)

	srv, err := signal.NewServer("sink", 0, func(sock *signal.Socket) {
		peer, err := engine.NewPeer(sock, false, nil)
		if err != nil {
			t.Errorf("create relay peer: %v", err)
			sock.Close()
			return
		}
		sock.Bind(func(env domain.Envelope) {
			mu.Lock()
			fromProbe = append(fromProbe, env)
			mu.Unlock()
			peer.HandleEnvelope(env)
		}, func() {})
		accepted <- peer
	}, logger)
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(srv.Close)

	url := fmt.Sprintf("ws://127.0.0.1:%d/", srv.Addr().(*net.TCPAddr).Port)

	stop := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		probeDone <- New(engine, logger).Run(url, stop)
	}()

	var relayPeer domain.Peer
	select {
	case relayPeer = <-accepted:
	case <-time.After(testTimeout):
		t.Fatal("probe never connected")
	}

	track, err := pion.NewTrackLocalStaticRTP(pion.RTPCodecCapability{
		MimeType: pion.MimeTypeVP8, ClockRate: 90000,
	}, "video", "mirrored_stream")
	if err != nil {
		t.Fatalf("create track: %v", err)
	}
	if err := relayPeer.Publish(track, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(testTimeout)
	answered := false
	for time.Now().Before(deadline) && !answered {
		mu.Lock()
		for _, env := range fromProbe {
			if env.Description != nil && env.Description.Type == "answer" {
				answered = true
			}
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
	}
	if !answered {
		t.Fatal("probe never answered the relay's offer")
	}

	close(stop)
	select {
	case err := <-probeDone:
		if err != nil {
			t.Fatalf("probe run: %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("probe did not stop")
	}
}

// Package webrtc wraps the Pion media engine behind the relay's process-wide
// factory and implements the peer adapter that drives each peer connection
// through perfect negotiation.
package webrtc

import (
	"fmt"
	"sync"

	"screenmirror/relay/internal/domain"
	"screenmirror/relay/internal/logging"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	pion "github.com/pion/webrtc/v4"
)

// Engine is the process-global media factory. It owns the Pion API every
// peer connection is created from and the shared signaling worker that
// serializes the negotiation calls (descriptions, tracks, candidates) into
// those peer connections. Every peer and track in
// the process must come from the same Engine.
type Engine struct {
	log    *logging.Logger
	api    *pion.API
	config pion.Configuration

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	closing bool
	done    chan struct{}

	closeOnce sync.Once
}

// NewEngine builds the Pion API with the default codecs and interceptors
// plus an interval-PLI receiver interceptor, configures the single TURN ICE
// server, and starts the signaling worker.
func NewEngine(turnURL, turnUsername, turnCredential string, log *logging.Logger) (*Engine, error) {
	media := &pion.MediaEngine{}
	if err := media.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(media, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	// Periodically asks the source for keyframes so late-joining sinks can
	// decode without waiting on a natural IDR.
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create PLI interceptor: %w", err)
	}
	registry.Add(pli)

	e := &Engine{
		log: log,
		api: pion.NewAPI(
			pion.WithMediaEngine(media),
			pion.WithInterceptorRegistry(registry),
		),
		config: pion.Configuration{
			ICEServers: []pion.ICEServer{{
				URLs:       []string{turnURL},
				Username:   turnUsername,
				Credential: turnCredential,
			}},
		},
		done: make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)

	go e.run()
	return e, nil
}

// NewPeer builds a peer adapter for one accepted signaling socket.
// It implements domain.PeerFactory.
func (e *Engine) NewPeer(sock domain.Socket, polite bool, onTrack domain.TrackHandler) (domain.Peer, error) {
	a, err := newAdapter(e, sock, polite, onTrack)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (e *Engine) newPeerConnection() (*pion.PeerConnection, error) {
	return e.api.NewPeerConnection(e.config)
}

// Post enqueues a task on the signaling worker. Tasks run one at a time in
// FIFO order. Reports false when the engine has stopped intake.
func (e *Engine) Post(task func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing {
		return false
	}
	e.queue = append(e.queue, task)
	e.cond.Signal()
	return true
}

// Do runs task on the signaling worker and waits for its result.
func (e *Engine) Do(task func() error) error {
	res := make(chan error, 1)
	if !e.Post(func() { res <- task() }) {
		return fmt.Errorf("media engine stopped")
	}
	return <-res
}

func (e *Engine) run() {
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closing {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			close(e.done)
			return
		}
		task := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		task()
	}
}

// Close stops intake, drains the queued tasks, and joins the worker.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closing = true
		e.cond.Signal()
		e.mu.Unlock()
		<-e.done
	})
}

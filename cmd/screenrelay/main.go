package main

import (
	"bufio"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"screenmirror/relay/internal/config"
	"screenmirror/relay/internal/logging"
	"screenmirror/relay/internal/relay"
	"screenmirror/relay/internal/signal"
	"screenmirror/relay/internal/webrtc"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "[relay:error] configuration:", err)
		return 1
	}

	logger, err := logging.New(cfg.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[relay:error]", err)
		return 1
	}
	defer logger.Close()

	engine, err := webrtc.NewEngine(cfg.TURNURL, cfg.TURNUsername, cfg.TURNCredential, logger)
	if err != nil {
		logger.Error("create media engine:", err)
		return 1
	}

	fanout := relay.NewFanOut(logger)
	sinks := relay.NewSinkEndpoint(engine, fanout, logger)
	source := relay.NewSourceEndpoint(engine, fanout, logger)

	sinkServer, err := signal.NewServer("sink", cfg.SinkPort, func(s *signal.Socket) {
		sinks.Accept(s)
	}, logger)
	if err != nil {
		logger.Error("fatal error:", err)
		engine.Close()
		return 1
	}

	sourceServer, err := signal.NewServer("source", cfg.SourcePort, func(s *signal.Socket) {
		source.Accept(s)
	}, logger)
	if err != nil {
		logger.Error("fatal error:", err)
		sinkServer.Close()
		engine.Close()
		return 1
	}

	// The console loop ends on the line "exit" or on EOF; a platform
	// interrupt works too.
	stdinDone := make(chan struct{})
	go func() {
		defer close(stdinDone)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if scanner.Text() == "exit" {
				return
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stdinDone:
	case sig := <-sigCh:
		logger.Info("received", sig)
	}

	logger.Info("shutting down")

	// Stop accepting, close every sink before the source's track is
	// released, then drain the signaling worker.
	sourceServer.Close()
	sinkServer.Close()
	sinks.CloseAll()
	source.Close()
	fanout.Close()
	engine.Close()

	logger.Info("done")
	return 0
}

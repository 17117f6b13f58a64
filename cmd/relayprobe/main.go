package main

import (
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"screenmirror/relay/internal/config"
	"screenmirror/relay/internal/logging"
	"screenmirror/relay/internal/probe"
	"screenmirror/relay/internal/webrtc"
)

const defaultURL = "ws://127.0.0.1:9003/"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "[relay:error] configuration:", err)
		return 1
	}

	// Diagnostic tool; log to stderr only.
	logger, _ := logging.New("")
	defer logger.Close()

	url := os.Getenv("PROBE_URL")
	if url == "" {
		url = defaultURL
	}

	engine, err := webrtc.NewEngine(cfg.TURNURL, cfg.TURNUsername, cfg.TURNCredential, logger)
	if err != nil {
		logger.Error("create media engine:", err)
		return 1
	}
	defer engine.Close()

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(stop)
	}()

	if err := probe.New(engine, logger).Run(url, stop); err != nil {
		logger.Error("probe:", err)
		return 1
	}
	return 0
}

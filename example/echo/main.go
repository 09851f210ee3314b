package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Zereker/quadsocket"
)

// echoState counts the messages a connection has sent.
type echoState struct {
	received int
}

func main() {
	streamAddr := flag.String("stream", "127.0.0.1:12345", "stream listen address")
	wsAddr := flag.String("ws", "127.0.0.1:12346", "websocket listen address")
	flag.Parse()

	settings := quadsocket.Settings[echoState]{
		// Echo
		OnMessage: func(h *quadsocket.Handle, state *echoState, msg []byte) {
			state.received++
			if err := h.Send(msg); err != nil {
				slog.Error("echo failed", "conn_id", h.ID(), "error", err)
			}
		},
		OnDisconnect: func(state echoState) {
			slog.Info("client gone", "messages", state.received)
		},
	}

	server, err := quadsocket.NewServer(*streamAddr, *wsAddr, settings)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down server...")
		cancel()
	}()

	if err := server.Serve(ctx); err != nil && ctx.Err() == nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// Command server keeps one shared point that any client can move, and sends
// its position to every client ten times a second.
package main

import (
	"context"
	"expvar"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Zereker/quadsocket"
)

// position is what clients send.
type position struct {
	X, Y float32
}

// snapshot is what the server broadcasts.
type snapshot struct {
	X, Y       float32
	LastEditor uint32
}

// world is shared by every connection.
type world struct {
	mu       sync.Mutex
	pos      position
	lastEdit uint32
	nextID   uint32
}

func (w *world) move(id *uint32, p position) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if *id == 0 {
		w.nextID++
		*id = w.nextID
	}
	w.lastEdit = *id
	w.pos = p
}

func (w *world) snapshot() snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return snapshot{X: w.pos.X, Y: w.pos.Y, LastEditor: w.lastEdit}
}

// client is the per-connection state; ID is assigned on the first move.
type client struct {
	ID uint32
}

func main() {
	streamAddr := flag.String("stream", "0.0.0.0:8090", "stream listen address")
	wsAddr := flag.String("ws", "0.0.0.0:8091", "websocket listen address")
	tick := flag.Duration("tick", 100*time.Millisecond, "broadcast interval")
	debugAddr := flag.String("debug", "", "serve /debug/vars on this address")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	w := &world{pos: position{X: 100, Y: 100}}
	codec := quadsocket.BinaryCodec{}

	settings := quadsocket.Settings[client]{
		OnMessage: func(h *quadsocket.Handle, state *client, msg []byte) {
			var p position
			if err := codec.Unmarshal(msg, &p); err != nil {
				logger.Warn("bad move", "conn_id", h.ID(), "error", err)
				h.Disconnect()
				return
			}
			w.move(&state.ID, p)
		},
		OnTimer: func(h *quadsocket.Handle, _ client) {
			if err := h.SendValue(w.snapshot()); err != nil {
				logger.Debug("broadcast failed", "conn_id", h.ID(), "error", err)
			}
		},
		OnDisconnect: func(state client) {
			logger.Info("client left", "client_id", state.ID)
		},
		Timer: *tick,
	}

	server, err := quadsocket.NewServer(*streamAddr, *wsAddr, settings,
		quadsocket.ServerLoggerOption(logger),
		quadsocket.ServerCodecOption(codec),
		quadsocket.ServerMaxFrameSizeOption(64*1024),
		quadsocket.ServerShutdownTimeoutOption(time.Second),
	)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if *debugAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/debug/vars", expvar.Handler())
			if err := http.ListenAndServe(*debugAddr, mux); err != nil {
				logger.Error("debug server", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

package quadsocket

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// errDisconnectRequested ends a connection whose callback called Handle.Disconnect.
var errDisconnectRequested = errors.New("disconnect requested by handler")

// Settings holds the per-connection callbacks of a Server. S is the
// per-connection user state; each connection starts with the zero value of S.
//
// The callbacks are shared by every connection. Any state they share across
// connections must carry its own synchronisation.
type Settings[S any] struct {
	// OnMessage is called for every message received, in arrival order.
	OnMessage func(h *Handle, state *S, msg []byte)
	// OnTimer is called every Timer interval while the connection is open.
	OnTimer func(h *Handle, state S)
	// OnDisconnect is called exactly once when the connection ends, whatever the reason.
	OnDisconnect func(state S)
	// Timer is the OnTimer interval. Zero disables the timer.
	Timer time.Duration
}

// Server accepts stream and WebSocket connections and runs the Settings
// callbacks for each of them.
type Server[S any] struct {
	streamLn net.Listener
	wsLn     net.Listener
	settings Settings[S]
	opts     serverOptions
	logger   Logger

	callbackMu sync.Mutex // held around callbacks when opts.serialCallbacks is set
	nextID     atomic.Uint64
	workers    sync.WaitGroup

	mu          sync.Mutex
	shutdown    bool
	accepted    map[net.Conn]struct{} // every accepted conn, from Accept until its worker returns
	conns       map[uint64]net.Conn   // connections with a running session
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout
}

// NewServer binds streamAddr for raw stream connections and wsAddr for
// WebSocket connections. An empty address leaves that transport disabled.
// Failing to bind either address is fatal and returned.
func NewServer[S any](streamAddr, wsAddr string, settings Settings[S], opt ...ServerOption) (*Server[S], error) {
	if streamAddr == "" && wsAddr == "" {
		return nil, ErrNoListeners
	}

	var opts serverOptions
	for _, o := range opt {
		o(&opts)
	}
	checkServerOptions(&opts)

	s := &Server[S]{
		settings:    settings,
		opts:        opts,
		logger:      opts.logger,
		accepted:    make(map[net.Conn]struct{}),
		conns:       make(map[uint64]net.Conn),
		shutdownNow: make(chan struct{}),
	}

	if streamAddr != "" {
		ln, err := net.Listen("tcp", streamAddr)
		if err != nil {
			return nil, errors.Wrapf(err, "listen stream %s", streamAddr)
		}
		s.streamLn = ln
	}

	if wsAddr != "" {
		ln, err := net.Listen("tcp", wsAddr)
		if err != nil {
			if s.streamLn != nil {
				s.streamLn.Close()
			}
			return nil, errors.Wrapf(err, "listen websocket %s", wsAddr)
		}
		s.wsLn = ln
	}

	return s, nil
}

// Listen binds both addresses and serves until the process exits.
// It only returns if binding or accepting fails.
func Listen[S any](streamAddr, wsAddr string, settings Settings[S], opt ...ServerOption) error {
	s, err := NewServer(streamAddr, wsAddr, settings, opt...)
	if err != nil {
		return err
	}
	return s.Serve(context.Background())
}

// Serve runs the accept loops of both transports concurrently and blocks
// until ctx is canceled, Close is called, or accepting fails.
//
// On cancellation the listeners stop (after the ServerShutdownTimeoutOption
// delay, if any) and every live connection is closed, which runs its
// OnDisconnect. Serve returns once all connection workers have finished.
func (s *Server[S]) Serve(ctx context.Context) error {
	s.logger.Info("server started", "stream_addr", s.StreamAddr(), "websocket_addr", s.WebSocketAddr())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, child := errgroup.WithContext(ctx)

	go func() {
		<-child.Done()

		if ctx.Err() != nil && s.opts.shutdownTimeout > 0 && !s.isShutdown() {
			s.logger.Info("graceful shutdown initiated", "timeout", s.opts.shutdownTimeout)
			select {
			case <-time.After(s.opts.shutdownTimeout):
			case <-s.shutdownNow:
				s.logger.Debug("shutdown timeout bypassed via Close()")
			}
		}

		_ = s.stop()
	}()

	if s.streamLn != nil {
		group.Go(func() error {
			return s.acceptLoop(child, s.streamLn, s.serveStream)
		})
	}

	if s.wsLn != nil {
		group.Go(func() error {
			return s.acceptLoop(child, s.wsLn, s.serveWebSocket)
		})
	}

	err := group.Wait()
	cancel()
	s.workers.Wait()

	s.logger.Info("server stopped")
	return err
}

// acceptLoop accepts connections on ln and hands each one to serve on its own goroutine.
func (s *Server[S]) acceptLoop(ctx context.Context, ln net.Listener, serve func(net.Conn)) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isShutdown() {
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "addr", ln.Addr(), "error", err)
			return errors.Wrapf(err, "accept %s", ln.Addr())
		}

		s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}

		if !s.track(conn) {
			conn.Close()
			return ctx.Err()
		}

		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			defer s.untrack(conn)
			serve(conn)
		}()
	}
}

// Close stops the server: listeners and every live connection are closed.
// It bypasses any pending shutdown timeout.
func (s *Server[S]) Close() error {
	select {
	case s.shutdownNow <- struct{}{}:
	default:
	}
	return s.stop()
}

func (s *Server[S]) stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return nil
	}
	s.shutdown = true

	var err error
	for _, ln := range []net.Listener{s.streamLn, s.wsLn} {
		if ln == nil {
			continue
		}
		if cerr := ln.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	for conn := range s.accepted {
		conn.Close()
	}
	return err
}

// track records an accepted conn so stop can close it, even before its
// session opens. It reports false once the server is shutting down.
func (s *Server[S]) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return false
	}
	s.accepted[conn] = struct{}{}
	return true
}

func (s *Server[S]) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.accepted, conn)
	s.mu.Unlock()
}

func (s *Server[S]) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// StreamAddr returns the stream listener address, or nil if disabled.
func (s *Server[S]) StreamAddr() net.Addr {
	if s.streamLn == nil {
		return nil
	}
	return s.streamLn.Addr()
}

// WebSocketAddr returns the WebSocket listener address, or nil if disabled.
func (s *Server[S]) WebSocketAddr() net.Addr {
	if s.wsLn == nil {
		return nil
	}
	return s.wsLn.Addr()
}

// Connections returns the number of live connections.
func (s *Server[S]) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// session is the server-side state of one connection, owned by its worker.
type session[S any] struct {
	server    *Server[S]
	id        uint64
	transport Transport
	conn      net.Conn
	out       sender
	state     S
	logger    Logger
}

// open registers conn. It reports false if the server is already shutting down,
// in which case conn has been closed and no callbacks will run.
func (s *Server[S]) open(transport Transport, conn net.Conn, out sender) (*session[S], bool) {
	id := s.nextID.Add(1)
	c := &session[S]{
		server:    s,
		id:        id,
		transport: transport,
		conn:      conn,
		out:       out,
		logger:    withFields(s.logger, "conn_id", id, "transport", transport.String(), "addr", conn.RemoteAddr()),
	}

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		conn.Close()
		return nil, false
	}
	s.conns[id] = conn
	s.mu.Unlock()

	countConnOpen(transport)
	c.logger.Info("connection established")
	return c, true
}

func (c *session[S]) handle() *Handle {
	return &Handle{
		id:        c.id,
		transport: c.transport,
		remote:    c.conn.RemoteAddr(),
		out:       c.out,
		codec:     c.server.opts.codec,
	}
}

func (c *session[S]) lock() func() {
	if !c.server.opts.serialCallbacks {
		return func() {}
	}
	c.server.callbackMu.Lock()
	return c.server.callbackMu.Unlock
}

// message runs OnMessage and reports whether the handler asked to disconnect.
func (c *session[S]) message(msg []byte) bool {
	countMessageIn(c.transport)

	cb := c.server.settings.OnMessage
	if cb == nil {
		return false
	}

	h := c.handle()
	unlock := c.lock()
	cb(h, &c.state, msg)
	unlock()

	return h.disconnect
}

// tick runs OnTimer and reports whether the handler asked to disconnect.
func (c *session[S]) tick() bool {
	cb := c.server.settings.OnTimer
	if cb == nil {
		return false
	}

	h := c.handle()
	unlock := c.lock()
	cb(h, c.state)
	unlock()

	return h.disconnect
}

// end closes the connection, unregisters it and runs OnDisconnect.
func (c *session[S]) end(cause error) {
	c.conn.Close()

	c.server.mu.Lock()
	delete(c.server.conns, c.id)
	c.server.mu.Unlock()
	countConnClose(c.transport)

	switch {
	case errors.Is(cause, errDisconnectRequested):
		c.logger.Info("connection closed by handler")
	case errors.Is(cause, ErrPeerClosed):
		c.logger.Info("connection closed")
	default:
		c.logger.Info("connection closed with error", "error", cause)
	}

	if cb := c.server.settings.OnDisconnect; cb != nil {
		unlock := c.lock()
		cb(c.state)
		unlock()
	}
}

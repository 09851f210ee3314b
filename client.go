// Package quadsocket provides message-oriented sockets over raw TCP streams
// and WebSockets. Applications send and receive whole binary messages; on
// TCP each message travels as a 4-byte big-endian length followed by the
// payload, on WebSocket as one binary message.
//
// The client side (Connect) is poll based: a background goroutine fills a
// queue that TryReceive drains without blocking, which suits game loops.
// The server side (Server, Listen) accepts both transports at once and
// drives per-connection callbacks through a uniform Handle.
package quadsocket

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/pkg/errors"
)

// Socket is the client end of a connection.
//
// Send may be called from any goroutine. TryReceive, TryReceiveValue and
// Receive are meant for a single consumer.
type Socket struct {
	address   string
	transport Transport
	opts      options
	logger    Logger

	mu   sync.Mutex
	conn net.Conn
	out  atomic.Pointer[senderBox]

	queue     chan []byte
	quit      chan struct{}
	done      chan struct{}
	closed    atomic.Bool
	connected atomic.Bool
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

type senderBox struct {
	sender
}

// Connect opens a socket to address.
//
// An address with a ws:// or wss:// scheme selects the WebSocket transport;
// anything else is dialed as a TCP host:port. A TCP connect error is returned
// directly. A WebSocket socket is returned at once while the handshake runs in
// the background; poll IsConnected before sending. ctx bounds connection
// establishment only.
func Connect(ctx context.Context, address string, opt ...Option) (*Socket, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	if isWebSocketURL(address) {
		s := newSocket(address, TransportWebSocket, opts)
		go s.dialWebSocket(ctx)
		return s, nil
	}

	return connectStream(ctx, address, opts)
}

func isWebSocketURL(address string) bool {
	lower := strings.ToLower(address)
	return strings.HasPrefix(lower, "ws://") || strings.HasPrefix(lower, "wss://")
}

func newSocket(address string, transport Transport, opts options) *Socket {
	return &Socket{
		address:   address,
		transport: transport,
		opts:      opts,
		logger:    withFields(opts.logger, "transport", transport.String(), "addr", address),
		queue:     make(chan []byte, opts.queueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func connectStream(ctx context.Context, address string, opts options) (*Socket, error) {
	dialer := net.Dialer{Timeout: opts.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s", address)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	s := newSocket(address, TransportStream, opts)
	s.attach(conn, &streamWriter{w: conn})
	s.logger.Info("connection established")

	dec := NewDecoder(opts.maxFrameSize)
	go s.readLoop(func() ([]byte, error) {
		for {
			frame, ok, err := dec.ReadFrame(conn)
			if err != nil || ok {
				return frame, err
			}
		}
	})

	return s, nil
}

func (s *Socket) dialWebSocket(ctx context.Context) {
	dialer := ws.Dialer{Timeout: s.opts.dialTimeout}
	conn, br, _, err := dialer.Dial(ctx, s.address)
	if err != nil {
		s.finish(errors.Wrapf(err, "connect %s", s.address))
		return
	}

	var src io.Reader = conn
	if br != nil {
		// Frames the server sent right after the handshake are still in br.
		leftover := make([]byte, br.Buffered())
		_, _ = br.Read(leftover)
		ws.PutReader(br)
		src = io.MultiReader(bytes.NewReader(leftover), conn)
	}
	wsc := newWSConn(conn, src, ws.StateClientSide, s.opts.maxFrameSize)

	if !s.attach(conn, wsc) {
		conn.Close()
		s.finish(ErrConnectionClosed)
		return
	}
	s.logger.Info("connection established")

	s.readLoop(wsc.ReadMessage)
}

// attach records the live connection. It reports false if the socket was
// closed in the meantime.
func (s *Socket) attach(conn net.Conn, out sender) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return false
	}
	s.conn = conn
	s.out.Store(&senderBox{out})
	s.connected.Store(true)
	countConnOpen(s.transport)
	return true
}

// readLoop feeds the receive queue until read fails or the socket is closed.
func (s *Socket) readLoop(read func() ([]byte, error)) {
	for {
		msg, err := read()
		if err != nil {
			s.finish(err)
			return
		}
		countMessageIn(s.transport)

		select {
		case s.queue <- msg:
		case <-s.quit:
			s.finish(ErrConnectionClosed)
			return
		}
	}
}

// finish records why the reader stopped and closes the queue.
func (s *Socket) finish(err error) {
	if s.closed.Load() {
		err = ErrConnectionClosed
	}

	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()

	if s.connected.Swap(false) {
		countConnClose(s.transport)
	}

	if errors.Is(err, ErrConnectionClosed) || errors.Is(err, ErrPeerClosed) {
		s.logger.Info("connection closed")
	} else {
		s.logger.Info("connection closed with error", "error", err)
	}

	close(s.queue)
	close(s.done)
}

// Send writes p as one message. On TCP the whole frame is written before
// Send returns.
func (s *Socket) Send(p []byte) error {
	if s.closed.Load() {
		return ErrConnectionClosed
	}

	box := s.out.Load()
	if box == nil {
		if s.readerStopped() {
			return ErrConnectionClosed
		}
		return ErrNotConnected
	}

	err := box.send(p)
	countMessageOut(s.transport, err)
	if err != nil {
		s.logger.Debug("write error", "error", err)
		return errors.Wrap(err, "send")
	}
	return nil
}

// SendValue encodes v with the configured codec and sends it.
func (s *Socket) SendValue(v any) error {
	p, err := s.opts.codec.Marshal(v)
	if err != nil {
		return errors.WithMessage(err, "send value")
	}
	return s.Send(p)
}

// TryReceive pops the oldest received message, if any. It never blocks.
func (s *Socket) TryReceive() ([]byte, bool) {
	select {
	case msg, ok := <-s.queue:
		return msg, ok
	default:
		return nil, false
	}
}

// TryReceiveValue pops the oldest received message and decodes it into v.
// It reports false when no message is waiting.
func (s *Socket) TryReceiveValue(v any) (bool, error) {
	msg, ok := s.TryReceive()
	if !ok {
		return false, nil
	}
	return true, s.opts.codec.Unmarshal(msg, v)
}

// Receive blocks until a message arrives, the socket closes or ctx is done.
// Once the socket has closed and the queue is empty it returns Err.
func (s *Socket) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg, ok := <-s.queue:
		if !ok {
			return nil, s.Err()
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsConnected reports whether the connection is established and its reader
// is still running. A WebSocket is not connected until its handshake completes.
func (s *Socket) IsConnected() bool {
	return s.connected.Load()
}

// Closed reports whether the reader has stopped and every message it
// delivered has been consumed. From then on TryReceive never returns a message.
func (s *Socket) Closed() bool {
	if !s.readerStopped() {
		return false
	}
	return len(s.queue) == 0
}

// Err returns why the reader stopped, or nil while it is running.
// ErrPeerClosed means the server hung up; ErrConnectionClosed means Close was called.
func (s *Socket) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Transport returns the transport selected at Connect.
func (s *Socket) Transport() Transport {
	return s.transport
}

// RemoteAddr returns the peer address, or nil before a WebSocket connects.
func (s *Socket) RemoteAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	return s.conn.RemoteAddr()
}

// Close closes the connection. Messages already queued stay readable.
// Safe to call multiple times.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		conn := s.conn
		s.mu.Unlock()

		close(s.quit)
		if conn != nil {
			if box := s.out.Load(); box != nil {
				if wsc, ok := box.sender.(*wsConn); ok {
					_ = wsc.writeClose()
				}
			}
			err = conn.Close()
		}
	})
	return err
}

func (s *Socket) readerStopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

package quadsocket

import (
	"net"
	"time"

	"github.com/gobwas/ws"
)

// handshakeTimeout bounds the WebSocket upgrade of an accepted connection.
const handshakeTimeout = 10 * time.Second

// serveWebSocket upgrades conn and drives it until it ends.
//
// A reader goroutine turns incoming frames into message events; the worker
// selects over messages, the timer and the read error, so callbacks for the
// connection still run one at a time on this goroutine.
func (s *Server[S]) serveWebSocket(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	if _, err := ws.Upgrade(conn); err != nil {
		s.logger.Debug("websocket upgrade failed", "remote_addr", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	wsc := newWSConn(conn, conn, ws.StateServerSide, s.opts.maxFrameSize)
	c, ok := s.open(TransportWebSocket, conn, wsc)
	if !ok {
		return
	}

	messages := make(chan []byte)
	readErr := make(chan error, 1)
	quit := make(chan struct{})
	defer close(quit)

	go func() {
		for {
			msg, err := wsc.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case messages <- msg:
			case <-quit:
				return
			}
		}
	}()

	var (
		timer    *time.Timer
		tick     <-chan time.Time
		interval = s.settings.Timer
	)
	if interval > 0 {
		timer = time.NewTimer(interval)
		defer timer.Stop()
		tick = timer.C
	}

	for {
		select {
		case msg := <-messages:
			if c.message(msg) {
				s.closeWebSocket(c, wsc)
				return
			}
		case <-tick:
			if c.tick() {
				s.closeWebSocket(c, wsc)
				return
			}
			timer.Reset(interval)
		case err := <-readErr:
			c.end(err)
			return
		}
	}
}

// closeWebSocket sends a normal closure frame before ending the session.
func (s *Server[S]) closeWebSocket(c *session[S], wsc *wsConn) {
	if err := wsc.writeClose(); err != nil {
		c.logger.Debug("write close frame failed", "error", err)
	}
	c.end(errDisconnectRequested)
}

package quadsocket

import (
	"bytes"
	"io"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/pkg/errors"
)

// wsConn exchanges whole messages over an upgraded WebSocket connection.
//
// Reads happen on one goroutine; writes may come from anywhere. Control
// replies (pong, close) produced while reading are buffered and flushed under
// the write lock, so they never interleave with a data message.
type wsConn struct {
	conn  net.Conn
	state ws.State

	reader  wsutil.Reader
	control wsutil.FrameHandlerFunc
	pending bytes.Buffer
	maxSize int // largest accepted message, 0 for unbounded

	wmu sync.Mutex
}

// newWSConn wraps conn. src is where frames are read from; it differs from
// conn when the handshake left bytes in a buffered reader. A positive
// maxSize bounds both single frames and whole messages.
func newWSConn(conn net.Conn, src io.Reader, state ws.State, maxSize int) *wsConn {
	c := &wsConn{
		conn:    conn,
		state:   state,
		maxSize: maxSize,
	}
	c.control = wsutil.ControlFrameHandler(&c.pending, state)
	c.reader = wsutil.Reader{
		Source:         src,
		State:          state,
		OnIntermediate: c.handleControl,
	}
	if maxSize > 0 {
		c.reader.MaxFrameSize = int64(maxSize)
	}
	return c
}

func (c *wsConn) handleControl(h ws.Header, r io.Reader) error {
	err := c.control(h, r)
	if ferr := c.flushControl(); err == nil {
		err = ferr
	}
	return err
}

func (c *wsConn) flushControl() error {
	if c.pending.Len() == 0 {
		return nil
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.pending.WriteTo(c.conn)
	c.pending.Reset()
	return err
}

// ReadMessage blocks until the next data message arrives.
// A close frame from the peer is answered and reported as ErrPeerClosed.
func (c *wsConn) ReadMessage() ([]byte, error) {
	msg, err := c.readMessage()
	if err != nil {
		return nil, peerClosed(err)
	}
	return msg, nil
}

func (c *wsConn) readMessage() ([]byte, error) {
	for {
		hdr, err := c.reader.NextFrame()
		if err != nil {
			return nil, err
		}

		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, &c.reader); err != nil {
				return nil, err
			}
			continue
		}

		if !hdr.OpCode.IsData() {
			if err := c.reader.Discard(); err != nil {
				return nil, err
			}
			continue
		}

		if c.maxSize == 0 {
			return io.ReadAll(&c.reader)
		}
		msg, err := io.ReadAll(io.LimitReader(&c.reader, int64(c.maxSize)+1))
		if err != nil {
			return nil, err
		}
		if len(msg) > c.maxSize {
			return nil, errors.Wrapf(ErrFrameTooLarge, "message exceeds %d bytes", c.maxSize)
		}
		return msg, nil
	}
}

// peerClosed maps an orderly close by the peer to ErrPeerClosed and an
// oversized frame to ErrFrameTooLarge.
func peerClosed(err error) error {
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		return errors.Wrapf(ErrPeerClosed, "status %d", closed.Code)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrPeerClosed
	}
	if errors.Is(err, wsutil.ErrFrameTooLarge) {
		return errors.Wrap(ErrFrameTooLarge, "websocket frame")
	}
	return err
}

// send implements sender with a single binary message.
func (c *wsConn) send(p []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return wsutil.WriteMessage(c.conn, c.state, ws.OpBinary, p)
}

// writeClose starts the closing handshake with a normal closure status.
func (c *wsConn) writeClose() error {
	f := ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	if c.state.Is(ws.StateClientSide) {
		f = ws.MaskFrameInPlace(f)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	return ws.WriteFrame(c.conn, f)
}

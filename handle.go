package quadsocket

import (
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
)

// Transport identifies the kind of connection behind a Socket or Handle.
type Transport int

const (
	// TransportStream is a raw TCP stream carrying length-prefixed frames.
	TransportStream Transport = iota
	// TransportWebSocket is a WebSocket connection carrying binary messages.
	TransportWebSocket
)

func (t Transport) String() string {
	switch t {
	case TransportStream:
		return "stream"
	case TransportWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

// sender writes one whole message on a live connection.
type sender interface {
	send(p []byte) error
}

// streamWriter frames messages onto a byte stream.
type streamWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *streamWriter) send(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFrame(s.w, p)
}

// sendError reports a failed Handle.Send; it matches ErrSendFailed and unwraps to the transport error.
type sendError struct {
	err error
}

func (e *sendError) Error() string        { return ErrSendFailed.Error() + ": " + e.err.Error() }
func (e *sendError) Unwrap() error        { return e.err }
func (e *sendError) Is(target error) bool { return target == ErrSendFailed }

// Handle is given to server callbacks to reply on, or close, the connection
// that triggered them. A fresh Handle is created for every callback.
type Handle struct {
	id        uint64
	transport Transport
	remote    net.Addr
	out       sender
	codec     Codec

	disconnect bool
}

// Send writes p to the connection as one message.
//
// A failure is returned as an error matching ErrSendFailed. It does not mark
// the connection for disconnect; the read side notices a broken transport on
// its own.
func (h *Handle) Send(p []byte) error {
	err := h.out.send(p)
	countMessageOut(h.transport, err)
	if err != nil {
		return &sendError{err: err}
	}
	return nil
}

// SendValue encodes v with the server codec and sends it.
func (h *Handle) SendValue(v any) error {
	p, err := h.codec.Marshal(v)
	if err != nil {
		return errors.WithMessage(err, "send value")
	}
	return h.Send(p)
}

// Disconnect marks the connection to be closed once the current callback
// returns. Calling it more than once has no further effect.
func (h *Handle) Disconnect() {
	h.disconnect = true
}

// ID returns the server-assigned connection number.
func (h *Handle) ID() uint64 {
	return h.id
}

// Transport returns the kind of connection the handle writes to.
func (h *Handle) Transport() Transport {
	return h.transport
}

// RemoteAddr returns the peer address.
func (h *Handle) RemoteAddr() net.Addr {
	return h.remote
}

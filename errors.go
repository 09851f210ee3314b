package quadsocket

import "github.com/pkg/errors"

// Errors returned by sockets, handles and the server.
var (
	// ErrPeerClosed is returned when the remote side closed the stream.
	ErrPeerClosed = errors.New("peer closed connection")
	// ErrFrameTooLarge is returned when a length prefix exceeds the configured maximum.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNotConnected is returned when sending on a WebSocket that has not finished its handshake.
	ErrNotConnected = errors.New("not connected")
	// ErrSendFailed wraps the transport error of a failed Handle.Send.
	ErrSendFailed = errors.New("send failed")
	// ErrNoListeners is returned by NewServer when neither address is set.
	ErrNoListeners = errors.New("no listen address")
)

package quadsocket

import (
	"time"
)

// Default configuration values.
const (
	// defaultQueueSize is the default capacity of a client's receive queue.
	defaultQueueSize = 1024
	// defaultDialTimeout bounds how long Connect waits for TCP and the WebSocket handshake.
	defaultDialTimeout = 10 * time.Second
)

// options holds the configuration for a client Socket.
type options struct {
	codec  Codec
	logger Logger

	queueSize    int           // capacity of the receive queue
	maxFrameSize int           // largest accepted frame, 0 for unbounded
	dialTimeout  time.Duration // connect and handshake timeout
}

// Option is a function that configures a client Socket.
type Option func(*options)

// CodecOption sets the codec used by SendValue and TryReceiveValue.
// The default is BinaryCodec with big-endian order.
func CodecOption(codec Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// LoggerOption sets the logger. If not set, the default slog logger is used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// QueueSizeOption sets how many received messages may wait for TryReceive.
// When the queue is full the reader stops reading until the caller catches up.
func QueueSizeOption(size int) Option {
	return func(o *options) {
		o.queueSize = size
	}
}

// MaxFrameSizeOption caps the size of a received message on either transport.
// A larger one closes the socket with ErrFrameTooLarge.
func MaxFrameSizeOption(size int) Option {
	return func(o *options) {
		o.maxFrameSize = size
	}
}

// DialTimeoutOption bounds connection establishment.
func DialTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = timeout
	}
}

// checkOptions sets default values for client options.
func checkOptions(opts *options) {
	if opts.codec == nil {
		opts.codec = BinaryCodec{}
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	if opts.queueSize <= 0 {
		opts.queueSize = defaultQueueSize
	}

	if opts.maxFrameSize < 0 {
		opts.maxFrameSize = 0
	}

	if opts.dialTimeout <= 0 {
		opts.dialTimeout = defaultDialTimeout
	}
}

// serverOptions holds the configuration for a Server.
type serverOptions struct {
	codec  Codec
	logger Logger

	maxFrameSize    int           // largest accepted frame, 0 for unbounded
	shutdownTimeout time.Duration // delay between cancellation and listener close
	serialCallbacks bool          // one lock around every callback of every connection
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

// ServerLoggerOption sets the logger for the server and its connections.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// ServerCodecOption sets the codec used by Handle.SendValue.
func ServerCodecOption(codec Codec) ServerOption {
	return func(o *serverOptions) {
		o.codec = codec
	}
}

// ServerMaxFrameSizeOption caps the size of a message on either transport:
// the length prefix on stream connections, the frame and message size on
// WebSocket connections. A connection sending a larger one is disconnected.
func ServerMaxFrameSizeOption(size int) ServerOption {
	return func(o *serverOptions) {
		o.maxFrameSize = size
	}
}

// ServerShutdownTimeoutOption sets the graceful shutdown timeout.
// When the context passed to Serve is canceled, the server waits up to this
// duration before closing its listeners and live connections.
// Default is 0 (immediate shutdown).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.shutdownTimeout = timeout
	}
}

// SerialCallbacksOption makes all callbacks of all connections, on both
// transports, run under one shared lock. A slow callback then stalls every
// other connection.
func SerialCallbacksOption() ServerOption {
	return func(o *serverOptions) {
		o.serialCallbacks = true
	}
}

// checkServerOptions sets default values for server options.
func checkServerOptions(opts *serverOptions) {
	if opts.codec == nil {
		opts.codec = BinaryCodec{}
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	if opts.maxFrameSize < 0 {
		opts.maxFrameSize = 0
	}

	if opts.shutdownTimeout < 0 {
		opts.shutdownTimeout = 0
	}
}

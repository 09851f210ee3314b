package quadsocket

import (
	"encoding/binary"
	"io"
	"math"
	"net"
	"os"

	"github.com/gobwas/pool/pbytes"
	"github.com/pkg/errors"
)

const (
	// headerSize is the size of the big-endian length prefix in front of every frame.
	headerSize = 4
	// readChunkSize is how much ReadFrame asks the reader for in one call.
	readChunkSize = 16 * 1024
)

// AppendFrame appends the wire form of payload (length prefix, then payload) to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// EncodeFrame returns the wire form of payload.
func EncodeFrame(payload []byte) []byte {
	return AppendFrame(make([]byte, 0, headerSize+len(payload)), payload)
}

// Decoder reassembles length-prefixed frames out of a byte stream that may
// arrive in arbitrary chunks. A Decoder is owned by a single goroutine.
type Decoder struct {
	buf          []byte
	maxFrameSize int
}

// NewDecoder returns a Decoder. A maxFrameSize of zero or less means frames
// of any length are accepted.
func NewDecoder(maxFrameSize int) *Decoder {
	return &Decoder{maxFrameSize: maxFrameSize}
}

// Feed appends raw stream bytes to the decoder.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes retained that do not yet form a complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next extracts one complete frame from the buffered bytes.
// It returns ok == false with a nil error when more bytes are needed.
func (d *Decoder) Next() (frame []byte, ok bool, err error) {
	if len(d.buf) < headerSize {
		return nil, false, nil
	}

	n := uint64(binary.BigEndian.Uint32(d.buf))
	if d.maxFrameSize > 0 && n > uint64(d.maxFrameSize) {
		return nil, false, errors.Wrapf(ErrFrameTooLarge, "length %d exceeds %d", n, d.maxFrameSize)
	}

	if uint64(len(d.buf)) < headerSize+n {
		return nil, false, nil
	}

	end := headerSize + int(n)
	frame = make([]byte, n)
	copy(frame, d.buf[headerSize:end])

	rest := copy(d.buf, d.buf[end:])
	d.buf = d.buf[:rest]

	return frame, true, nil
}

// ReadFrame returns the next frame, reading from r at most once.
//
// Frames that are already buffered are returned without touching r, so
// callers should keep calling ReadFrame until it reports ok == false before
// waiting for more data. A read that times out (a deadline set on a net.Conn)
// is reported as ok == false with a nil error. A read that returns no bytes
// means the peer went away and yields ErrPeerClosed; any other read error is
// returned as is. Both are terminal for the stream.
func (d *Decoder) ReadFrame(r io.Reader) (frame []byte, ok bool, err error) {
	if frame, ok, err = d.Next(); ok || err != nil {
		return frame, ok, err
	}

	chunk := pbytes.GetLen(readChunkSize)
	defer pbytes.Put(chunk)

	n, err := r.Read(chunk)
	if n > 0 {
		d.Feed(chunk[:n])
		return d.Next()
	}

	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil, false, ErrPeerClosed
	case isTimeout(err):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// writeFrame writes payload to w in wire form, looping until every byte is written.
func writeFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return errors.Wrapf(ErrFrameTooLarge, "length %d", len(payload))
	}

	buf := AppendFrame(pbytes.GetCap(headerSize+len(payload)), payload)
	defer pbytes.Put(buf)

	return writeFull(w, buf)
}

func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

package quadsocket

import (
	"bytes"
	"io"
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader hands out one pre-cut chunk per Read, then io.EOF.
type chunkReader struct {
	chunks [][]byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

// errReader always fails with err.
type errReader struct {
	err error
}

func (r errReader) Read([]byte) (int, error) {
	return 0, r.err
}

// splitRandom cuts p into non-empty chunks of random size.
func splitRandom(rng *rand.Rand, p []byte) [][]byte {
	var chunks [][]byte
	for len(p) > 0 {
		n := 1 + rng.Intn(len(p))
		chunks = append(chunks, p[:n])
		p = p[n:]
	}
	return chunks
}

// readAll drains frames from r until the decoder reports a terminal error.
func readAll(t *testing.T, dec *Decoder, r io.Reader) ([][]byte, error) {
	t.Helper()
	var frames [][]byte
	for i := 0; i < 1<<20; i++ {
		frame, ok, err := dec.ReadFrame(r)
		if err != nil {
			return frames, err
		}
		if ok {
			frames = append(frames, frame)
		}
	}
	t.Fatal("decoder did not terminate")
	return nil, nil
}

func TestEncodeFrame(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 3, 1, 2, 3}, EncodeFrame([]byte{1, 2, 3}))
	assert.Equal(t, []byte{0, 0, 0, 0}, EncodeFrame(nil))
	assert.Equal(t, []byte{0xff, 0, 0, 0, 1, 0x2a}, AppendFrame([]byte{0xff}, []byte{0x2a}))
}

func TestDecoder_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, size := range []int{0, 1, 3, 4, 5, 255, 256, 4096, readChunkSize, readChunkSize + 1, 1 << 20} {
		payload := make([]byte, size)
		rng.Read(payload)

		dec := NewDecoder(0)
		frames, err := readAll(t, dec, bytes.NewReader(EncodeFrame(payload)))

		assert.ErrorIs(t, err, ErrPeerClosed)
		require.Len(t, frames, 1, "size %d", size)
		assert.Equal(t, payload, frames[0], "size %d", size)
		assert.Zero(t, dec.Buffered())
	}
}

func TestDecoder_EmptyFrame(t *testing.T) {
	dec := NewDecoder(0)
	dec.Feed([]byte{0, 0, 0, 0})

	frame, ok, err := dec.Next()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotNil(t, frame)
	assert.Empty(t, frame)
	assert.Zero(t, dec.Buffered())
}

func TestDecoder_Fragmentation(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	payload := make([]byte, 1000)
	rng.Read(payload)
	wire := EncodeFrame(payload)

	for i := 0; i < 50; i++ {
		dec := NewDecoder(0)
		r := &chunkReader{chunks: splitRandom(rng, append([]byte(nil), wire...))}

		var got [][]byte
		for len(r.chunks) > 0 {
			frame, ok, err := dec.ReadFrame(r)
			require.NoError(t, err)
			if ok {
				got = append(got, frame)
			}
		}

		require.Len(t, got, 1)
		assert.Equal(t, payload, got[0])
	}
}

func TestDecoder_ByteAtATime(t *testing.T) {
	wire := EncodeFrame([]byte("hello"))
	dec := NewDecoder(0)

	for i, b := range wire {
		dec.Feed([]byte{b})
		frame, ok, err := dec.Next()
		require.NoError(t, err)
		if i < len(wire)-1 {
			assert.False(t, ok, "frame reported after %d bytes", i+1)
			assert.Equal(t, i+1, dec.Buffered())
			continue
		}
		assert.True(t, ok)
		assert.Equal(t, []byte("hello"), frame)
	}
}

func TestDecoder_MultiFrameBatch(t *testing.T) {
	wire := append(EncodeFrame([]byte("first")), EncodeFrame([]byte("second"))...)

	dec := NewDecoder(0)
	frames, err := readAll(t, dec, bytes.NewReader(wire))

	assert.ErrorIs(t, err, ErrPeerClosed)
	assert.Equal(t, [][]byte{[]byte("first"), []byte("second")}, frames)
	assert.Zero(t, dec.Buffered())
}

func TestDecoder_OrderPreserved(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	var (
		wire []byte
		want [][]byte
	)
	for i := 0; i < 200; i++ {
		payload := make([]byte, rng.Intn(64))
		rng.Read(payload)
		want = append(want, payload)
		wire = AppendFrame(wire, payload)
	}

	for i := 0; i < 10; i++ {
		dec := NewDecoder(0)
		frames, err := readAll(t, dec, &chunkReader{chunks: splitRandom(rng, append([]byte(nil), wire...))})
		assert.ErrorIs(t, err, ErrPeerClosed)
		assert.Equal(t, want, frames)
	}
}

func TestDecoder_DrainsBufferedFramesWithoutReading(t *testing.T) {
	dec := NewDecoder(0)
	dec.Feed(append(EncodeFrame([]byte{1}), EncodeFrame([]byte{2})...))

	r := errReader{err: io.ErrUnexpectedEOF}
	for _, want := range []byte{1, 2} {
		frame, ok, err := dec.ReadFrame(r)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte{want}, frame)
	}

	_, _, err := dec.ReadFrame(r)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecoder_PartialHeaderRetained(t *testing.T) {
	dec := NewDecoder(0)

	frame, ok, err := dec.ReadFrame(&chunkReader{chunks: [][]byte{{0, 0}}})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, frame)
	assert.Equal(t, 2, dec.Buffered())

	frame, ok, err = dec.ReadFrame(&chunkReader{chunks: [][]byte{{0, 1, 7}}})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{7}, frame)
}

func TestDecoder_WouldBlock(t *testing.T) {
	dec := NewDecoder(0)
	dec.Feed([]byte{0, 0, 0, 9, 1})

	frame, ok, err := dec.ReadFrame(errReader{err: os.ErrDeadlineExceeded})
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, frame)
	assert.Equal(t, 5, dec.Buffered())
}

func TestDecoder_PeerClosed(t *testing.T) {
	dec := NewDecoder(0)

	_, _, err := dec.ReadFrame(errReader{err: io.EOF})
	assert.ErrorIs(t, err, ErrPeerClosed)

	_, _, err = dec.ReadFrame(errReader{})
	assert.ErrorIs(t, err, ErrPeerClosed, "zero-byte read means the peer went away")
}

func TestDecoder_MalformedStream(t *testing.T) {
	dec := NewDecoder(0)
	frames, err := readAll(t, dec, bytes.NewReader([]byte{0x00, 0x01}))

	assert.ErrorIs(t, err, ErrPeerClosed)
	assert.Empty(t, frames)
	assert.Equal(t, 2, dec.Buffered())
}

func TestDecoder_MaxFrameSize(t *testing.T) {
	dec := NewDecoder(8)
	dec.Feed(EncodeFrame(make([]byte, 8)))
	frame, ok, err := dec.Next()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, frame, 8)

	dec.Feed([]byte{0, 0, 0, 9})
	_, ok, err = dec.Next()
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecoder_HugeLengthWaits(t *testing.T) {
	dec := NewDecoder(0)
	dec.Feed([]byte{0xff, 0xff, 0xff, 0xff, 1, 2, 3})

	_, ok, err := dec.Next()
	assert.NoError(t, err)
	assert.False(t, ok)
}

// trickleWriter accepts at most one byte per Write.
type trickleWriter struct {
	bytes.Buffer
	calls int
}

func (w *trickleWriter) Write(p []byte) (int, error) {
	w.calls++
	if len(p) == 0 {
		return 0, nil
	}
	return w.Buffer.Write(p[:1])
}

func TestWriteFrame_LoopsUntilWritten(t *testing.T) {
	w := &trickleWriter{}
	require.NoError(t, writeFrame(w, []byte{1, 2, 3}))

	assert.Equal(t, EncodeFrame([]byte{1, 2, 3}), w.Bytes())
	assert.Equal(t, 7, w.calls)
}

// stuckWriter never makes progress.
type stuckWriter struct{}

func (stuckWriter) Write([]byte) (int, error) { return 0, nil }

func TestWriteFrame_NoProgress(t *testing.T) {
	assert.ErrorIs(t, writeFrame(stuckWriter{}, []byte{1}), io.ErrShortWrite)
}

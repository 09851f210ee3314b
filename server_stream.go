package quadsocket

import (
	"net"
	"time"
)

// serveStream drives one raw stream connection until it ends.
//
// Frames are read through a fresh Decoder. The read deadline is set to the
// next timer firing, so the worker sleeps in the kernel until either data
// arrives or the timer is due; without a timer it blocks on the read.
func (s *Server[S]) serveStream(conn net.Conn) {
	c, ok := s.open(TransportStream, conn, &streamWriter{w: conn})
	if !ok {
		return
	}

	dec := NewDecoder(s.opts.maxFrameSize)
	interval := s.settings.Timer
	lastTick := time.Now()

	for {
		var deadline time.Time
		if interval > 0 {
			deadline = lastTick.Add(interval)
		}
		_ = conn.SetReadDeadline(deadline)

		frame, ok, err := dec.ReadFrame(conn)
		if err != nil {
			c.end(err)
			return
		}

		if ok {
			if c.message(frame) {
				c.end(errDisconnectRequested)
				return
			}
			continue
		}

		if interval > 0 && time.Since(lastTick) >= interval {
			lastTick = time.Now()
			if c.tick() {
				c.end(errDisconnectRequested)
				return
			}
		}
	}
}

package websocket

import "net"

// WriteFrame writes a single frame, applying compression (if negotiated
// and the frame is a data frame) and masking (if this connection is a
// client) before sending it in one vectored write.
func (c *Conn) WriteFrame(f Frame) error {
	return c.WriteFrames([]Frame{f})
}

// WriteFrames writes multiple frames as one write-locked batch, the way
// a caller sending a fragmented message (several WriteFrame calls that
// must not be interleaved with another goroutine's frames) would use it.
// RFC 6455 Section 5.4 forbids interleaving another message's frames
// inside a fragmented one; serializing the whole batch under writeMu is
// the simplest way to guarantee that regardless of how many goroutines
// call WriteFrame concurrently.
func (c *Conn) WriteFrames(frames []Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.state.isClosed() {
		return ErrConnectionClosed
	}
	// Compression is only applied to a single, unfragmented data frame:
	// splitting one deflate stream across several physical frames would
	// require carrying partial-block state between writeOneRaw calls,
	// which this engine doesn't do (mirrors the no-context-takeover
	// simplification already made in negotiatedDeflate).
	allowCompress := len(frames) == 1
	for i, f := range frames {
		fin := i == len(frames)-1
		if err := c.writeOneRaw(f, fin, allowCompress); err != nil {
			c.state.closeIt()
			return err
		}
	}
	return nil
}

// writeOneRaw encodes and sends f, setting Fin explicitly; WriteFrames
// uses fin=false for every frame but the last of a fragmented message.
// Caller holds writeMu.
func (c *Conn) writeOneRaw(f Frame, fin, allowCompress bool) error {
	op := f.OpCode
	payload := f.Payload

	if op.IsControl() && len(payload) > MaxControlPayload {
		return ErrVeryLargeControlFrame
	}

	rfi := ReadFrameInfo{Fin: fin, OpCode: op}

	if allowCompress && op.IsData() && c.compression != nil && len(payload) > 0 {
		c.writeScratch = c.writeScratch[:0]
		if _, err := c.compression.Compress(payload, &c.writeScratch); err != nil {
			return err
		}
		payload = c.writeScratch
		rfi.Rsv1 = true
	}
	rfi.PayloadLen = uint64(len(payload))

	var maskKey *[4]byte
	if !c.isServer && !c.noMasking {
		var key [4]byte
		if _, err := c.rng.Read(key[:]); err != nil {
			return err
		}
		masked := make([]byte, len(payload))
		copy(masked, payload)
		unmask(masked, key) // XOR is its own inverse: this masks
		payload = masked
		maskKey = &key
	}

	header, n := encodeFrameHeader(rfi, maskKey)
	bufs := net.Buffers{append([]byte(nil), header[:n]...), payload}
	_, err := bufs.WriteTo(c.netConn)
	return err
}

package websocket

import (
	"errors"
	"io"
	"unicode/utf8"
)

// ReadFrame reads the next complete WebSocket message. Ping and Pong
// control frames are handled internally (a Pong is auto-replied to every
// Ping, carrying identical application data) and never surface here; a
// Close frame does surface, after the connection has been transitioned
// to StateClosed and, if this is the first Close seen, echoed back to
// the peer per RFC 6455 Section 5.5.1.
//
// The returned Frame's Payload aliases one of three backings depending on
// how the message arrived (see payloadSource): it is only valid until the
// next call to ReadFrame.
func (c *Conn) ReadFrame() (Frame, error) {
	if c.state.isClosed() {
		return Frame{}, ErrConnectionClosed
	}
	c.buf.rb2 = c.buf.rb2[:0]

	for {
		rfi, err := c.readPhysicalFrame()
		if err != nil {
			return Frame{}, err
		}
		payload := c.buf.nb.current()

		if rfi.OpCode.IsControl() {
			f, handled, err := c.handleControlFrame(rfi, payload)
			if err != nil {
				return Frame{}, err
			}
			if handled {
				continue
			}
			return f, nil
		}

		if !c.inFragment {
			if rfi.OpCode == OpContinuation {
				c.fail()
				return Frame{}, ErrUnexpectedMessageFrame
			}
			if rfi.Fin {
				return c.finishSingleFrame(rfi, payload)
			}
			c.inFragment = true
			c.fragOpCode = rfi.OpCode
			c.fragCompressed = rfi.Rsv1
			c.fragIncomplete = nil
			c.buf.rb1 = c.buf.rb1[:0]
			if err := c.appendFragment(payload); err != nil {
				c.fail()
				return Frame{}, err
			}
			continue
		}

		if rfi.OpCode != OpContinuation {
			c.fail()
			return Frame{}, ErrUnexpectedMessageFrame
		}
		if err := c.appendFragment(payload); err != nil {
			c.fail()
			return Frame{}, err
		}
		if !rfi.Fin {
			continue
		}
		return c.finishFragmented()
	}
}

// readPhysicalFrame decodes and unmasks (if applicable) the next frame
// header and payload already present in, or newly read into, the PFB. It
// returns once a full frame is available; decodeFrameHeader's errNeedMore
// drives a loop that pulls more bytes off the wire.
func (c *Conn) readPhysicalFrame() (ReadFrameInfo, error) {
	requireMask := c.isServer && !c.noMasking
	compressionActive := c.compression != nil

	for {
		c.buf.nb.clearIfFollowingIsEmpty()
		avail := c.buf.nb.following()
		rfi, err := decodeFrameHeader(avail, c.maxPayloadLen, requireMask, compressionActive)
		if err == nil {
			total := int(rfi.HeaderLen) + int(rfi.PayloadLen)
			if len(avail) >= total {
				base := c.buf.nb.currentEndIdx()
				payloadStart := base + int(rfi.HeaderLen)
				payloadEnd := payloadStart + int(rfi.PayloadLen)
				if err := c.buf.nb.setIndices(payloadStart, payloadEnd, c.buf.nb.c); err != nil {
					c.fail()
					return ReadFrameInfo{}, err
				}
				if rfi.Mask != nil {
					unmask(c.buf.nb.currentMut(), *rfi.Mask)
				}
				return rfi, nil
			}
		} else if !errors.Is(err, errNeedMore) {
			c.fail()
			return ReadFrameInfo{}, err
		}
		if err := c.fillMore(); err != nil {
			c.fail()
			return ReadFrameInfo{}, err
		}
	}
}

// fillMore reads at least one more chunk of bytes from the underlying
// connection into the PFB's following region.
func (c *Conn) fillMore() error {
	dst := c.buf.nb.readDest(defaultNetworkBufferSize)
	n, err := c.netConn.Read(dst)
	if n > 0 {
		c.buf.nb.commitRead(n)
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ErrUnexpectedEOF
		}
		return err
	}
	if n == 0 {
		return ErrUnexpectedEOF
	}
	return nil
}

// fail transitions the connection to StateClosed on any protocol
// violation or I/O error; subsequent calls observe ErrConnectionClosed.
func (c *Conn) fail() {
	c.state.closeIt()
	c.buf.nb.clear()
}

// handleControlFrame processes a Ping, Pong, or Close frame. handled is
// true when the caller's read loop should keep reading (Ping/Pong never
// surface); it is false when f is a Close frame ready to return.
func (c *Conn) handleControlFrame(rfi ReadFrameInfo, payload []byte) (f Frame, handled bool, err error) {
	switch rfi.OpCode {
	case OpPing:
		reply := append([]byte(nil), payload...)
		if werr := c.WriteFrame(Frame{OpCode: OpPong, Payload: reply}); werr != nil {
			c.fail()
			return Frame{}, false, werr
		}
		return Frame{}, true, nil

	case OpPong:
		return Frame{}, true, nil

	case OpClose:
		code, reason, perr := parseCloseFrame(payload)
		if perr != nil {
			c.fail()
			return Frame{}, false, perr
		}
		alreadyClosed := c.state.isClosed()
		// A Close interleaved mid-fragmented message takes priority:
		// honor it and discard whatever reassembly was in progress.
		c.inFragment = false
		c.fragIncomplete = nil
		c.buf.rb1 = c.buf.rb1[:0]
		closePayload := append([]byte(nil), payload...)
		if !alreadyClosed {
			_ = c.WriteFrame(Frame{OpCode: OpClose, Payload: closePayload})
		}
		c.state.closeIt()
		_ = code
		_ = reason
		return Frame{OpCode: OpClose, Payload: closePayload}, false, nil

	default:
		c.fail()
		return Frame{}, false, ErrReservedBitsAreNotZero
	}
}

// parseCloseFrame validates a Close frame's payload per RFC 6455 Section
// 7.1.6: empty is fine (no status given), a single byte is malformed, two
// or more bytes must begin with an allowed status code followed by a
// valid UTF-8 reason.
func parseCloseFrame(payload []byte) (CloseCode, string, error) {
	if len(payload) == 0 {
		return CloseNoStatusReceived, "", nil
	}
	if len(payload) == 1 {
		return 0, "", ErrInvalidCloseFrame
	}
	code := CloseCode(uint16(payload[0])<<8 | uint16(payload[1]))
	if !code.IsAllowed() {
		return 0, "", ErrInvalidCloseFrame
	}
	reason := payload[2:]
	if !utf8.Valid(reason) {
		return 0, "", ErrInvalidUTF8
	}
	return code, string(reason), nil
}

// appendFragment accumulates a continuation (or first) fragment's
// already-unmasked bytes into rb1, incrementally validating UTF-8 as it
// goes when the message is text and not compressed (compressed bytes
// aren't a candidate for UTF-8 validation until decompressed).
func (c *Conn) appendFragment(payload []byte) error {
	c.buf.rb1 = append(c.buf.rb1, payload...)
	if c.fragOpCode == OpText && !c.fragCompressed {
		return c.validateIncrementalUTF8(payload)
	}
	return nil
}

func (c *Conn) validateIncrementalUTF8(chunk []byte) error {
	if c.fragIncomplete != nil {
		rest, err := c.fragIncomplete.Complete(chunk)
		switch {
		case err == nil:
			c.fragIncomplete = nil
			chunk = rest
		case errors.Is(err, ErrUTF8Insufficient):
			return nil
		default:
			return err
		}
	}
	iuc, err := ValidatePartial(chunk)
	if err != nil {
		return err
	}
	c.fragIncomplete = iuc
	return nil
}

// finishSingleFrame surfaces a complete, unfragmented message: a
// zero-copy view into the network buffer when uncompressed, or the
// decompressed contents of rb2 when compressed.
func (c *Conn) finishSingleFrame(rfi ReadFrameInfo, payload []byte) (Frame, error) {
	if rfi.ShouldDecompress {
		return c.decompressInto(rfi.OpCode, payload)
	}
	if rfi.OpCode == OpText {
		if err := ValidateFull(payload); err != nil {
			c.fail()
			return Frame{}, err
		}
	}
	return Frame{OpCode: rfi.OpCode, Payload: payload, source: payloadSourceNetwork}, nil
}

// finishFragmented surfaces a message reassembled from two or more
// fragments, held in rb1 (and, if compressed, decompressed into rb2).
func (c *Conn) finishFragmented() (Frame, error) {
	op := c.fragOpCode
	compressed := c.fragCompressed
	incomplete := c.fragIncomplete

	c.inFragment = false
	c.fragIncomplete = nil

	if compressed {
		return c.decompressInto(op, c.buf.rb1)
	}
	if op == OpText && incomplete != nil {
		c.fail()
		return Frame{}, ErrInvalidUTF8
	}
	return Frame{OpCode: op, Payload: c.buf.rb1, source: payloadSourceFirst}, nil
}

// decompressInto runs input (raw deflate bytes, with the trailing
// DECOMPRESSION_SUFFIX restored) through the negotiated codec into rb2.
func (c *Conn) decompressInto(op OpCode, input []byte) (Frame, error) {
	full := make([]byte, 0, len(input)+len(decompressionSuffix))
	full = append(full, input...)
	full = append(full, decompressionSuffix[:]...)

	c.buf.rb2 = c.buf.rb2[:0]
	if _, err := c.compression.Decompress(full, &c.buf.rb2); err != nil {
		c.fail()
		return Frame{}, err
	}
	if op == OpText {
		if err := ValidateFull(c.buf.rb2); err != nil {
			c.fail()
			return Frame{}, err
		}
	}
	return Frame{OpCode: op, Payload: c.buf.rb2, source: payloadSourceSecond}, nil
}

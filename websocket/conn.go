package websocket

import (
	"encoding/json/v2"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// ConnectionState is the shared Open/Closed state a Conn's reader and
// writer halves observe without taking a full mutex on the hot path.
type ConnectionState int32

const (
	// StateOpen is the state of a freshly handshaken connection.
	StateOpen ConnectionState = iota
	// StateClosed is the terminal state: reached once a Close frame has
	// been sent or received (or a fatal protocol error occurred), after
	// which ReadFrame/WriteFrame return ErrConnectionClosed.
	StateClosed
)

// defaultMaxPayloadLen bounds a single frame's declared payload length,
// guarding against a peer claiming an absurd 64-bit length and exhausting
// memory before any bytes have even arrived.
const defaultMaxPayloadLen = 32 << 20 // 32 MiB

// Conn is a single RFC 6455 WebSocket connection: the handshake has
// already completed (via Accept or Connect) and frames may now be read
// and written.
//
// A Conn is safe for one concurrent reader and one concurrent writer (the
// RFC forbids interleaving two writers' fragmented messages regardless of
// language, so writeMu serializes WriteFrame/WriteFrames). Split divides
// the two halves into independent values for callers that want to read
// and write from different goroutines without sharing the Conn itself.
type Conn struct {
	netConn     net.Conn
	isServer    bool
	compression NegotiatedCompression
	rng         Rng

	// noMasking is true once the "no-masking" extension (Sec-WebSocket-
	// Extensions: no-masking) has been negotiated by both peers: the
	// writer skips masking its own frames and the reader no longer
	// requires the MASK bit on frames it receives.
	noMasking bool

	buf           *webSocketBuffer
	maxPayloadLen uint64

	state ConnState

	writeMu      sync.Mutex
	writeScratch []byte

	// subprotocol is stored as a BoundedString rather than a plain string:
	// RFC 6455 Section 1.9 subprotocol tokens are short ASCII identifiers,
	// a natural fit for the fixed-capacity scratch value the handshake
	// already uses for Sec-WebSocket-Key/Accept.
	subprotocol BoundedString

	// Fragment reassembly state, reader-side only.
	inFragment     bool
	fragOpCode     OpCode
	fragCompressed bool
	fragIncomplete *IncompleteUTF8Char
}

// ConnState wraps the atomic int32 backing ConnectionState so the zero
// value is a valid, Open Conn.
type ConnState struct {
	v atomic.Int32
}

func (s *ConnState) load() ConnectionState { return ConnectionState(s.v.Load()) }
func (s *ConnState) closeIt()              { s.v.Store(int32(StateClosed)) }
func (s *ConnState) isClosed() bool        { return s.load() == StateClosed }

// newConn builds a Conn around an already-hijacked or already-dialed
// net.Conn. Not exported: callers reach it only through Accept/Connect.
func newConn(netConn net.Conn, isServer bool, compression NegotiatedCompression, rng Rng, readBufSize, writeBufSize int) *Conn {
	if rng == nil {
		rng = defaultRng
	}
	return &Conn{
		netConn:       netConn,
		isServer:      isServer,
		compression:   compression,
		rng:           rng,
		buf:           newWebSocketBuffer(readBufSize),
		maxPayloadLen: defaultMaxPayloadLen,
		writeScratch:  make([]byte, 0, writeBufSize),
	}
}

// seedFollowing copies bytes the handshake's buffered reader had already
// pulled off the wire into the PFB's following region, so the first
// ReadFrame call sees them instead of blocking on a redundant read.
func (c *Conn) seedFollowing(data []byte) {
	dst := c.buf.nb.readDest(len(data))
	n := copy(dst, data)
	c.buf.nb.commitRead(n)
}

// State reports the connection's current lifecycle state.
func (c *Conn) State() ConnectionState { return c.state.load() }

// Subprotocol returns the subprotocol negotiated during the handshake, or
// "" if none was negotiated.
func (c *Conn) Subprotocol() string { return c.subprotocol.String() }

// maxSubprotocolLen bounds the BoundedString Conn.subprotocol is stored
// in; RFC 6455 subprotocol tokens are short registered identifiers
// ("chat", "graphql-ws", ...), so this is generous headroom rather than
// a tight fit.
const maxSubprotocolLen = 256

// newBoundedSubprotocol builds the BoundedString Conn.subprotocol holds,
// clamping an implausibly long negotiated value rather than failing the
// handshake over it.
func newBoundedSubprotocol(s string) BoundedString {
	if len(s) > maxSubprotocolLen {
		s = s[:maxSubprotocolLen]
	}
	bs := NewBoundedString(maxSubprotocolLen)
	_ = bs.PushString(s)
	return bs
}

// LocalAddr and RemoteAddr expose the underlying net.Conn's endpoints.
func (c *Conn) LocalAddr() net.Addr  { return c.netConn.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.netConn.RemoteAddr() }

// SetMaxPayloadLen overrides the default per-frame payload cap.
func (c *Conn) SetMaxPayloadLen(n uint64) { c.maxPayloadLen = n }

// Read is a convenience wrapper over ReadFrame returning the raw opcode
// and payload, matching the teacher's original Read signature.
func (c *Conn) Read() (OpCode, []byte, error) {
	f, err := c.ReadFrame()
	if err != nil {
		return 0, nil, err
	}
	return f.OpCode, f.Payload, nil
}

// ReadText reads the next message and requires it to be a text frame.
func (c *Conn) ReadText() (string, error) {
	f, err := c.ReadFrame()
	if err != nil {
		return "", err
	}
	if f.OpCode != OpText {
		return "", ErrInvalidMessageType
	}
	return string(f.Payload), nil
}

// ReadJSON reads the next message, requires it to be text or binary, and
// unmarshals its payload into v.
func (c *Conn) ReadJSON(v any) error {
	f, err := c.ReadFrame()
	if err != nil {
		return err
	}
	if f.OpCode != OpText && f.OpCode != OpBinary {
		return ErrInvalidMessageType
	}
	return json.Unmarshal(f.Payload, v)
}

// Write is a convenience wrapper over WriteFrame.
func (c *Conn) Write(op OpCode, payload []byte) error {
	return c.WriteFrame(Frame{OpCode: op, Payload: payload})
}

// WriteText writes s as a single text frame.
func (c *Conn) WriteText(s string) error {
	return c.WriteFrame(Frame{OpCode: OpText, Payload: []byte(s)})
}

// WriteJSON marshals v and writes it as a single text frame.
func (c *Conn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteFrame(Frame{OpCode: OpText, Payload: data})
}

// Ping sends a Ping control frame carrying payload (at most
// MaxControlPayload bytes).
func (c *Conn) Ping(payload []byte) error {
	return c.WriteFrame(Frame{OpCode: OpPing, Payload: payload})
}

// Pong sends an unsolicited Pong control frame.
func (c *Conn) Pong(payload []byte) error {
	return c.WriteFrame(Frame{OpCode: OpPong, Payload: payload})
}

// Close sends a Close frame with CloseNormalClosure and no reason, then
// closes the underlying connection.
func (c *Conn) Close() error {
	return c.CloseWithCode(CloseNormalClosure, "")
}

// CloseWithCode sends a Close frame carrying code and reason, then closes
// the underlying net.Conn. Calling it more than once is safe; only the
// first call writes a frame.
func (c *Conn) CloseWithCode(code CloseCode, reason string) error {
	if c.state.isClosed() {
		return c.netConn.Close()
	}
	payload := make([]byte, 2+len(reason))
	payload[0] = byte(code >> 8)
	payload[1] = byte(code)
	copy(payload[2:], reason)
	writeErr := c.WriteFrame(Frame{OpCode: OpClose, Payload: payload})
	c.state.closeIt()
	closeErr := c.netConn.Close()
	if writeErr != nil {
		return fmt.Errorf("websocket: close: %w", writeErr)
	}
	return closeErr
}

// Reader is the read-only half of a split Conn.
type Reader struct{ c *Conn }

// Writer is the write-only half of a split Conn.
type Writer struct{ c *Conn }

// Split divides a Conn into independent read and write handles for
// callers that want a dedicated goroutine per direction. Both handles
// share the same underlying state (ConnectionState and writeMu); Ping
// auto-replies and Close echoes issued from the Reader's goroutine still
// go through writeMu exactly like an explicit Writer.WriteFrame call
// would, so the two never interleave a fragmented message's frames
// regardless of which goroutine is writing.
func (c *Conn) Split() (*Reader, *Writer) {
	return &Reader{c: c}, &Writer{c: c}
}

// ReadFrame reads the next message, delegating to the shared Conn.
func (r *Reader) ReadFrame() (Frame, error) { return r.c.ReadFrame() }

// WriteFrame writes a single frame, delegating to the shared Conn.
func (w *Writer) WriteFrame(f Frame) error { return w.c.WriteFrame(f) }

// WriteFrames writes a batch of frames atomically, delegating to the
// shared Conn.
func (w *Writer) WriteFrames(frames []Frame) error { return w.c.WriteFrames(frames) }

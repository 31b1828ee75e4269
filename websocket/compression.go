package websocket

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/flate"
)

// decompressionSuffix is the 4-byte sequence RFC 7692 says terminates a
// deflate block for permessage-deflate; senders trim it from compressed
// output and receivers must append it back before feeding the deflate
// decompressor, since it marks an empty non-final stored block.
var decompressionSuffix = [4]byte{0x00, 0x00, 0xFF, 0xFF}

// Compression negotiates a permessage-deflate-style extension during the
// opening handshake. It is the injected collaborator the spec treats as
// external: this package only needs the contract below, not a
// compression algorithm of its own.
type Compression interface {
	// Negotiate inspects the peer's Sec-WebSocket-Extensions header (or,
	// on the server, the client's request headers) and returns the
	// codec to use for the lifetime of the connection. A nil
	// NegotiatedCompression (with a nil error) means no compression was
	// agreed upon.
	Negotiate(header http.Header) (NegotiatedCompression, error)
	// WriteReqHeaders adds this compression's extension-negotiation
	// headers to an outgoing client handshake request.
	WriteReqHeaders(h http.Header)
}

// NegotiatedCompression is the codec bound to a connection once the
// handshake has completed.
type NegotiatedCompression interface {
	// RSV1 reports whether data frames sent by this connection should
	// have the RSV1 bit set (i.e. whether the payload is compressed).
	RSV1() bool
	// Decompress appends the decompressed form of input (which already
	// includes any trailing suffix needed by the algorithm) to *output,
	// growing it as needed, and returns the number of bytes written.
	Decompress(input []byte, output *[]byte) (int, error)
	// Compress appends the compressed form of input to *output and
	// returns the number of bytes written.
	Compress(input []byte, output *[]byte) (int, error)
	// WriteResHeaders adds this negotiation's headers to the server's
	// 101 handshake response.
	WriteResHeaders(h http.Header)
}

// NoCompression is the identity Compression: it never negotiates an
// extension, and RSV1 is always false.
type NoCompression struct{}

// Negotiate implements Compression; it always declines.
func (NoCompression) Negotiate(http.Header) (NegotiatedCompression, error) { return nil, nil }

// WriteReqHeaders implements Compression; it adds nothing.
func (NoCompression) WriteReqHeaders(http.Header) {}

// PermessageDeflate is a Compression implementation of RFC 7692
// "permessage-deflate", backed by github.com/klauspost/compress/flate.
// Context takeover (reusing the deflate dictionary across messages) is
// not implemented: each message is compressed/decompressed
// independently, which is always RFC-compliant (a peer may always
// choose to not take context over) at the cost of a slightly worse
// compression ratio on small, highly repetitive streams.
type PermessageDeflate struct {
	// Level is the flate compression level; 0 uses
	// flate.DefaultCompression.
	Level int
}

type negotiatedDeflate struct {
	level int
}

// Negotiate implements Compression. It looks for "permessage-deflate" as
// one of the comma-separated tokens in Sec-WebSocket-Extensions.
func (p PermessageDeflate) Negotiate(header http.Header) (NegotiatedCompression, error) {
	ext := header.Get("Sec-WebSocket-Extensions")
	for _, tok := range strings.Split(ext, ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(tok), ";")
		if strings.EqualFold(strings.TrimSpace(name), "permessage-deflate") {
			level := p.Level
			if level == 0 {
				level = flate.DefaultCompression
			}
			return &negotiatedDeflate{level: level}, nil
		}
	}
	return nil, nil
}

// WriteReqHeaders implements Compression.
func (p PermessageDeflate) WriteReqHeaders(h http.Header) {
	h.Add("Sec-WebSocket-Extensions", "permessage-deflate; client_no_context_takeover; server_no_context_takeover")
}

// WriteResHeaders implements NegotiatedCompression.
func (n *negotiatedDeflate) WriteResHeaders(h http.Header) {
	h.Add("Sec-WebSocket-Extensions", "permessage-deflate; client_no_context_takeover; server_no_context_takeover")
}

// RSV1 implements NegotiatedCompression; permessage-deflate always sets
// RSV1 on compressed data frames.
func (n *negotiatedDeflate) RSV1() bool { return true }

// Decompress implements NegotiatedCompression using a fresh flate.Reader
// per call (no context takeover).
func (n *negotiatedDeflate) Decompress(input []byte, output *[]byte) (int, error) {
	// input ends in a non-final (sync-flush) block; an empty final stored
	// block is appended so the flate reader stops with io.EOF rather than
	// io.ErrUnexpectedEOF.
	finalBlock := []byte{0x01, 0x00, 0x00, 0xFF, 0xFF}
	fr := flate.NewReader(io.MultiReader(bytes.NewReader(input), bytes.NewReader(finalBlock)))
	defer fr.Close()
	before := len(*output)
	buf := make([]byte, 4096)
	for {
		nr, err := fr.Read(buf)
		if nr > 0 {
			*output = append(*output, buf[:nr]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	return len(*output) - before, nil
}

// Compress implements NegotiatedCompression. The trailing
// decompressionSuffix is trimmed from the flate output per RFC 7692,
// since the receiver appends it back before decompressing.
func (n *negotiatedDeflate) Compress(input []byte, output *[]byte) (int, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, n.level)
	if err != nil {
		return 0, err
	}
	if _, err := fw.Write(input); err != nil {
		return 0, err
	}
	if err := fw.Flush(); err != nil {
		return 0, err
	}
	compressed := buf.Bytes()
	compressed = bytes.TrimSuffix(compressed, decompressionSuffix[:])
	before := len(*output)
	*output = append(*output, compressed...)
	return len(*output) - before, nil
}

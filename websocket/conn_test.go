package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// dialEcho starts an httptest server that Accepts one WebSocket
// connection per request and hands it to handler, then Connects a client
// to it. The caller is responsible for closing both ends.
func dialEcho(t *testing.T, handler func(*Conn)) *Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Accept(w, r, nil, nil)
		if err != nil {
			t.Errorf("Accept failed: %v", err)
			return
		}
		handler(conn)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, _, err := Connect(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return client
}

func TestConn_SmallMaskedTextRoundTrip(t *testing.T) {
	done := make(chan struct{})
	client := dialEcho(t, func(c *Conn) {
		defer close(done)
		f, err := c.ReadFrame()
		if err != nil {
			t.Errorf("server ReadFrame failed: %v", err)
			return
		}
		if f.OpCode != OpText || string(f.Payload) != "hi" {
			t.Errorf("server got %v %q, want text \"hi\"", f.OpCode, f.Payload)
		}
	})
	defer client.Close()

	if err := client.WriteText("hi"); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}
	<-done
}

func TestConn_FragmentedTextReassembly(t *testing.T) {
	done := make(chan struct{})
	client := dialEcho(t, func(c *Conn) {
		defer close(done)
		f, err := c.ReadFrame()
		if err != nil {
			t.Errorf("server ReadFrame failed: %v", err)
			return
		}
		if f.OpCode != OpText || string(f.Payload) != "hello world" {
			t.Errorf("server got %v %q, want text \"hello world\"", f.OpCode, f.Payload)
		}
	})
	defer client.Close()

	frames := []Frame{
		{OpCode: OpText, Payload: []byte("hello ")},
		{OpCode: OpContinuation, Payload: []byte("world")},
	}
	if err := client.WriteFrames(frames); err != nil {
		t.Fatalf("WriteFrames failed: %v", err)
	}
	<-done
}

func TestConn_PingAutoRepliesWithPong(t *testing.T) {
	done := make(chan struct{})
	pongSeen := make(chan struct{})
	client := dialEcho(t, func(c *Conn) {
		defer close(done)
		if err := c.Ping([]byte("ping-payload")); err != nil {
			t.Errorf("server Ping failed: %v", err)
			return
		}
		// ReadFrame never surfaces a Pong, so the client's reply is read
		// here as a raw physical frame.
		rfi, err := c.readPhysicalFrame()
		if err != nil {
			t.Errorf("server readPhysicalFrame failed: %v", err)
			return
		}
		if rfi.OpCode != OpPong || string(c.buf.nb.current()) != "ping-payload" {
			t.Errorf("server got %v %q, want pong \"ping-payload\"", rfi.OpCode, c.buf.nb.current())
		}
		close(pongSeen)
		f, err := c.ReadFrame()
		if err != nil {
			t.Errorf("server ReadFrame failed: %v", err)
			return
		}
		if f.OpCode != OpText {
			t.Errorf("server got opcode %v, want text", f.OpCode)
		}
	})
	defer client.Close()

	// The client's ReadFrame loop auto-replies to the Ping internally
	// and never surfaces it; it keeps waiting for a data frame until
	// client.Close ends it.
	go func() { _, _ = client.ReadFrame() }()
	select {
	case <-pongSeen:
		_ = client.WriteText("after-ping")
	case <-done:
	}
	<-done
}

func TestConn_OversizeControlFrameRejected(t *testing.T) {
	client := dialEcho(t, func(c *Conn) {
		_, _ = c.ReadFrame()
	})
	defer client.Close()

	big := make([]byte, 126)
	err := client.Ping(big)
	if err != ErrVeryLargeControlFrame {
		t.Fatalf("Ping with oversize payload error = %v, want ErrVeryLargeControlFrame", err)
	}
}

func TestConn_CloseHandshakeEcho(t *testing.T) {
	serverSawClose := make(chan struct{})
	client := dialEcho(t, func(c *Conn) {
		defer close(serverSawClose)
		f, err := c.ReadFrame()
		if err != nil {
			t.Errorf("server ReadFrame failed: %v", err)
			return
		}
		if f.OpCode != OpClose {
			t.Errorf("server got opcode %v, want close", f.OpCode)
		}
	})

	if err := client.CloseWithCode(CloseNormalClosure, "bye"); err != nil {
		t.Fatalf("CloseWithCode failed: %v", err)
	}
	<-serverSawClose
}

package websocket

import (
	"testing"
	"time"
)

// hubClients dials n clients against a fresh httptest server, registering
// each server-side Conn with hub as it connects, and returns the client
// halves for the test to read/write against.
func hubClients(t *testing.T, hub *Hub, n int) []*Conn {
	t.Helper()
	clients := make([]*Conn, n)
	for i := range clients {
		clients[i] = dialEcho(t, func(c *Conn) {
			hub.Register(c)
			// Block for the lifetime of the test; Hub.Close tears the
			// server-side Conn down, which unblocks ReadFrame with an
			// error and ends this handler goroutine.
			for {
				if _, err := c.ReadFrame(); err != nil {
					return
				}
			}
		})
	}
	return clients
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Close()

	clients := hubClients(t, hub, 1)
	defer clients[0].Close()

	waitForClientCount(t, hub, 1)

	hub.Unregister(nil) // no-op: unregistering an absent client must not panic
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Close()

	const n = 3
	clients := hubClients(t, hub, n)
	for _, c := range clients {
		defer c.Close()
	}
	waitForClientCount(t, hub, n)

	hub.BroadcastText("hello, everyone")

	for i, c := range clients {
		f, err := c.ReadFrame()
		if err != nil {
			t.Fatalf("client %d ReadFrame failed: %v", i, err)
		}
		if f.OpCode != OpBinary || string(f.Payload) != "hello, everyone" {
			t.Errorf("client %d got %v %q, want binary \"hello, everyone\"", i, f.OpCode, f.Payload)
		}
	}
}

func TestHub_BroadcastJSON(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Close()

	clients := hubClients(t, hub, 1)
	defer clients[0].Close()
	waitForClientCount(t, hub, 1)

	type payload struct {
		Text string `json:"text"`
	}
	if err := hub.BroadcastJSON(payload{Text: "structured"}); err != nil {
		t.Fatalf("BroadcastJSON failed: %v", err)
	}

	var got payload
	if err := clients[0].ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if got.Text != "structured" {
		t.Errorf("got.Text = %q, want %q", got.Text, "structured")
	}
}

func TestHub_CloseIsIdempotentAndDropsClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	clients := hubClients(t, hub, 2)
	for _, c := range clients {
		defer c.Close()
	}
	waitForClientCount(t, hub, 2)

	if err := hub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := hub.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if count := hub.ClientCount(); count != 0 {
		t.Errorf("ClientCount() after Close = %d, want 0", count)
	}

	// Register/Unregister/Broadcast must all be no-ops post-Close, not a
	// send on a closed channel.
	hub.Register(clients[0])
	hub.Unregister(clients[0])
	hub.Broadcast([]byte("ignored"))
}

func waitForClientCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ClientCount() never reached %d, stuck at %d", want, hub.ClientCount())
}

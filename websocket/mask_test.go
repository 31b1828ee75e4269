package websocket

import (
	"bytes"
	"testing"
)

func TestUnmask_RoundTrip(t *testing.T) {
	key := [4]byte{0x12, 0x34, 0x56, 0x78}
	original := []byte("the quick brown fox jumps over the lazy dog, 0123456789")

	masked := append([]byte(nil), original...)
	unmask(masked, key)
	if bytes.Equal(masked, original) {
		t.Fatal("masking did not change the payload")
	}

	unmasked := append([]byte(nil), masked...)
	unmask(unmasked, key)
	if !bytes.Equal(unmasked, original) {
		t.Fatalf("unmask(mask(x)) = %q, want %q", unmasked, original)
	}
}

func TestUnmask_ShortAndLongAgree(t *testing.T) {
	key := [4]byte{0xAA, 0xBB, 0xCC, 0xDD}
	for _, n := range []int{0, 1, 3, 4, 7, 8, 9, 15, 16, 17, 64, 100} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i * 7)
		}

		fast := append([]byte(nil), data...)
		unmask(fast, key)

		naive := append([]byte(nil), data...)
		unmaskBytes(naive, key)

		if !bytes.Equal(fast, naive) {
			t.Errorf("n=%d: word-chunked unmask disagrees with byte-wise unmask", n)
		}
	}
}

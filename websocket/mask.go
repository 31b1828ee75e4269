package websocket

import "encoding/binary"

// unmask applies the RFC 6455 Section 5.3 masking algorithm to data in
// place:
//
//	transformed-octet-i = original-octet-i XOR masking-key-octet-(i mod 4)
//
// XOR is its own inverse, so the same function masks and unmasks. Large
// buffers are processed 8 bytes at a time via a 64-bit XOR; the
// remaining tail (and any buffer shorter than 8 bytes) falls back to the
// byte-wise loop. Both paths are required to be byte-level equivalent.
func unmask(data []byte, key [4]byte) {
	if len(data) < 8 {
		unmaskBytes(data, key)
		return
	}
	var key64 uint64
	k32 := binary.LittleEndian.Uint32(key[:])
	key64 = uint64(k32) | uint64(k32)<<32

	n := len(data) - len(data)%8
	for i := 0; i < n; i += 8 {
		chunk := binary.LittleEndian.Uint64(data[i : i+8])
		chunk ^= key64
		binary.LittleEndian.PutUint64(data[i:i+8], chunk)
	}
	unmaskBytes(data[n:], rotateKey(key, n))
}

// rotateKey returns the masking key rotated so that applying it starting
// at an arbitrary offset produces the same result as applying the
// original key from offset 0 and slicing at that offset.
func rotateKey(key [4]byte, offset int) [4]byte {
	var out [4]byte
	for i := range out {
		out[i] = key[(offset+i)%4]
	}
	return out
}

func unmaskBytes(data []byte, key [4]byte) {
	for i := range data {
		data[i] ^= key[i%4]
	}
}

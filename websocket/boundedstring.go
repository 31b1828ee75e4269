package websocket

import (
	"unicode/utf8"
)

// BoundedString is a fixed-capacity UTF-8 string: data[0:len] is always
// valid UTF-8 and len never exceeds the capacity fixed at construction.
// It is a cache-friendly alternative to a heap-allocated string for the
// short, bounded values the handshake deals in (keys, accept digests,
// negotiated subprotocol names).
//
// Unlike the Rust original this is modeled on (an ArrayString<const N:
// usize>), Go has no const-generic arrays usable this way without code
// generation, so the capacity is a runtime field fixed at construction by
// NewBoundedString and never grows.
type BoundedString struct {
	data []byte
	len  int
}

// NewBoundedString returns an empty BoundedString with the given fixed
// capacity, in bytes.
func NewBoundedString(capacity int) BoundedString {
	return BoundedString{data: make([]byte, capacity)}
}

// BoundedStringFromParts builds a BoundedString from data[:truncate(len,
// len(data))], validating that the retained prefix is UTF-8.
func BoundedStringFromParts(data []byte, length int) (BoundedString, error) {
	if length > len(data) {
		length = len(data)
	}
	if !utf8.Valid(data[:length]) {
		return BoundedString{}, ErrBadFormat
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return BoundedString{data: buf, len: length}, nil
}

// Len returns the number of bytes currently stored.
func (b *BoundedString) Len() int { return b.len }

// Capacity returns the fixed capacity set at construction.
func (b *BoundedString) Capacity() int { return len(b.data) }

// RemainingCapacity returns how many more bytes can be pushed.
func (b *BoundedString) RemainingCapacity() int { return len(b.data) - b.len }

// String returns the currently stored contents as a string.
func (b *BoundedString) String() string {
	return string(b.data[:b.len])
}

// Clear empties the string without releasing its backing array.
func (b *BoundedString) Clear() { b.len = 0 }

// Push appends the UTF-8 encoding of a single rune.
func (b *BoundedString) Push(r rune) error {
	var buf [utf8.UTFMax]byte
	n := utf8.EncodeRune(buf[:], r)
	return b.pushBytes(buf[:n], ErrPushOverflow)
}

// PushString appends s in its entirety, or fails with ErrPushStrOverflow
// without modifying the string.
func (b *BoundedString) PushString(s string) error {
	return b.pushBytes([]byte(s), ErrPushStrOverflow)
}

func (b *BoundedString) pushBytes(extra []byte, overflow error) error {
	if len(extra) > b.RemainingCapacity() {
		return overflow
	}
	copy(b.data[b.len:], extra)
	b.len += len(extra)
	return nil
}

// Replace overwrites data[start:start+len(s)] with s in place, failing
// with ErrReplaceOutOfBounds if that range exceeds capacity or if the
// result would not be valid UTF-8; on failure the string is unchanged.
// The replaced range may extend len if it reaches past the current end,
// as long as it stays within capacity.
func (b *BoundedString) Replace(start int, s string) error {
	end := start + len(s)
	if start < 0 || end > len(b.data) {
		return ErrReplaceOutOfBounds
	}
	newLen := b.len
	if end > newLen {
		newLen = end
	}
	candidate := append([]byte(nil), b.data[:newLen]...)
	copy(candidate[start:end], s)
	if !utf8.Valid(candidate) {
		return ErrReplaceOutOfBounds
	}
	copy(b.data, candidate)
	b.len = newLen
	return nil
}

// Truncate shortens the string to at most length bytes, clamped to
// capacity. A cut that would fall inside a multi-byte character moves
// back to that character's first byte. Truncating twice to the same
// length is idempotent.
func (b *BoundedString) Truncate(length int) {
	if length < 0 {
		length = 0
	}
	if length > len(b.data) {
		length = len(b.data)
	}
	if length < b.len {
		for length > 0 && !utf8.RuneStart(b.data[length]) {
			length--
		}
		b.len = length
	}
}

// WriteString implements io.StringWriter, enabling fmt.Fprintf-style
// formatted writes. Overflow surfaces as ErrBadFormat, matching the
// spec's "formatting-style writes fail with BadFormat on overflow".
func (b *BoundedString) WriteString(s string) (int, error) {
	if err := b.pushBytes([]byte(s), ErrBadFormat); err != nil {
		return 0, err
	}
	return len(s), nil
}

// Write implements io.Writer in terms of WriteString.
func (b *BoundedString) Write(p []byte) (int, error) {
	if err := b.pushBytes(p, ErrBadFormat); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Compare orders two BoundedStrings by their string contents, for sort.Interface-style use.
func (b *BoundedString) Compare(other *BoundedString) int {
	a, o := b.String(), other.String()
	switch {
	case a < o:
		return -1
	case a > o:
		return 1
	default:
		return 0
	}
}

// Equal reports whether two BoundedStrings hold the same contents.
func (b *BoundedString) Equal(other *BoundedString) bool {
	return b.String() == other.String()
}

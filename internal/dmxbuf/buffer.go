// Package dmxbuf provides the fixed-capacity DMX512 channel buffer and its
// HTP merge operation.
package dmxbuf

// MaxChannels is the maximum number of channels in a DMX512 universe.
const MaxChannels = 512

// Buffer is a length-prefixed byte sequence, length in [0, MaxChannels].
// Assigning a Buffer shares its backing array, but no method writes into
// that array in place: Set installs a fresh copy, and Get, PadTo and
// HTPMerge return new slices, so callers never need to guard against
// aliasing.
type Buffer struct {
	data []byte
}

// New returns an empty buffer (length 0).
func New() Buffer {
	return Buffer{}
}

// FromBytes copies b (truncated to MaxChannels) into a new Buffer.
func FromBytes(b []byte) Buffer {
	var buf Buffer
	buf.Set(b)
	return buf
}

// Len returns the number of channels currently held.
func (b Buffer) Len() int { return len(b.data) }

// Set replaces the buffer's contents with a copy of v, truncated to
// MaxChannels.
func (b *Buffer) Set(v []byte) {
	if len(v) > MaxChannels {
		v = v[:MaxChannels]
	}
	b.data = append([]byte(nil), v...)
}

// Get returns a copy of the buffer's contents.
func (b Buffer) Get() []byte {
	return append([]byte(nil), b.data...)
}

// At returns the value of channel i (0-indexed), or 0 if i is beyond the
// buffer's current length.
func (b Buffer) At(i int) byte {
	if i < 0 || i >= len(b.data) {
		return 0
	}
	return b.data[i]
}

// PadTo returns a copy of the buffer's contents right-padded with zeros to
// exactly n bytes (n is typically MaxChannels, per the service facade's
// GetDmx contract). If the buffer is already longer than n, it is
// truncated.
func (b Buffer) PadTo(n int) []byte {
	out := make([]byte, n)
	copy(out, b.data)
	return out
}

// HTPMerge returns the channel-wise maximum of b and other, resized to
// max(b.Len(), other.Len()). Channels missing from the shorter operand are
// treated as 0. HTPMerge is commutative and idempotent (HTPMerge(b, b) ==
// b) by construction, since max(x, x) == x and max(x, y) == max(y, x).
func (b Buffer) HTPMerge(other Buffer) Buffer {
	n := len(b.data)
	if len(other.data) > n {
		n = len(other.data)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		av := b.At(i)
		bv := other.At(i)
		if bv > av {
			out[i] = bv
		} else {
			out[i] = av
		}
	}
	return Buffer{data: out}
}

// Equal reports whether two buffers hold identical contents (same length,
// same bytes).
func (b Buffer) Equal(other Buffer) bool {
	if len(b.data) != len(other.data) {
		return false
	}
	for i := range b.data {
		if b.data[i] != other.data[i] {
			return false
		}
	}
	return true
}

// HTPFold folds HTPMerge over a set of buffers, starting from an empty
// buffer.
func HTPFold(buffers []Buffer) Buffer {
	result := New()
	for _, b := range buffers {
		result = result.HTPMerge(b)
	}
	return result
}

package parser

// Window is a rolling view of the last eight bytes seen. Scanners push one
// byte at a time so markers split across input chunks still match.
type Window struct {
	v uint64
	n int
}

// Push shifts b into the window and returns the byte that fell out.
func (w *Window) Push(b byte) byte {
	out := byte(w.v >> 56)
	w.v = w.v<<8 | uint64(b)
	if w.n < 8 {
		w.n++
	}
	return out
}

// Filled reports whether at least n bytes have been pushed since the last Reset.
func (w *Window) Filled(n int) bool { return w.n >= n }

// Uint16 returns the last two bytes, big-endian.
func (w *Window) Uint16() uint16 { return uint16(w.v) }

// Uint32 returns the last four bytes, big-endian.
func (w *Window) Uint32() uint32 { return uint32(w.v) }

// Uint48 returns the last six bytes, big-endian.
func (w *Window) Uint48() uint64 { return w.v & 0xFFFFFFFFFFFF }

// Uint64 returns the last eight bytes, big-endian.
func (w *Window) Uint64() uint64 { return w.v }

// Last returns the last n bytes (n <= 8) as a big-endian integer.
func (w *Window) Last(n int) uint64 {
	if n >= 8 {
		return w.v
	}
	return w.v & (1<<(uint(n)*8) - 1)
}

// Reset empties the window.
func (w *Window) Reset() { *w = Window{} }

package parser

// assembler accumulates the bytes of the frame currently being scanned.
type assembler struct {
	buf []byte
}

func (a *assembler) len() int { return len(a.buf) }

func (a *assembler) append(b []byte) {
	a.buf = append(a.buf, b...)
}

// take returns a copy of the buffered bytes and empties the buffer, keeping
// its capacity for the next frame.
func (a *assembler) take() []byte {
	if len(a.buf) == 0 {
		return nil
	}
	out := make([]byte, len(a.buf))
	copy(out, a.buf)
	a.buf = a.buf[:0]
	return out
}

// cutTail removes the last n buffered bytes and returns a copy of them.
func (a *assembler) cutTail(n int) []byte {
	if n <= 0 {
		return nil
	}
	if n > len(a.buf) {
		n = len(a.buf)
	}
	cut := len(a.buf) - n
	out := make([]byte, n)
	copy(out, a.buf[cut:])
	a.buf = a.buf[:cut]
	return out
}

// dropHead discards all but the last keep bytes and returns how many were
// discarded.
func (a *assembler) dropHead(keep int) int {
	if len(a.buf) <= keep {
		return 0
	}
	n := len(a.buf) - keep
	a.buf = append(a.buf[:0], a.buf[n:]...)
	return n
}

func (a *assembler) reset() {
	a.buf = a.buf[:0]
}

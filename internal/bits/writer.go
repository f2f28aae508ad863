package bits

// Writer writes bits MSB-first into a growing byte slice.
type Writer struct {
	data   []byte
	bitPos int
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// PutBit appends one bit.
func (w *Writer) PutBit(v bool) {
	if w.bitPos == len(w.data)*8 {
		w.data = append(w.data, 0)
	}
	if v {
		byteIdx := w.bitPos / 8
		bitIdx := 7 - (w.bitPos % 8)
		w.data[byteIdx] |= 1 << uint(bitIdx)
	}
	w.bitPos++
}

// PutBits appends the low n bits of v, most significant first.
func (w *Writer) PutBits(n int, v uint64) {
	for i := n - 1; i >= 0; i-- {
		w.PutBit((v>>uint(i))&1 == 1)
	}
}

// PutFlag appends a single bit from a bool.
func (w *Writer) PutFlag(v bool) { w.PutBit(v) }

// PutUE appends an unsigned Exp-Golomb code.
func (w *Writer) PutUE(v uint32) {
	x := uint64(v) + 1
	n := 0
	for t := x; t > 1; t >>= 1 {
		n++
	}
	w.PutBits(n, 0)
	w.PutBits(n+1, x)
}

// PutSE appends a signed Exp-Golomb code.
func (w *Writer) PutSE(v int32) {
	if v > 0 {
		w.PutUE(uint32(2*v - 1))
		return
	}
	w.PutUE(uint32(-2 * v))
}

// PutBytes appends whole bytes.
func (w *Writer) PutBytes(b []byte) {
	for _, v := range b {
		w.PutBits(8, uint64(v))
	}
}

// Len returns the number of bits written.
func (w *Writer) Len() int { return w.bitPos }

// Bytes returns the written data, zero-padded to a whole byte.
func (w *Writer) Bytes() []byte {
	return w.data
}

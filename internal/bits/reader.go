// Package bits provides MSB-first bit reading and writing over byte slices,
// including the Exp-Golomb codes used by video parameter sets.
package bits

import "errors"

// ErrOverflow is returned by Reader.Err after any read past the end of the data
// or an Exp-Golomb code longer than 32 bits.
var ErrOverflow = errors.New("bits: read past end of data")

// maxGolombZeros bounds the prefix of an Exp-Golomb code so a run of zero
// bytes cannot make a read loop over the whole buffer.
const maxGolombZeros = 31

// Reader reads bits MSB-first from a byte slice. Reads past the end yield zero
// bits and latch the overflow flag, so a header can be decoded field by field
// and checked once at a decision point.
type Reader struct {
	data     []byte
	bitPos   int
	overflow bool
}

// NewReader returns a Reader positioned at the first bit of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Pos returns the number of bits consumed so far.
func (r *Reader) Pos() int { return r.bitPos }

// Left returns the number of unread bits.
func (r *Reader) Left() int {
	total := len(r.data) * 8
	if r.bitPos > total {
		return 0
	}
	return total - r.bitPos
}

// Overflow reports whether any read ran past the end of the data.
func (r *Reader) Overflow() bool { return r.overflow }

// Err returns ErrOverflow if any read ran past the end of the data.
func (r *Reader) Err() error {
	if r.overflow {
		return ErrOverflow
	}
	return nil
}

// ReadBit reads a single bit.
func (r *Reader) ReadBit() bool {
	if r.bitPos >= len(r.data)*8 {
		r.overflow = true
		return false
	}
	byteIdx := r.bitPos / 8
	bitIdx := 7 - (r.bitPos % 8)
	r.bitPos++
	return (r.data[byteIdx]>>uint(bitIdx))&1 == 1
}

// ReadBits reads n bits (n <= 32) as an unsigned integer.
func (r *Reader) ReadBits(n int) uint32 {
	return uint32(r.ReadBits64(n))
}

// ReadBits64 reads n bits (n <= 64) as an unsigned integer.
func (r *Reader) ReadBits64(n int) uint64 {
	var val uint64
	for i := 0; i < n; i++ {
		val <<= 1
		if r.ReadBit() {
			val |= 1
		}
	}
	return val
}

// Peek returns the next n bits without consuming them. It never sets the
// overflow flag; missing bits read as zero.
func (r *Reader) Peek(n int) uint32 {
	pos, ovf := r.bitPos, r.overflow
	v := r.ReadBits(n)
	r.bitPos, r.overflow = pos, ovf
	return v
}

// Skip advances the read position by n bits.
func (r *Reader) Skip(n int) {
	if n < 0 {
		return
	}
	r.bitPos += n
	if r.bitPos > len(r.data)*8 {
		r.overflow = true
	}
}

// ByteAlign advances to the next byte boundary.
func (r *Reader) ByteAlign() {
	if rem := r.bitPos % 8; rem != 0 {
		r.Skip(8 - rem)
	}
}

// ReadUE reads an unsigned Exp-Golomb code.
func (r *Reader) ReadUE() uint32 {
	zeros := 0
	for !r.ReadBit() {
		if r.overflow {
			return 0
		}
		zeros++
		if zeros > maxGolombZeros {
			r.overflow = true
			return 0
		}
	}
	if zeros == 0 {
		return 0
	}
	suffix := r.ReadBits64(zeros)
	return uint32((uint64(1)<<zeros - 1) + suffix)
}

// ReadSE reads a signed Exp-Golomb code.
func (r *Reader) ReadSE() int32 {
	val := r.ReadUE()
	if val%2 == 0 {
		return -int32(val / 2)
	}
	return int32((val + 1) / 2)
}

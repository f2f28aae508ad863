// Package aac frames AAC audio carried in ADTS (Audio Data Transport Stream)
// headers, as produced by most encoders and MPEG-TS demuxers.
package aac

import (
	"errors"
	"fmt"

	"github.com/zsiec/framer/internal/bits"
	"github.com/zsiec/framer/internal/parser"
)

const (
	syncWord = 0xFFF

	headerSize    = 7
	crcHeaderSize = 9

	samplesPerBlock = 1024
)

// Header errors. Each wraps parser.ErrSync.
var (
	ErrInvalidADTS     = errors.New("aac: invalid ADTS header")
	ErrLayer           = errors.New("aac: non-zero layer")
	ErrSampleRateIndex = errors.New("aac: reserved sampling frequency index")
	ErrFrameLength     = errors.New("aac: frame length below header size")
)

// AAC sample rate index table (ISO 14496-3).
var sampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// Header is a decoded ADTS fixed and variable header.
type Header struct {
	MPEG2           bool
	HasCRC          bool
	Profile         int // audio object type minus one
	SampleRateIndex int
	ChannelConfig   int
	FrameLength     int // header and payload, in bytes
	BufferFullness  int
	RawBlocks       int // raw data blocks in the frame
}

// HeaderSize returns the header length including the optional CRC.
func (h Header) HeaderSize() int {
	if h.HasCRC {
		return crcHeaderSize
	}
	return headerSize
}

// SampleRate returns the sampling frequency in Hz.
func (h Header) SampleRate() int { return sampleRates[h.SampleRateIndex] }

// Samples returns the number of samples per channel in the frame.
func (h Header) Samples() int { return h.RawBlocks * samplesPerBlock }

// ParseHeader decodes the ADTS header at the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, syncErr(ErrInvalidADTS)
	}
	r := bits.NewReader(b)
	if r.ReadBits(12) != syncWord {
		return Header{}, syncErr(ErrInvalidADTS)
	}
	var h Header
	h.MPEG2 = r.ReadBit()
	if r.ReadBits(2) != 0 {
		return Header{}, syncErr(ErrLayer)
	}
	h.HasCRC = !r.ReadBit()
	h.Profile = int(r.ReadBits(2))
	h.SampleRateIndex = int(r.ReadBits(4))
	if h.SampleRateIndex >= len(sampleRates) {
		return Header{}, syncErr(ErrSampleRateIndex)
	}
	r.Skip(1) // private bit
	h.ChannelConfig = int(r.ReadBits(3))
	r.Skip(4) // original/copy, home, copyright id bit and start
	h.FrameLength = int(r.ReadBits(13))
	h.BufferFullness = int(r.ReadBits(11))
	h.RawBlocks = int(r.ReadBits(2)) + 1
	if h.FrameLength < h.HeaderSize() {
		return Header{}, syncErr(ErrFrameLength)
	}
	return h, nil
}

func syncErr(err error) error {
	return fmt.Errorf("%w: %w", parser.ErrSync, err)
}

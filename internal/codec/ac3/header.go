// Package ac3 frames Dolby AC-3 and E-AC-3 elementary streams. Both share the
// 0x0B77 sync word; the bit stream id selects which header layout follows.
package ac3

import (
	"errors"
	"fmt"

	"github.com/zsiec/framer/internal/bits"
	"github.com/zsiec/framer/internal/parser"
)

const (
	syncWord = 0x0B77

	// headerSize covers the longest AC-3 header prefix needed to derive the
	// channel layout.
	headerSize = 8

	// minFrameSize is the smallest legal E-AC-3 frame.
	minFrameSize = 7

	maxAC3BSID  = 10
	maxEAC3BSID = 16

	samplesPerBlock = 256
)

// Header validation errors. Each wraps parser.ErrSync.
var (
	ErrNoSync         = errors.New("ac3: no sync word")
	ErrBSID           = errors.New("ac3: unsupported bit stream id")
	ErrSampleRateCode = errors.New("ac3: reserved sample rate code")
	ErrFrameSizeCode  = errors.New("ac3: frame size code out of range")
	ErrFrameType      = errors.New("ac3: reserved frame type")
	ErrFrameSize      = errors.New("ac3: frame size below header size")
)

// Header is a decoded AC-3 or E-AC-3 sync frame header.
type Header struct {
	BSID           int
	EAC3           bool
	FrameType      int // E-AC-3 only
	SubstreamID    int // E-AC-3 only
	SampleRateCode int
	FrameSizeCode  int // AC-3 only
	ChannelMode    int // acmod
	LFE            bool
	Blocks         int

	SampleRate int
	BitRate    int
	Channels   int
	FrameSize  int // bytes
}

// Samples returns the number of samples per channel in the frame.
func (h Header) Samples() int { return h.Blocks * samplesPerBlock }

// ParseHeader decodes the sync frame header at the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < 6 {
		return Header{}, syncErr(ErrNoSync)
	}
	r := bits.NewReader(b)
	if r.ReadBits(16) != syncWord {
		return Header{}, syncErr(ErrNoSync)
	}
	bsid := int(b[5] >> 3)
	switch {
	case bsid <= maxAC3BSID:
		return parseAC3(r, bsid)
	case bsid <= maxEAC3BSID:
		return parseEAC3(r, bsid)
	default:
		return Header{}, syncErr(ErrBSID)
	}
}

func parseAC3(r *bits.Reader, bsid int) (Header, error) {
	h := Header{BSID: bsid, Blocks: 6}
	r.Skip(16) // crc1
	h.SampleRateCode = int(r.ReadBits(2))
	if h.SampleRateCode == 3 {
		return Header{}, syncErr(ErrSampleRateCode)
	}
	h.FrameSizeCode = int(r.ReadBits(6))
	if h.FrameSizeCode >= len(frameSizes) {
		return Header{}, syncErr(ErrFrameSizeCode)
	}
	r.Skip(5) // bsid
	r.Skip(3) // bsmod
	h.ChannelMode = int(r.ReadBits(3))
	if h.ChannelMode&1 != 0 && h.ChannelMode != 1 {
		r.Skip(2) // cmixlev
	}
	if h.ChannelMode&4 != 0 {
		r.Skip(2) // surmixlev
	}
	if h.ChannelMode == 2 {
		r.Skip(2) // dsurmod
	}
	h.LFE = r.ReadBit()
	if r.Overflow() {
		return Header{}, syncErr(ErrNoSync)
	}

	shift := max(bsid, 8) - 8
	h.SampleRate = sampleRates[h.SampleRateCode] >> shift
	h.BitRate = bitRates[h.FrameSizeCode>>1] * 1000 >> shift
	h.FrameSize = frameSizes[h.FrameSizeCode][h.SampleRateCode] * 2
	h.Channels = channelCounts[h.ChannelMode]
	if h.LFE {
		h.Channels++
	}
	return h, nil
}

func parseEAC3(r *bits.Reader, bsid int) (Header, error) {
	h := Header{BSID: bsid, EAC3: true}
	h.FrameType = int(r.ReadBits(2))
	if h.FrameType == 3 {
		return Header{}, syncErr(ErrFrameType)
	}
	h.SubstreamID = int(r.ReadBits(3))
	h.FrameSize = (int(r.ReadBits(11)) + 1) * 2
	if h.FrameSize < minFrameSize {
		return Header{}, syncErr(ErrFrameSize)
	}
	h.SampleRateCode = int(r.ReadBits(2))
	if h.SampleRateCode == 3 {
		code2 := int(r.ReadBits(2))
		if code2 == 3 {
			return Header{}, syncErr(ErrSampleRateCode)
		}
		h.SampleRate = sampleRates[code2] / 2
		h.Blocks = 6
	} else {
		h.Blocks = blocksPerFrame[r.ReadBits(2)]
		h.SampleRate = sampleRates[h.SampleRateCode]
	}
	h.ChannelMode = int(r.ReadBits(3))
	h.LFE = r.ReadBit()
	if r.Overflow() {
		return Header{}, syncErr(ErrNoSync)
	}

	h.BitRate = 8 * h.FrameSize * h.SampleRate / (h.Blocks * samplesPerBlock)
	h.Channels = channelCounts[h.ChannelMode]
	if h.LFE {
		h.Channels++
	}
	return h, nil
}

func syncErr(err error) error {
	return fmt.Errorf("%w: %w", parser.ErrSync, err)
}

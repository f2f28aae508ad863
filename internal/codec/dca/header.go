// Package dca frames DTS Coherent Acoustics streams: core frames in any of
// the four word packings and extension substream frames.
//
// A stream is locked to the first sync marker it presents. Later markers of
// another packing are treated as payload, so a stream cannot flip between
// byte orders midway.
package dca

import (
	"errors"
	"fmt"

	"github.com/zsiec/framer/internal/bits"
	"github.com/zsiec/framer/internal/parser"
)

// Sync markers as the first four stream bytes, big-endian.
const (
	MarkerCoreBE    = 0x7FFE8001
	MarkerCoreLE    = 0xFE7F0180
	MarkerCore14BE  = 0x1FFFE800
	MarkerCore14LE  = 0xFF1F00E8
	MarkerSubstream = 0x64582025
)

// Packing is the word layout of a core stream.
type Packing int

// Core stream packings.
const (
	PackingNone Packing = iota
	Packing16BE
	Packing16LE
	Packing14BE
	Packing14LE
)

func (p Packing) String() string {
	switch p {
	case Packing16BE:
		return "16-bit BE"
	case Packing16LE:
		return "16-bit LE"
	case Packing14BE:
		return "14-bit BE"
	case Packing14LE:
		return "14-bit LE"
	default:
		return "none"
	}
}

func packingOf(marker uint32) Packing {
	switch marker {
	case MarkerCoreBE:
		return Packing16BE
	case MarkerCoreLE:
		return Packing16LE
	case MarkerCore14BE:
		return Packing14BE
	case MarkerCore14LE:
		return Packing14LE
	default:
		return PackingNone
	}
}

const (
	samplesPerBlock = 32
	minCoreSize     = 96
	// coreHeaderBytes bounds the converted bytes needed to decode a core
	// header with its optional CRC.
	coreHeaderBytes = 16
)

// Header errors. Each wraps parser.ErrSync.
var (
	ErrNoSync        = errors.New("dca: no sync marker")
	ErrDeficit       = errors.New("dca: deficit samples not supported")
	ErrPCMBlocks     = errors.New("dca: PCM block count not a multiple of 8")
	ErrFrameSize     = errors.New("dca: frame size too small")
	ErrAudioMode     = errors.New("dca: unsupported channel arrangement")
	ErrSampleRate    = errors.New("dca: invalid sample rate code")
	ErrReservedBit   = errors.New("dca: reserved bit set")
	ErrLFE           = errors.New("dca: invalid LFE flag")
	ErrPCMResolution = errors.New("dca: invalid source PCM resolution")
	ErrTruncated     = errors.New("dca: frame shorter than declared size")
	ErrSubstreamSize = errors.New("dca: substream header larger than frame")
)

var sampleRates = [16]int{
	0, 8000, 16000, 32000, 0, 0, 11025, 22050,
	44100, 0, 0, 12000, 24000, 48000, 96000, 192000,
}

// bitRates in bit/s; the last three codes signal open, variable and lossless
// rates and carry no value.
var bitRates = [32]int{
	32000, 56000, 64000, 96000, 112000, 128000, 192000, 224000,
	256000, 320000, 384000, 448000, 512000, 576000, 640000, 768000,
	896000, 1024000, 1152000, 1280000, 1344000, 1408000, 1411200, 1472000,
	1536000, 1920000, 2048000, 3072000, 3840000, 0, 0, 0,
}

var channelCounts = [16]int{1, 2, 2, 2, 2, 3, 3, 4, 4, 5, 6, 6, 6, 7, 8, 8}

var bitsPerSample = [8]int{16, 16, 20, 20, 0, 24, 24, 0}

// CoreHeader is the decoded core frame header.
type CoreHeader struct {
	Packing       Packing
	NormalFrame   bool
	CRCPresent    bool
	PCMBlocks     int
	FrameSize     int // bytes of 16-bit packed data
	AudioMode     int
	SampleRate    int
	BitRate       int // 0 for open, variable or lossless
	LFE           int
	ExtAudioType  int
	ExtAudio      bool
	BitsPerSample int
}

// Samples returns the number of samples per channel in the frame.
func (h CoreHeader) Samples() int { return h.PCMBlocks * samplesPerBlock }

// Channels returns the channel count including the LFE channel.
func (h CoreHeader) Channels() int {
	n := channelCounts[h.AudioMode]
	if h.LFE != 0 {
		n++
	}
	return n
}

// StreamSize returns the frame size in stream bytes for the header's packing.
func (h CoreHeader) StreamSize() int { return streamSize(h.Packing, h.FrameSize) }

func streamSize(p Packing, size int) int {
	if p == Packing14BE || p == Packing14LE {
		// 14 payload bits per 16-bit word
		return (size*8 + 13) / 14 * 2
	}
	return size
}

// toBE16 converts up to n leading bytes of b to 16-bit big-endian packing.
func toBE16(p Packing, b []byte, n int) []byte {
	switch p {
	case Packing16BE:
		return b[:min(n, len(b))]
	case Packing16LE:
		out := make([]byte, 0, n)
		for i := 0; i+1 < len(b) && len(out) < n; i += 2 {
			out = append(out, b[i+1], b[i])
		}
		return out
	case Packing14BE, Packing14LE:
		w := bits.NewWriter()
		for i := 0; i+1 < len(b) && w.Len() < n*8; i += 2 {
			v := uint64(b[i])<<8 | uint64(b[i+1])
			if p == Packing14LE {
				v = uint64(b[i+1])<<8 | uint64(b[i])
			}
			w.PutBits(14, v&0x3FFF)
		}
		out := w.Bytes()
		return out[:min(n, len(out))]
	default:
		return nil
	}
}

// ParseCore decodes the core header at the start of frame, whatever its
// packing.
func ParseCore(frame []byte) (CoreHeader, error) {
	if len(frame) < 4 {
		return CoreHeader{}, syncErr(ErrNoSync)
	}
	p := packingOf(uint32(frame[0])<<24 | uint32(frame[1])<<16 | uint32(frame[2])<<8 | uint32(frame[3]))
	if p == PackingNone {
		return CoreHeader{}, syncErr(ErrNoSync)
	}
	r := bits.NewReader(toBE16(p, frame, coreHeaderBytes))
	if r.ReadBits(32) != MarkerCoreBE {
		return CoreHeader{}, syncErr(ErrNoSync)
	}

	h := CoreHeader{Packing: p}
	h.NormalFrame = r.ReadBit()
	if r.ReadBits(5)+1 != samplesPerBlock {
		return CoreHeader{}, syncErr(ErrDeficit)
	}
	h.CRCPresent = r.ReadBit()
	h.PCMBlocks = int(r.ReadBits(7)) + 1
	if h.PCMBlocks%8 != 0 {
		return CoreHeader{}, syncErr(ErrPCMBlocks)
	}
	h.FrameSize = int(r.ReadBits(14)) + 1
	if h.FrameSize < minCoreSize {
		return CoreHeader{}, syncErr(ErrFrameSize)
	}
	h.AudioMode = int(r.ReadBits(6))
	if h.AudioMode >= len(channelCounts) {
		return CoreHeader{}, syncErr(ErrAudioMode)
	}
	h.SampleRate = sampleRates[r.ReadBits(4)]
	if h.SampleRate == 0 {
		return CoreHeader{}, syncErr(ErrSampleRate)
	}
	h.BitRate = bitRates[r.ReadBits(5)]
	if r.ReadBit() {
		return CoreHeader{}, syncErr(ErrReservedBit)
	}
	r.Skip(4) // dynamic range, time stamp, aux data, HDCD
	h.ExtAudioType = int(r.ReadBits(3))
	h.ExtAudio = r.ReadBit()
	r.Skip(1) // audio sync word insertion
	h.LFE = int(r.ReadBits(2))
	if h.LFE == 3 {
		return CoreHeader{}, syncErr(ErrLFE)
	}
	r.Skip(1) // predictor history
	if h.CRCPresent {
		r.Skip(16)
	}
	r.Skip(1 + 4 + 2) // filter, encoder revision, copy history
	h.BitsPerSample = bitsPerSample[r.ReadBits(3)]
	if h.BitsPerSample == 0 {
		return CoreHeader{}, syncErr(ErrPCMResolution)
	}
	if r.Overflow() {
		return CoreHeader{}, syncErr(ErrTruncated)
	}
	return h, nil
}

// SubstreamHeader is the decoded extension substream header.
type SubstreamHeader struct {
	Index      int
	HeaderSize int
	FrameSize  int
}

// ParseSubstream decodes the extension substream header at the start of
// frame.
func ParseSubstream(frame []byte) (SubstreamHeader, error) {
	r := bits.NewReader(frame)
	if r.ReadBits(32) != MarkerSubstream {
		return SubstreamHeader{}, syncErr(ErrNoSync)
	}
	r.Skip(8) // user defined
	var h SubstreamHeader
	h.Index = int(r.ReadBits(2))
	hdrBits, sizeBits := 8, 16
	if r.ReadBit() {
		hdrBits, sizeBits = 12, 20
	}
	h.HeaderSize = int(r.ReadBits(hdrBits)) + 1
	h.FrameSize = int(r.ReadBits(sizeBits)) + 1
	if r.Overflow() {
		return SubstreamHeader{}, syncErr(ErrTruncated)
	}
	if h.HeaderSize < 8 || h.HeaderSize > h.FrameSize {
		return SubstreamHeader{}, syncErr(ErrSubstreamSize)
	}
	return h, nil
}

// declaredSize returns the stream size declared by the header at the start
// of hdr, or 0 when it cannot be decoded.
func declaredSize(marker uint32, hdr []byte) int {
	if marker == MarkerSubstream {
		h, err := ParseSubstream(hdr)
		if err != nil {
			return 0
		}
		return h.FrameSize
	}
	p := packingOf(marker)
	r := bits.NewReader(toBE16(p, hdr, 8))
	r.Skip(32 + 1 + 5 + 1 + 7)
	size := int(r.ReadBits(14)) + 1
	if r.Overflow() || size < minCoreSize {
		return 0
	}
	return streamSize(p, size)
}

func syncErr(err error) error {
	return fmt.Errorf("%w: %w", parser.ErrSync, err)
}

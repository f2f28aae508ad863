// Package mpa frames MPEG-1, MPEG-2 and MPEG-2.5 audio layers I, II and III.
package mpa

import (
	"errors"
	"fmt"

	"github.com/zsiec/framer/internal/parser"
)

const headerSize = 4

// Version identifies the MPEG audio version.
type Version int

// MPEG audio versions.
const (
	MPEG1 Version = iota
	MPEG2
	MPEG25
)

func (v Version) String() string {
	switch v {
	case MPEG1:
		return "MPEG-1"
	case MPEG2:
		return "MPEG-2"
	default:
		return "MPEG-2.5"
	}
}

// Header errors. Each wraps parser.ErrSync.
var (
	ErrNoSync         = errors.New("mpa: no frame sync")
	ErrVersion        = errors.New("mpa: reserved version")
	ErrLayer          = errors.New("mpa: reserved layer")
	ErrFreeFormat     = errors.New("mpa: free format bit rate unsupported")
	ErrBitRateIndex   = errors.New("mpa: bad bit rate index")
	ErrSampleRateCode = errors.New("mpa: reserved sample rate")
)

// Bit rates in kbit/s by [version class][layer-1][index]; index 0 and 15 are
// not listed.
var bitRates = [2][3][14]int{
	{ // MPEG-1
		{32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448},
		{32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384},
		{32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320},
	},
	{ // MPEG-2 and 2.5
		{32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256},
		{8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160},
		{8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160},
	},
}

var sampleRates = [3]int{44100, 48000, 32000}

// Header is a decoded 4-byte MPEG audio frame header.
type Header struct {
	Version     Version
	Layer       int // 1, 2 or 3
	HasCRC      bool
	Padding     bool
	ChannelMode int // 3 is single channel

	BitRate    int // bits per second
	SampleRate int
	FrameSize  int // bytes including header
}

// Channels returns the channel count.
func (h Header) Channels() int {
	if h.ChannelMode == 3 {
		return 1
	}
	return 2
}

// Samples returns the number of samples per channel in the frame.
func (h Header) Samples() int {
	switch {
	case h.Layer == 1:
		return 384
	case h.Layer == 3 && h.Version != MPEG1:
		return 576
	default:
		return 1152
	}
}

// ParseHeader decodes the frame header at the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, syncErr(ErrNoSync)
	}
	if b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return Header{}, syncErr(ErrNoSync)
	}
	var h Header
	switch b[1] >> 3 & 3 {
	case 0:
		h.Version = MPEG25
	case 1:
		return Header{}, syncErr(ErrVersion)
	case 2:
		h.Version = MPEG2
	case 3:
		h.Version = MPEG1
	}
	layer := int(b[1] >> 1 & 3)
	if layer == 0 {
		return Header{}, syncErr(ErrLayer)
	}
	h.Layer = 4 - layer
	h.HasCRC = b[1]&1 == 0

	brIndex := int(b[2] >> 4)
	switch brIndex {
	case 0:
		return Header{}, syncErr(ErrFreeFormat)
	case 15:
		return Header{}, syncErr(ErrBitRateIndex)
	}
	srIndex := int(b[2] >> 2 & 3)
	if srIndex == 3 {
		return Header{}, syncErr(ErrSampleRateCode)
	}
	h.Padding = b[2]&2 != 0
	h.ChannelMode = int(b[3] >> 6)

	class := 0
	if h.Version != MPEG1 {
		class = 1
	}
	h.BitRate = bitRates[class][h.Layer-1][brIndex-1] * 1000
	h.SampleRate = sampleRates[srIndex] >> h.Version

	pad := 0
	if h.Padding {
		pad = 1
	}
	switch {
	case h.Layer == 1:
		h.FrameSize = (12*h.BitRate/h.SampleRate + pad) * 4
	case h.Layer == 3 && h.Version != MPEG1:
		h.FrameSize = 72*h.BitRate/h.SampleRate + pad
	default:
		h.FrameSize = 144*h.BitRate/h.SampleRate + pad
	}
	return h, nil
}

func syncErr(err error) error {
	return fmt.Errorf("%w: %w", parser.ErrSync, err)
}

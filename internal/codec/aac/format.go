package aac

import (
	"encoding/binary"

	"github.com/zsiec/framer/internal/parser"
)

// Format frames ADTS streams.
type Format struct{}

// Name implements parser.Format.
func (Format) Name() string { return "aac" }

// NewScanner implements parser.Format.
func (Format) NewScanner() parser.Scanner {
	return parser.NewSyncScanner(headerSize, syncFrameSize)
}

// NewValidator implements parser.Format.
func (Format) NewValidator() parser.Validator { return validator{} }

// syncFrameSize checks the 7 header bytes held in the low 56 bits of hdr.
func syncFrameSize(hdr uint64) (int, bool) {
	if hdr>>44 != syncWord {
		return 0, false
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], hdr<<8)
	h, err := ParseHeader(b[:headerSize])
	if err != nil {
		return 0, false
	}
	return h.FrameLength, true
}

type validator struct{}

func (validator) Validate(frame []byte) (parser.Metadata, error) {
	h, err := ParseHeader(frame)
	if err != nil {
		return parser.Metadata{}, err
	}
	if len(frame) != h.FrameLength {
		return parser.Metadata{}, parser.Syncf("aac: frame is %d bytes, header declares %d", len(frame), h.FrameLength)
	}
	samples := h.Samples()
	rate := h.SampleRate()
	return parser.Metadata{
		Samples:    samples,
		Duration:   parser.SampleDuration(samples, rate),
		SampleRate: rate,
		Channels:   h.ChannelConfig,
		BitRate:    8 * h.FrameLength * rate / samples,
		KeyFrame:   true,
	}, nil
}

func (validator) Reset() {}

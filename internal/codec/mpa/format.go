package mpa

import (
	"encoding/binary"

	"github.com/zsiec/framer/internal/parser"
)

// Format frames MPEG audio streams.
type Format struct{}

// Name implements parser.Format.
func (Format) Name() string { return "mpa" }

// NewScanner implements parser.Format.
func (Format) NewScanner() parser.Scanner {
	return parser.NewSyncScanner(headerSize, func(hdr uint64) (int, bool) {
		if hdr>>21 != 0x7FF {
			return 0, false
		}
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(hdr))
		h, err := ParseHeader(b[:])
		if err != nil {
			return 0, false
		}
		return h.FrameSize, true
	})
}

// NewValidator implements parser.Format.
func (Format) NewValidator() parser.Validator { return validator{} }

type validator struct{}

func (validator) Validate(frame []byte) (parser.Metadata, error) {
	h, err := ParseHeader(frame)
	if err != nil {
		return parser.Metadata{}, err
	}
	if len(frame) != h.FrameSize {
		return parser.Metadata{}, parser.Syncf("mpa: frame is %d bytes, header declares %d", len(frame), h.FrameSize)
	}
	samples := h.Samples()
	return parser.Metadata{
		Samples:    samples,
		Duration:   parser.SampleDuration(samples, h.SampleRate),
		SampleRate: h.SampleRate,
		Channels:   h.Channels(),
		BitRate:    h.BitRate,
		KeyFrame:   true,
	}, nil
}

func (validator) Reset() {}

package dca

import (
	"encoding/binary"

	"github.com/zsiec/framer/internal/parser"
)

// Format frames DTS streams.
type Format struct{}

// Name implements parser.Format.
func (Format) Name() string { return "dca" }

// NewScanner implements parser.Format.
func (Format) NewScanner() parser.Scanner { return &scanner{} }

// NewValidator implements parser.Format.
func (Format) NewValidator() parser.Validator { return validator{} }

type validator struct{}

func (validator) Validate(frame []byte) (parser.Metadata, error) {
	if len(frame) >= 4 && binary.BigEndian.Uint32(frame) == MarkerSubstream {
		h, err := ParseSubstream(frame)
		if err != nil {
			return parser.Metadata{}, err
		}
		if len(frame) < h.FrameSize {
			return parser.Metadata{}, syncErr(ErrTruncated)
		}
		return parser.Metadata{KeyFrame: true}, nil
	}

	h, err := ParseCore(frame)
	if err != nil {
		return parser.Metadata{}, err
	}
	if len(frame) < h.StreamSize() {
		return parser.Metadata{}, syncErr(ErrTruncated)
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

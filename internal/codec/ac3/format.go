package ac3

import (
	"encoding/binary"
	"errors"

	"github.com/zsiec/framer/internal/parser"
)

// ErrCRC is returned when CRC checking is enabled and a frame fails it.
var ErrCRC = errors.New("ac3: CRC mismatch")

// Format frames AC-3 and E-AC-3 streams.
type Format struct {
	// CheckCRC verifies the frame CRC before accepting a frame.
	CheckCRC bool
}

// Name implements parser.Format.
func (Format) Name() string { return "ac3" }

// NewScanner implements parser.Format.
func (Format) NewScanner() parser.Scanner {
	return parser.NewSyncScanner(headerSize, syncFrameSize)
}

// NewValidator implements parser.Format.
func (f Format) NewValidator() parser.Validator {
	return &validator{checkCRC: f.CheckCRC}
}

func syncFrameSize(hdr uint64) (int, bool) {
	if hdr>>48 != syncWord {
		return 0, false
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], hdr)
	h, err := ParseHeader(b[:])
	if err != nil {
		return 0, false
	}
	return h.FrameSize, true
}

type validator struct {
	checkCRC bool
}

func (v *validator) Validate(frame []byte) (parser.Metadata, error) {
	h, err := ParseHeader(frame)
	if err != nil {
		return parser.Metadata{}, err
	}
	if len(frame) != h.FrameSize {
		return parser.Metadata{}, parser.Syncf("ac3: frame is %d bytes, header declares %d", len(frame), h.FrameSize)
	}
	if v.checkCRC && crc16(frame[2:]) != 0 {
		return parser.Metadata{}, syncErr(ErrCRC)
	}
	samples := h.Samples()
	return parser.Metadata{
		Samples:    samples,
		Duration:   parser.SampleDuration(samples, h.SampleRate),
		SampleRate: h.SampleRate,
		Channels:   h.Channels,
		BitRate:    h.BitRate,
		KeyFrame:   true,
	}, nil
}

func (v *validator) Reset() {}

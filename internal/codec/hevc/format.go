// Package hevc frames H.265/HEVC Annex B elementary streams, one frame per
// NAL unit.
package hevc

import (
	"errors"
	"fmt"

	"github.com/zsiec/framer/internal/codec/annexb"
	"github.com/zsiec/framer/internal/parser"
)

// NAL unit type constants as defined in ITU-T H.265 Table 7-1.
const (
	NALBlaWLP     = 16
	NALIDRWRadl   = 19
	NALIDRNlp     = 20
	NALCraNut     = 21
	NALVPS        = 32
	NALSPS        = 33
	NALPPS        = 34
	NALAUD        = 35
	NALFillerData = 38
	NALSEIPrefix  = 39
)

// Unit errors.
var (
	ErrNoUnit       = errors.New("hevc: frame holds no NAL unit")
	ErrForbiddenBit = errors.New("hevc: forbidden_zero_bit set")
	ErrTemporalID   = errors.New("hevc: nuh_temporal_id_plus1 is zero")
)

// NALType extracts the unit type from the first byte of the 2-byte header:
// forbidden(1) | type(6) | layerID_high(1).
func NALType(firstByte byte) byte {
	return (firstByte >> 1) & 0x3F
}

// IsKeyframe reports whether the unit type is a random access point (BLA,
// IDR or CRA).
func IsKeyframe(nalType byte) bool {
	return nalType >= NALBlaWLP && nalType <= NALCraNut
}

// Format frames HEVC Annex B streams.
type Format struct{}

// Name implements parser.Format.
func (Format) Name() string { return "hevc" }

// NewScanner implements parser.Format.
func (Format) NewScanner() parser.Scanner { return annexb.NewScanner() }

// NewValidator implements parser.Format.
func (Format) NewValidator() parser.Validator { return &validator{} }

type validator struct {
	sps *SPS
}

func (v *validator) Validate(frame []byte) (parser.Metadata, error) {
	nal := annexb.Payload(frame)
	if len(nal) < 2 {
		return parser.Metadata{}, syncErr(ErrNoUnit)
	}
	if nal[0]&0x80 != 0 {
		return parser.Metadata{}, syncErr(ErrForbiddenBit)
	}
	if nal[1]&0x07 == 0 {
		return parser.Metadata{}, syncErr(ErrTemporalID)
	}

	var md parser.Metadata
	typ := NALType(nal[0])
	switch {
	case typ == NALSPS:
		sps, err := ParseSPS(nal)
		if err != nil {
			return md, &parser.UnitError{Errs: []error{err}}
		}
		v.sps = &sps
		md.Width, md.Height = sps.Width, sps.Height
		md.Codec = sps.CodecString()
	case typ < NALVPS:
		// VCL units. Only random access points have a known picture type
		// without the PPS.
		if IsKeyframe(typ) {
			md.KeyFrame = true
			md.Picture = parser.PictureI
		}
		if v.sps != nil {
			md.Width, md.Height = v.sps.Width, v.sps.Height
			md.Codec = v.sps.CodecString()
		}
	}
	return md, nil
}

func (v *validator) Reset() {}

// ResetStream implements parser.StreamResetter.
func (v *validator) ResetStream() { v.sps = nil }

func syncErr(err error) error {
	return fmt.Errorf("%w: %w", parser.ErrSync, err)
}

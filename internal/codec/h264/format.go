// Package h264 frames H.264 Annex B elementary streams, one frame per NAL
// unit.
package h264

import (
	"errors"
	"fmt"

	"github.com/zsiec/framer/internal/bits"
	"github.com/zsiec/framer/internal/codec/annexb"
	"github.com/zsiec/framer/internal/parser"
)

// NAL unit type constants as defined in ITU-T H.264 Table 7-1.
const (
	NALTypeSlice      = 1
	NALTypeIDR        = 5
	NALTypeSEI        = 6
	NALTypeSPS        = 7
	NALTypePPS        = 8
	NALTypeAUD        = 9
	NALTypeFillerData = 12
)

// Unit errors.
var (
	ErrNoUnit       = errors.New("h264: frame holds no NAL unit")
	ErrForbiddenBit = errors.New("h264: forbidden_zero_bit set")
	ErrSliceType    = errors.New("h264: slice_type out of range")
)

// sliceHeaderPeek bounds the bytes unescaped to read a slice type.
const sliceHeaderPeek = 16

var pictureTypes = [5]parser.PictureType{
	parser.PictureP, parser.PictureB, parser.PictureI, parser.PictureP, parser.PictureI,
}

// Format frames H.264 Annex B streams.
type Format struct{}

// Name implements parser.Format.
func (Format) Name() string { return "h264" }

// NewScanner implements parser.Format.
func (Format) NewScanner() parser.Scanner { return annexb.NewScanner() }

// NewValidator implements parser.Format.
func (Format) NewValidator() parser.Validator { return &validator{} }

// NALType returns the unit type from the first header byte.
func NALType(header byte) byte { return header & 0x1F }

// IsKeyframe reports whether the unit type is an IDR slice.
func IsKeyframe(nalType byte) bool { return nalType == NALTypeIDR }

type validator struct {
	sps *SPS
}

func (v *validator) Validate(frame []byte) (parser.Metadata, error) {
	nal := annexb.Payload(frame)
	if len(nal) == 0 {
		return parser.Metadata{}, syncErr(ErrNoUnit)
	}
	if nal[0]&0x80 != 0 {
		return parser.Metadata{}, syncErr(ErrForbiddenBit)
	}

	var md parser.Metadata
	switch typ := NALType(nal[0]); typ {
	case NALTypeSPS:
		sps, err := ParseSPS(nal)
		if err != nil {
			return md, &parser.UnitError{Errs: []error{err}}
		}
		v.sps = &sps
		md.Width, md.Height = sps.Width, sps.Height
		md.Codec = sps.CodecString()
	case NALTypeSlice, NALTypeIDR:
		md.KeyFrame = typ == NALTypeIDR
		if v.sps != nil {
			md.Width, md.Height = v.sps.Width, v.sps.Height
			md.Duration = v.sps.FrameDuration()
			md.Codec = v.sps.CodecString()
		}
		r := bits.NewReader(annexb.Unescape(nal[1:min(len(nal), 1+sliceHeaderPeek)]))
		r.ReadUE() // first_mb_in_slice
		st := r.ReadUE()
		if r.Overflow() || st > 9 {
			return md, &parser.UnitError{Errs: []error{fmt.Errorf("%w: %d", ErrSliceType, st)}}
		}
		md.Picture = pictureTypes[st%5]
	}
	return md, nil
}

func (v *validator) Reset() {}

// ResetStream implements parser.StreamResetter.
func (v *validator) ResetStream() { v.sps = nil }

func syncErr(err error) error {
	return fmt.Errorf("%w: %w", parser.ErrSync, err)
}

package evc

import (
	"encoding/binary"

	"github.com/zsiec/framer/internal/parser"
)

// DefaultMaxUnitSize bounds unit lengths when Format.MaxUnitSize is zero.
const DefaultMaxUnitSize = 16 << 20

// Format frames length-prefixed EVC streams into access units.
type Format struct {
	// MaxUnitSize is the largest unit length accepted before the stream is
	// treated as corrupt.
	MaxUnitSize int
}

// Name implements parser.Format.
func (Format) Name() string { return "evc" }

// NewScanner implements parser.Format.
func (f Format) NewScanner() parser.Scanner {
	return newScanner(f.maxUnit())
}

// NewValidator implements parser.Format.
func (f Format) NewValidator() parser.Validator {
	v := &validator{}
	v.track.reset()
	return v
}

func (f Format) maxUnit() int {
	if f.MaxUnitSize > 0 {
		return f.MaxUnitSize
	}
	return DefaultMaxUnitSize
}

type validator struct {
	track tracker
}

// splitUnits checks the length fields of an access unit before any unit is
// decoded, so a malformed frame changes no state.
func splitUnits(frame []byte) ([][]byte, error) {
	var units [][]byte
	for pos := 0; pos < len(frame); {
		if len(frame)-pos < lengthSize {
			return nil, parser.Structf("evc: %d trailing bytes", len(frame)-pos)
		}
		n := int(binary.BigEndian.Uint32(frame[pos:]))
		pos += lengthSize
		if n < headerSize || n > len(frame)-pos {
			return nil, parser.Structf("evc: unit length %d with %d bytes left", n, len(frame)-pos)
		}
		units = append(units, frame[pos:pos+n])
		pos += n
	}
	if len(units) == 0 {
		return nil, parser.Structf("evc: empty access unit")
	}
	return units, nil
}

func (v *validator) Validate(frame []byte) (parser.Metadata, error) {
	units, err := splitUnits(frame)
	if err != nil {
		return parser.Metadata{}, err
	}

	var (
		md      parser.Metadata
		picture bool
		errs    []error
	)
	for _, unit := range units {
		h, err := ParseHeader(unit)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rbsp := unit[headerSize:]
		if !h.Type.IsVCL() {
			if err := v.track.parameterSet(h, rbsp); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		sh, sps, err := ParseSliceHeader(&v.track.ps, h, rbsp)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if picture {
			continue
		}
		poc, err := v.track.poc.Derive(sps, sh, h.Type == UnitIDR, h.TemporalID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		picture = true
		md = parser.Metadata{
			Picture:  sh.Type.Picture(),
			KeyFrame: h.Type == UnitIDR,
			Width:    sps.Width,
			Height:   sps.Height,
			Order:    poc,
		}
	}
	if len(errs) > 0 {
		return md, &parser.UnitError{Errs: errs}
	}
	return md, nil
}

func (v *validator) Reset() { v.track.poc.Reset() }

// ResetStream implements parser.StreamResetter.
func (v *validator) ResetStream() { v.track.reset() }

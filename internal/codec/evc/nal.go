// Package evc frames MPEG-5 Essential Video Coding streams stored as
// length-prefixed units into access units. Sequence and picture parameter
// sets are tracked so slice headers can be decoded, picture order counts
// derived and pictures told apart.
package evc

import (
	"errors"
	"fmt"
)

// UnitType is the EVC NAL unit type.
type UnitType int

// NAL unit types.
const (
	UnitNonIDR UnitType = 0
	UnitIDR    UnitType = 1
	UnitSPS    UnitType = 24
	UnitPPS    UnitType = 25
	UnitAPS    UnitType = 26
	UnitFD     UnitType = 27
	UnitSEI    UnitType = 28

	maxUnitType UnitType = 62
)

// IsVCL reports whether the unit carries slice data.
func (t UnitType) IsVCL() bool { return t == UnitNonIDR || t == UnitIDR }

func (t UnitType) String() string {
	switch t {
	case UnitNonIDR:
		return "NONIDR"
	case UnitIDR:
		return "IDR"
	case UnitSPS:
		return "SPS"
	case UnitPPS:
		return "PPS"
	case UnitAPS:
		return "APS"
	case UnitFD:
		return "FD"
	case UnitSEI:
		return "SEI"
	default:
		return fmt.Sprintf("type %d", int(t))
	}
}

const (
	// lengthSize is the size of the big-endian length before each unit.
	lengthSize = 4
	headerSize = 2
)

// Unit errors.
var (
	ErrForbiddenBit = errors.New("evc: forbidden bit set")
	ErrUnitType     = errors.New("evc: unit type out of range")
)

// Header is the 2-byte NAL unit header.
type Header struct {
	Type       UnitType
	TemporalID int
	Extension  bool
}

// ParseHeader decodes the unit header at the start of unit.
func ParseHeader(unit []byte) (Header, error) {
	if len(unit) < headerSize {
		return Header{}, fmt.Errorf("evc: unit of %d bytes has no header", len(unit))
	}
	if unit[0]&0x80 != 0 {
		return Header{}, ErrForbiddenBit
	}
	typ := UnitType(unit[0]>>1&0x3F) - 1
	if typ < 0 || typ > maxUnitType {
		return Header{}, fmt.Errorf("%w: %d", ErrUnitType, typ)
	}
	// the 5 reserved bits in the second byte are ignored
	return Header{
		Type:       typ,
		TemporalID: int(unit[0]&1)<<2 | int(unit[1]>>6),
		Extension:  unit[1]&1 != 0,
	}, nil
}

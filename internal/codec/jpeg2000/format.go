package jpeg2000

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zsiec/framer/internal/parser"
)

// JP2 box types
const (
	boxSignature  = 0x6A502020 // "jP  "
	boxCodestream = 0x6A703263 // "jp2c"
)

// Validation errors. Each wraps parser.ErrSync.
var (
	ErrNoCodestream = errors.New("jpeg2000: no codestream")
	ErrBox          = errors.New("jpeg2000: malformed box")
	ErrSIZ          = errors.New("jpeg2000: malformed SIZ segment")
)

// SIZ is the decoded image and tile size segment.
type SIZ struct {
	Xsiz, Ysiz   uint32
	XOsiz, YOsiz uint32
	XTsiz, YTsiz uint32
	Components   int
}

// Width returns the reference grid width of the image area.
func (s SIZ) Width() int { return int(s.Xsiz - s.XOsiz) }

// Height returns the reference grid height of the image area.
func (s SIZ) Height() int { return int(s.Ysiz - s.YOsiz) }

// ParseSIZ decodes the SIZ segment of a codestream starting with SOC.
func ParseSIZ(cs []byte) (SIZ, error) {
	// SOC, SIZ marker, Lsiz, Rsiz, eight 32-bit fields, Csiz
	const fixed = 2 + 2 + 2 + 2 + 8*4 + 2
	if len(cs) < fixed || binary.BigEndian.Uint32(cs) != socSIZ {
		return SIZ{}, syncErr(ErrNoCodestream)
	}
	lsiz := int(binary.BigEndian.Uint16(cs[4:]))
	var s SIZ
	s.Xsiz = binary.BigEndian.Uint32(cs[8:])
	s.Ysiz = binary.BigEndian.Uint32(cs[12:])
	s.XOsiz = binary.BigEndian.Uint32(cs[16:])
	s.YOsiz = binary.BigEndian.Uint32(cs[20:])
	s.XTsiz = binary.BigEndian.Uint32(cs[24:])
	s.YTsiz = binary.BigEndian.Uint32(cs[28:])
	s.Components = int(binary.BigEndian.Uint16(cs[40:]))

	switch {
	case s.Components < 1 || s.Components > 16384:
		return SIZ{}, syncErr(fmt.Errorf("%w: %d components", ErrSIZ, s.Components))
	case lsiz != 38+3*s.Components:
		return SIZ{}, syncErr(fmt.Errorf("%w: Lsiz %d for %d components", ErrSIZ, lsiz, s.Components))
	case len(cs) < 4+lsiz:
		return SIZ{}, syncErr(fmt.Errorf("%w: truncated", ErrSIZ))
	case s.Xsiz <= s.XOsiz || s.Ysiz <= s.YOsiz:
		return SIZ{}, syncErr(fmt.Errorf("%w: empty image area", ErrSIZ))
	case s.XTsiz == 0 || s.YTsiz == 0:
		return SIZ{}, syncErr(fmt.Errorf("%w: zero tile size", ErrSIZ))
	}
	return s, nil
}

// codestream returns the contents of the jp2c box of a JP2 file.
func codestream(file []byte) ([]byte, error) {
	pos := 0
	for pos+8 <= len(file) {
		size := int64(binary.BigEndian.Uint32(file[pos:]))
		typ := binary.BigEndian.Uint32(file[pos+4:])
		hdr := int64(8)
		switch size {
		case 0:
			size = int64(len(file) - pos)
		case 1:
			if pos+16 > len(file) {
				return nil, syncErr(ErrBox)
			}
			size = int64(binary.BigEndian.Uint64(file[pos+8:]))
			hdr = 16
		}
		if size < hdr {
			return nil, syncErr(ErrBox)
		}
		if pos == 0 && typ != boxSignature {
			return nil, syncErr(ErrBox)
		}
		if typ == boxCodestream {
			// a short final frame may end inside the box
			end := min(int64(pos)+size, int64(len(file)))
			return file[pos+int(hdr) : end], nil
		}
		if size > int64(len(file)-pos) {
			return nil, syncErr(ErrBox)
		}
		pos += int(size)
	}
	return nil, syncErr(ErrNoCodestream)
}

// Format frames JPEG 2000 images.
type Format struct{}

// Name implements parser.Format.
func (Format) Name() string { return "jpeg2000" }

// NewScanner implements parser.Format.
func (Format) NewScanner() parser.Scanner { return &scanner{} }

// NewValidator implements parser.Format.
func (Format) NewValidator() parser.Validator { return validator{} }

type validator struct{}

func (validator) Validate(frame []byte) (parser.Metadata, error) {
	cs := frame
	if len(frame) >= jp2SignatureSize && binary.BigEndian.Uint32(frame) == jp2SignatureHead {
		var err error
		if cs, err = codestream(frame); err != nil {
			return parser.Metadata{}, err
		}
	}
	siz, err := ParseSIZ(cs)
	if err != nil {
		return parser.Metadata{}, err
	}
	return parser.Metadata{
		Picture:  parser.PictureI,
		KeyFrame: true,
		Width:    siz.Width(),
		Height:   siz.Height(),
	}, nil
}

func (validator) Reset() {}

func syncErr(err error) error {
	return fmt.Errorf("%w: %w", parser.ErrSync, err)
}

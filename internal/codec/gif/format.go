package gif

import (
	"encoding/binary"
	"time"

	"github.com/zsiec/framer/internal/parser"
)

// Format frames GIF streams, one frame per image.
type Format struct{}

// Name implements parser.Format.
func (Format) Name() string { return "gif" }

// NewScanner implements parser.Format.
func (Format) NewScanner() parser.Scanner { return &scanner{} }

// NewValidator implements parser.Format.
func (Format) NewValidator() parser.Validator { return validator{} }

type validator struct{}

// Validate walks every block of the frame. Sub-block chains are bounded by
// the frame length, so the walk ends after at most len(frame) steps.
func (validator) Validate(frame []byte) (parser.Metadata, error) {
	var md parser.Metadata
	pos := 0
	if len(frame) >= signatureSize && string(frame[:3]) == "GIF" {
		if v := string(frame[3:6]); v != "87a" && v != "89a" {
			return md, parser.Syncf("gif: unknown version %q", v)
		}
		if len(frame) < signatureSize+screenDescSize {
			return md, parser.Syncf("gif: truncated screen descriptor")
		}
		md.KeyFrame = true
		md.Width = int(binary.LittleEndian.Uint16(frame[6:]))
		md.Height = int(binary.LittleEndian.Uint16(frame[8:]))
		pos = signatureSize + screenDescSize
		if packed := frame[10]; packed&0x80 != 0 {
			pos += colorTableSize(packed)
		}
	}

	images, trailer := 0, false
	for pos < len(frame) && !trailer {
		switch frame[pos] {
		case blockExtension:
			if pos+2 > len(frame) {
				return parser.Metadata{}, parser.Syncf("gif: truncated extension")
			}
			label := frame[pos+1]
			if label == labelGraphicControl && pos+6 < len(frame) && frame[pos+2] == 4 {
				delay := binary.LittleEndian.Uint16(frame[pos+4:])
				md.Duration = time.Duration(delay) * 10 * time.Millisecond
			}
			end, ok := skipSubBlocks(frame, pos+2)
			if !ok {
				return parser.Metadata{}, parser.Syncf("gif: truncated extension data")
			}
			pos = end
		case blockImage:
			if pos+1+imageDescSize+1 > len(frame) {
				return parser.Metadata{}, parser.Syncf("gif: truncated image descriptor")
			}
			desc := frame[pos+1 : pos+1+imageDescSize]
			if !md.KeyFrame {
				md.Width = int(binary.LittleEndian.Uint16(desc[4:]))
				md.Height = int(binary.LittleEndian.Uint16(desc[6:]))
			}
			pos += 1 + imageDescSize
			if desc[8]&0x80 != 0 {
				pos += colorTableSize(desc[8])
			}
			pos++ // LZW minimum code size
			end, ok := skipSubBlocks(frame, pos)
			if !ok {
				return parser.Metadata{}, parser.Syncf("gif: truncated image data")
			}
			pos = end
			images++
		case blockTrailer:
			trailer = true
			pos++
		default:
			return parser.Metadata{}, parser.Syncf("gif: unknown block 0x%02X at %d", frame[pos], pos)
		}
	}
	switch {
	case pos > len(frame):
		return parser.Metadata{}, parser.Syncf("gif: color table runs past frame end")
	case pos < len(frame):
		return parser.Metadata{}, parser.Syncf("gif: %d bytes after trailer", len(frame)-pos)
	}
	if images > 1 {
		return parser.Metadata{}, parser.Syncf("gif: %d images in one frame", images)
	}
	if images == 0 && !trailer {
		return parser.Metadata{}, parser.Syncf("gif: frame has no image")
	}
	return md, nil
}

// skipSubBlocks returns the offset after the zero-length terminator of the
// sub-block chain starting at pos.
func skipSubBlocks(frame []byte, pos int) (int, bool) {
	for pos < len(frame) {
		n := int(frame[pos])
		pos++
		if n == 0 {
			return pos, true
		}
		pos += n
	}
	return 0, false
}

func (validator) Reset() {}

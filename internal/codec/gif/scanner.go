// Package gif splits GIF streams into one frame per image. The first frame
// carries the header, logical screen descriptor and global color table and is
// the key frame; extensions that precede an image belong to its frame.
package gif

import (
	"fmt"

	"github.com/zsiec/framer/internal/parser"
)

const (
	blockExtension = 0x21
	blockImage     = 0x2C
	blockTrailer   = 0x3B

	labelGraphicControl = 0xF9

	signatureSize  = 6
	screenDescSize = 7
	imageDescSize  = 9
)

// ErrBlock is reported when a byte that introduces no known block appears
// between blocks. The stream is abandoned until the next signature.
var ErrBlock = fmt.Errorf("%w: gif: unknown block introducer", parser.ErrStructure)

// Signatures "GIF87a" and "GIF89a" as 48-bit integers.
const (
	signature87a = 0x474946383761
	signature89a = 0x474946383961
)

type state int

const (
	stSignature state = iota
	stScreen
	stBlock
	stExtLabel
	stSubBlock
	stImageDesc
	stCodeSize
	stSkip
)

type scanner struct {
	// inStream is set between a signature and the trailer. It survives
	// Restart so frames after the first start at a block introducer.
	inStream bool

	state   state
	win     parser.Window
	seen    int
	started bool
	image   bool // an image block has been seen in the frame
	inImage bool // the sub-block chain belongs to an image
	skip    int
	collect int
	packed  byte
	next    state
}

func (s *scanner) Scan(buf []byte) parser.Boundary {
	i := 0
	for i < len(buf) {
		if s.state == stSkip {
			n := min(s.skip, len(buf)-i)
			s.skip -= n
			i += n
			if s.skip == 0 {
				s.state = s.next
			}
			continue
		}

		c := buf[i]
		i++
		switch s.state {
		case stSignature:
			s.win.Push(c)
			s.seen++
			if !s.win.Filled(signatureSize) {
				continue
			}
			if sig := s.win.Uint48(); sig != signature87a && sig != signature89a {
				continue
			}
			if s.seen > signatureSize {
				return parser.Boundary{Offset: i - signatureSize, Found: true, Junk: true}
			}
			s.started = true
			s.inStream = true
			s.state = stScreen
			s.collect = screenDescSize

		case stScreen:
			s.collect--
			if s.collect == screenDescSize-5 {
				// packed fields follow width and height
				s.packed = c
			}
			if s.collect == 0 {
				s.skipColorTable(stBlock)
			}

		case stBlock:
			s.started = true
			if s.image && c != blockTrailer {
				// the next frame starts here
				return parser.Boundary{Offset: i - 1, Found: true}
			}
			switch c {
			case blockExtension:
				s.state = stExtLabel
			case blockImage:
				s.state = stImageDesc
				s.collect = imageDescSize
			case blockTrailer:
				s.inStream = false
				return parser.Boundary{Offset: i, Found: true}
			default:
				s.inStream = false
				return parser.Boundary{Offset: i, Found: true, Err: ErrBlock}
			}

		case stExtLabel:
			s.inImage = false
			s.state = stSubBlock

		case stImageDesc:
			s.collect--
			if s.collect == 0 {
				s.packed = c
				s.skipColorTable(stCodeSize)
			}

		case stCodeSize:
			s.inImage = true
			s.state = stSubBlock

		case stSubBlock:
			if c == 0 {
				if s.inImage {
					s.image = true
				}
				s.state = stBlock
				continue
			}
			s.skip = int(c)
			s.state = stSkip
			s.next = stSubBlock
		}
	}
	return parser.Boundary{}
}

// skipColorTable skips the color table announced by the packed byte, if any,
// then continues in state next.
func (s *scanner) skipColorTable(next state) {
	if s.packed&0x80 == 0 {
		s.state = next
		return
	}
	s.skip = colorTableSize(s.packed)
	s.state = stSkip
	s.next = next
}

func colorTableSize(packed byte) int {
	return 3 << (packed&0x07 + 1)
}

func (s *scanner) Started() bool { return s.started }

func (s *scanner) Restart() {
	inStream := s.inStream
	*s = scanner{inStream: inStream}
	if inStream {
		s.state = stBlock
	}
}

func (s *scanner) Reset() { *s = scanner{} }

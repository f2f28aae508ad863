// Package jpeg2000 frames JPEG 2000 images delivered either as raw
// codestreams or wrapped in the JP2 file format. Each image is one frame.
package jpeg2000

import "github.com/zsiec/framer/internal/parser"

// JPEG2000 marker codes
const (
	markerSOC uint16 = 0xFF4F // Start of codestream
	markerSIZ uint16 = 0xFF51 // Image and tile size
	markerSOT uint16 = 0xFF90 // Start of tile-part
	markerSOD uint16 = 0xFF93 // Start of data
	markerEOC uint16 = 0xFFD9 // End of codestream
)

const (
	// socSIZ is a codestream start: SOC immediately followed by SIZ.
	socSIZ = uint32(markerSOC)<<16 | uint32(markerSIZ)

	// The JP2 signature box: length 12, type "jP  ", content CR LF 0x87 LF.
	jp2SignatureHead = 0x0000000C
	jp2SignatureTail = 0x6A5020200D0A870A
	jp2SignatureSize = 12

	sotSegmentSize = 10
	// sotHeaderSize is the SOT marker plus its segment, the part of a tile
	// part counted by Psot before the next field.
	sotHeaderSize = 2 + sotSegmentSize
)

type state int

const (
	stSearch  state = iota // no image started
	stFile                 // JP2 boxes before the codestream
	stMarker1              // expecting 0xFF of a marker
	stMarker2              // expecting the marker code
	stLength1
	stLength2
	stSOT  // collecting the SOT segment body
	stData // tile data of unknown length
	stSkip
)

type scanner struct {
	win  parser.Window
	prev uint32 // bytes evicted from win, for the 12-byte signature
	seen int

	started bool
	state   state
	next    state
	marker  uint16
	length  int
	sot     [sotSegmentSize - 2]byte
	collect int
	skip    int
}

func (s *scanner) signature() bool {
	return s.win.Filled(8) && s.prev == jp2SignatureHead && s.win.Uint64() == jp2SignatureTail
}

func (s *scanner) codestreamStart() bool {
	return s.win.Filled(4) && s.win.Uint32() == socSIZ
}

func (s *scanner) Scan(buf []byte) parser.Boundary {
	i := 0
	for i < len(buf) {
		if s.state == stSkip {
			n := min(s.skip, len(buf)-i)
			s.skip -= n
			i += n
			if s.skip == 0 {
				// skipped bytes never join a marker match
				s.win.Reset()
				s.prev = 0
				s.state = s.next
			}
			continue
		}

		c := buf[i]
		i++
		out := s.win.Push(c)
		s.prev = s.prev<<8 | uint32(out)
		s.seen++

		switch s.state {
		case stSearch:
			switch {
			case s.seen >= jp2SignatureSize && s.signature():
				if s.seen > jp2SignatureSize {
					return parser.Boundary{Offset: i - jp2SignatureSize, Found: true, Junk: true}
				}
				s.started = true
				s.state = stFile
			case s.codestreamStart():
				if s.seen > 4 {
					return parser.Boundary{Offset: i - 4, Found: true, Junk: true}
				}
				s.started = true
				s.marker = markerSIZ
				s.state = stLength1
			}

		case stFile:
			switch {
			case s.signature():
				return parser.Boundary{Offset: i - jp2SignatureSize, Found: true}
			case s.codestreamStart():
				s.marker = markerSIZ
				s.state = stLength1
			}

		case stMarker1:
			if c != 0xFF {
				// lost marker alignment; fall back to searching for EOC
				s.state = stData
				continue
			}
			s.state = stMarker2

		case stMarker2:
			s.marker = 0xFF00 | uint16(c)
			switch {
			case s.marker == markerEOC:
				return parser.Boundary{Offset: i, Found: true}
			case s.marker == markerSOC:
				return parser.Boundary{Offset: i - 2, Found: true}
			case s.marker == markerSOD:
				s.state = stData
			case s.marker >= 0xFF30 && s.marker <= 0xFF3F:
				// reserved markers without a segment
				s.state = stMarker1
			default:
				s.state = stLength1
			}

		case stLength1:
			s.length = int(c) << 8
			s.state = stLength2

		case stLength2:
			s.length |= int(c)
			switch {
			case s.length < 2:
				s.state = stData
			case s.marker == markerSOT && s.length == sotSegmentSize:
				s.collect = 0
				s.state = stSOT
			default:
				s.skipTo(s.length-2, stMarker1)
			}

		case stSOT:
			s.sot[s.collect] = c
			s.collect++
			if s.collect < len(s.sot) {
				continue
			}
			psot := int(s.sot[2])<<24 | int(s.sot[3])<<16 | int(s.sot[4])<<8 | int(s.sot[5])
			switch {
			case psot == 0:
				// the tile part runs to EOC; parse its header up to SOD
				s.state = stMarker1
			case psot < sotHeaderSize:
				s.state = stData
			default:
				s.skipTo(psot-sotHeaderSize, stMarker1)
			}

		case stData:
			switch {
			case s.win.Uint16() == markerEOC:
				return parser.Boundary{Offset: i, Found: true}
			case s.signature():
				return parser.Boundary{Offset: i - jp2SignatureSize, Found: true}
			case s.codestreamStart():
				return parser.Boundary{Offset: i - 4, Found: true}
			}
		}
	}
	return parser.Boundary{}
}

func (s *scanner) skipTo(n int, next state) {
	if n == 0 {
		s.state = next
		return
	}
	s.skip = n
	s.next = next
	s.state = stSkip
}

func (s *scanner) Started() bool { return s.started }

func (s *scanner) Restart() { *s = scanner{} }

func (s *scanner) Reset() { *s = scanner{} }

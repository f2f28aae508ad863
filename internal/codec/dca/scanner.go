package dca

import "github.com/zsiec/framer/internal/parser"

// scanHeaderSize is the number of frame bytes collected before the declared
// frame size is decoded.
const scanHeaderSize = 16

// matchMarker reports the marker completed by the last byte pushed into w and
// the number of bytes it spans. Core markers are confirmed by the two bytes
// following them.
func matchMarker(w *parser.Window) (uint32, int) {
	if w.Filled(6) {
		state := w.Uint48()
		switch {
		case state&0xFFFFFFFFFC00 == MarkerCoreBE<<16|0xFC00:
			return MarkerCoreBE, 6
		case state&0xFFFFFFFF00FC == MarkerCoreLE<<16|0x00FC:
			return MarkerCoreLE, 6
		case state&0xFFFFFFFFFFF0 == MarkerCore14BE<<16|0x07F0:
			return MarkerCore14BE, 6
		case state&0xFFFFFFFFF0FF == MarkerCore14LE<<16|0xF007:
			return MarkerCore14LE, 6
		}
	}
	if w.Filled(4) && w.Uint32() == MarkerSubstream {
		return MarkerSubstream, 4
	}
	return 0, 0
}

// scanner ends a frame at the next marker equal to the latched one that lies
// at or past the size the frame header declares.
type scanner struct {
	latch uint32

	win     parser.Window
	seen    int
	started bool
	size    int // frame bytes seen, marker included

	hdr      [scanHeaderSize]byte
	declared int
}

func (s *scanner) Scan(buf []byte) parser.Boundary {
	for i, c := range buf {
		s.win.Push(c)
		s.seen++
		if s.started {
			if s.size < scanHeaderSize {
				s.hdr[s.size] = c
				if s.size == scanHeaderSize-1 {
					s.declared = declaredSize(s.latch, s.hdr[:])
				}
			}
			s.size++
		}

		marker, n := matchMarker(&s.win)
		if n == 0 || (s.latch != 0 && marker != s.latch) {
			continue
		}
		start := i + 1 - n

		if !s.started {
			if s.seen > n {
				return parser.Boundary{Offset: start, Found: true, Junk: true}
			}
			s.latch = marker
			s.started = true
			s.size = n
			last := s.win.Last(n)
			for k := 0; k < n; k++ {
				s.hdr[k] = byte(last >> (8 * (n - 1 - k)))
			}
			continue
		}
		if pos := s.size - n; pos >= scanHeaderSize && pos >= s.declared {
			return parser.Boundary{Offset: start, Found: true}
		}
	}
	return parser.Boundary{}
}

func (s *scanner) Started() bool { return s.started }

// Restart keeps the latched marker.
func (s *scanner) Restart() {
	latch := s.latch
	*s = scanner{latch: latch}
}

func (s *scanner) Reset() { *s = scanner{} }

// Package annexb frames byte streams in which every unit is preceded by a
// 00 00 01 start code, optionally with one extra leading zero. H.264 and
// HEVC elementary streams share this layout.
package annexb

import "github.com/zsiec/framer/internal/parser"

// Scanner emits one frame per unit, start code included. A zero byte right
// before a start code belongs to that start code.
type Scanner struct {
	win     parser.Window
	seen    int
	started bool
}

// NewScanner returns a start code scanner.
func NewScanner() *Scanner { return &Scanner{} }

// startCode reports the length of the start code completed by the last byte
// pushed into w, or 0.
func startCode(w *parser.Window) int {
	if !w.Filled(3) || w.Last(3) != 1 {
		return 0
	}
	if w.Filled(4) && w.Last(4) == 1 {
		return 4
	}
	return 3
}

// Scan implements parser.Scanner.
func (s *Scanner) Scan(buf []byte) parser.Boundary {
	for i, c := range buf {
		s.win.Push(c)
		s.seen++
		n := startCode(&s.win)
		if n == 0 {
			continue
		}
		start := i + 1 - n
		if s.started {
			return parser.Boundary{Offset: start, Found: true}
		}
		if s.seen > n {
			return parser.Boundary{Offset: start, Found: true, Junk: true}
		}
		s.started = true
	}
	return parser.Boundary{}
}

// Started implements parser.Scanner.
func (s *Scanner) Started() bool { return s.started }

// Restart implements parser.Scanner.
func (s *Scanner) Restart() { s.Reset() }

// Reset implements parser.Scanner.
func (s *Scanner) Reset() { *s = Scanner{} }

// Payload strips the start code from a frame and trailing zero bytes left
// before the next start code. It returns nil when the frame does not begin
// with a start code.
func Payload(frame []byte) []byte {
	switch {
	case len(frame) >= 4 && frame[0] == 0 && frame[1] == 0 && frame[2] == 0 && frame[3] == 1:
		frame = frame[4:]
	case len(frame) >= 3 && frame[0] == 0 && frame[1] == 0 && frame[2] == 1:
		frame = frame[3:]
	default:
		return nil
	}
	for len(frame) > 0 && frame[len(frame)-1] == 0 {
		frame = frame[:len(frame)-1]
	}
	return frame
}

// Unescape removes emulation prevention bytes (the 03 in 00 00 03) from a
// unit payload.
func Unescape(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
		} else {
			out = append(out, data[i])
		}
	}
	return out
}

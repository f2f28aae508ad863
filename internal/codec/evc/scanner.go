package evc

import (
	"encoding/binary"

	"github.com/zsiec/framer/internal/parser"
)

// collectSize bounds the bytes of each unit kept for header decoding.
// Parameter sets and slice headers fit well inside it.
const collectSize = 4096

type scanState int

const (
	stLength scanState = iota
	stCollect
	stSkip
)

// tracker holds the stream-level decoding state.
type tracker struct {
	ps  ParameterSets
	poc POCState
}

func (t *tracker) reset() {
	t.ps.Reset()
	t.poc.Reset()
}

// parameterSet stores SPS and PPS units. Other non-VCL units carry nothing
// the framer needs.
func (t *tracker) parameterSet(h Header, rbsp []byte) error {
	var err error
	switch h.Type {
	case UnitSPS:
		_, err = t.ps.AddSPS(rbsp)
	case UnitPPS:
		_, err = t.ps.AddPPS(rbsp)
	}
	return err
}

// scanner splits the unit stream into access units. It decodes parameter
// sets and slice headers itself since a picture boundary is only visible
// in the slice header.
type scanner struct {
	maxUnit int
	track   tracker

	// carry holds the order count of the slice that started the frame
	// being rescanned, so it is not derived twice.
	carry    bool
	carryPOC int

	started bool
	state   scanState
	pos     int // bytes scanned since the frame start
	lenBuf  [lengthSize]byte
	lenN    int

	unitStart int
	unitLen   int
	unit      []byte
	want      int
	skip      int

	auVCL      bool
	auPOC      int
	lastVCLEnd int
}

func newScanner(maxUnit int) *scanner {
	s := &scanner{maxUnit: maxUnit, unit: make([]byte, 0, collectSize)}
	s.track.reset()
	return s
}

func (s *scanner) Scan(buf []byte) parser.Boundary {
	i := 0
	for i < len(buf) {
		switch s.state {
		case stLength:
			s.started = true
			s.lenBuf[s.lenN] = buf[i]
			s.lenN++
			i++
			s.pos++
			if s.lenN < lengthSize {
				continue
			}
			s.lenN = 0
			n := int(binary.BigEndian.Uint32(s.lenBuf[:]))
			if n < headerSize || n > s.maxUnit {
				if s.pos > lengthSize {
					// End the frame before the bad field; the rescan
					// reports it on its own.
					return parser.Boundary{Offset: i - lengthSize, Found: true}
				}
				return parser.Boundary{
					Offset: i,
					Found:  true,
					Err:    parser.Structf("evc: unit length %d outside [%d, %d]", n, headerSize, s.maxUnit),
				}
			}
			s.unitStart = s.pos - lengthSize
			s.unitLen = n
			s.unit = s.unit[:0]
			s.want = min(n, collectSize)
			s.state = stCollect

		case stCollect:
			k := min(s.want-len(s.unit), len(buf)-i)
			s.unit = append(s.unit, buf[i:i+k]...)
			i += k
			s.pos += k
			if len(s.unit) < s.want {
				continue
			}
			if s.startsAccessUnit() {
				return parser.Boundary{Offset: i - (s.pos - s.lastVCLEnd), Found: true}
			}
			s.skip = s.unitLen - s.want
			s.state = stSkip
			if s.skip == 0 {
				s.state = stLength
			}

		case stSkip:
			k := min(s.skip, len(buf)-i)
			s.skip -= k
			i += k
			s.pos += k
			if s.skip == 0 {
				s.state = stLength
			}
		}
	}
	return parser.Boundary{}
}

// startsAccessUnit processes the collected unit and reports whether it is a
// slice opening a new access unit after the current one's last slice.
func (s *scanner) startsAccessUnit() bool {
	h, err := ParseHeader(s.unit)
	if err != nil {
		return false
	}
	if !h.Type.IsVCL() {
		s.track.parameterSet(h, s.unit[headerSize:])
		return false
	}

	var (
		poc      int
		baseline bool
		decoded  bool
	)
	sh, sps, err := ParseSliceHeader(&s.track.ps, h, s.unit[headerSize:])
	if err == nil {
		baseline = sps.Baseline()
		if s.carry {
			poc, decoded = s.carryPOC, true
			s.carry = false
		} else {
			poc, err = s.nextPOC(sps, sh, h)
			decoded = err == nil
		}
	}

	if s.auVCL && (!decoded || baseline || h.Type == UnitIDR || poc != s.auPOC) {
		s.carry, s.carryPOC = decoded, poc
		return true
	}
	if !s.auVCL {
		s.auPOC = poc
	}
	s.auVCL = true
	s.lastVCLEnd = s.unitStart + lengthSize + s.unitLen
	return false
}

// nextPOC derives the order count of a slice. A further slice of the
// current picture leaves the derivation state untouched.
func (s *scanner) nextPOC(sps *SPS, sh *SliceHeader, h Header) (int, error) {
	trial := s.track.poc
	idr := h.Type == UnitIDR
	poc, err := trial.Derive(sps, sh, idr, h.TemporalID)
	if err != nil {
		return 0, err
	}
	if s.auVCL && poc == s.auPOC && !idr && !sps.Baseline() {
		return poc, nil
	}
	s.track.poc = trial
	return poc, nil
}

func (s *scanner) Started() bool { return s.started }

func (s *scanner) Restart() {
	s.started = false
	s.state = stLength
	s.pos = 0
	s.lenN = 0
	s.unit = s.unit[:0]
	s.want, s.skip = 0, 0
	s.auVCL = false
	s.auPOC = 0
	s.lastVCLEnd = 0
}

func (s *scanner) Reset() {
	s.Restart()
	s.carry, s.carryPOC = false, 0
	s.track.poc.Reset()
}

func (s *scanner) ResetStream() {
	s.Reset()
	s.track.ps.Reset()
}

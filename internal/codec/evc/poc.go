package evc

import (
	"math/bits"

	"github.com/zsiec/framer/internal/parser"
)

// POCState carries the picture order count derivation across pictures.
type POCState struct {
	// POC is the order count of the last derived picture.
	POC int
	// PrevTid0 is the order count of the last temporal layer 0 picture, the
	// anchor of the dyadic derivation.
	PrevTid0 int
	// DocOffset is the decoding order offset inside the current sub-GOP.
	DocOffset int
}

// Derive computes the picture order count of a picture from its first slice
// and advances the state. On error the state is left unchanged.
func (s *POCState) Derive(sps *SPS, sh *SliceHeader, idr bool, tid int) (int, error) {
	next := *s
	var err error
	if sps.POCS {
		next.deriveLsb(sps, sh, idr)
	} else {
		err = next.deriveDyadic(sps, idr, tid)
	}
	if err != nil {
		return 0, err
	}
	*s = next
	return s.POC, nil
}

// Reset returns the state to the stream origin.
func (s *POCState) Reset() { *s = POCState{DocOffset: -1} }

func (s *POCState) deriveLsb(sps *SPS, sh *SliceHeader, idr bool) {
	if idr {
		s.POC = 0
		return
	}
	maxLsb := 1 << sps.Log2MaxPOCLsb
	prevLsb := s.POC & (maxLsb - 1)
	prevMsb := s.POC - prevLsb
	msb := prevMsb
	switch {
	case sh.POCLsb < prevLsb && prevLsb-sh.POCLsb >= maxLsb/2:
		msb = prevMsb + maxLsb
	case sh.POCLsb > prevLsb && sh.POCLsb-prevLsb > maxLsb/2:
		msb = prevMsb - maxLsb
	}
	s.POC = msb + sh.POCLsb
}

func (s *POCState) deriveDyadic(sps *SPS, idr bool, tid int) error {
	if idr {
		s.POC, s.PrevTid0, s.DocOffset = 0, 0, -1
		return nil
	}
	gop := sps.SubGOPLength()
	if tid > sps.Log2SubGOPLength {
		return parser.Structf("evc: temporal id %d above sub-GOP depth %d", tid, sps.Log2SubGOPLength)
	}
	if tid == 0 {
		s.POC = s.PrevTid0 + gop
		s.PrevTid0 = s.POC
		s.DocOffset = 0
		return nil
	}

	doc := (s.DocOffset + 1) % gop
	if doc == 0 {
		s.PrevTid0 += gop
	} else {
		// Walk the sub-GOP to the next position coded at this layer. A layer
		// no position maps to would loop forever, so the walk is bounded by
		// one sub-GOP.
		steps := 0
		for expectedLayer(doc) != tid {
			if steps++; steps > gop {
				return parser.Structf("evc: no sub-GOP position for temporal id %d", tid)
			}
			doc = (doc + 1) % gop
		}
	}
	s.DocOffset = doc
	s.POC = s.PrevTid0 + (gop>>tid)*(2*doc+1) - 2*gop
	return nil
}

// expectedLayer is the temporal layer coded at a sub-GOP decoding offset.
func expectedLayer(doc int) int {
	if doc == 0 {
		return 0
	}
	return bits.Len(uint(doc))
}

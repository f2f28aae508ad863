package evc

import (
	"errors"
	"fmt"

	"github.com/zsiec/framer/internal/bits"
	"github.com/zsiec/framer/internal/parser"
)

// SliceType is the EVC slice_type.
type SliceType int

// Slice types.
const (
	SliceB SliceType = 0
	SliceP SliceType = 1
	SliceI SliceType = 2
)

// Picture maps the slice type to the reported picture type.
func (t SliceType) Picture() parser.PictureType {
	switch t {
	case SliceI:
		return parser.PictureI
	case SliceP:
		return parser.PictureP
	default:
		return parser.PictureB
	}
}

// ErrSlice is returned for slice headers with out of range fields.
var ErrSlice = errors.New("evc: invalid slice header")

// SliceHeader holds the slice header fields up to the picture order count.
type SliceHeader struct {
	PPSID         int
	SingleTile    bool
	FirstTileID   int
	Type          SliceType
	NoOutputPrior bool
	ALF           bool
	POCLsb        int
}

// ParseSliceHeader decodes the header of a slice unit using the stored
// parameter sets. It returns the SPS the slice refers to.
func ParseSliceHeader(ps *ParameterSets, h Header, rbsp []byte) (*SliceHeader, *SPS, error) {
	r := bits.NewReader(rbsp)
	sh := &SliceHeader{}
	sh.PPSID = int(r.ReadUE())
	if r.Overflow() || sh.PPSID >= MaxPPS {
		return nil, nil, fmt.Errorf("%w: pps id %d", ErrSlice, sh.PPSID)
	}
	pps := ps.PPS(sh.PPSID)
	if pps == nil {
		return nil, nil, fmt.Errorf("%w: slice references pps %d", parser.ErrMissingParameterSet, sh.PPSID)
	}
	sps := ps.SPS(pps.SPSID)
	if sps == nil {
		return nil, nil, fmt.Errorf("%w: pps %d references sps %d", parser.ErrMissingParameterSet, pps.ID, pps.SPSID)
	}

	sh.SingleTile = true
	if !pps.SingleTile {
		sh.SingleTile = r.ReadBit()
		sh.FirstTileID = int(r.ReadBits(pps.TileIDBits))
	}
	if !sh.SingleTile {
		arbitrary := pps.ArbitrarySlice && r.ReadBit()
		if !arbitrary {
			r.Skip(pps.TileIDBits) // last_tile_id
		} else {
			n := r.ReadUE()
			if n > maxTileRows*maxTileColumns-2 {
				return nil, nil, fmt.Errorf("%w: %d remaining tiles", ErrSlice, n)
			}
			for range n + 2 {
				r.ReadUE()
			}
		}
	}

	typ := r.ReadUE()
	if typ > uint32(SliceI) {
		return nil, nil, fmt.Errorf("%w: slice type %d", ErrSlice, typ)
	}
	sh.Type = SliceType(typ)
	if h.Type == UnitIDR {
		sh.NoOutputPrior = r.ReadBit()
	}
	if sps.MMVD && sh.Type != SliceI {
		r.Skip(1) // mmvd_group_enable_flag
	}
	if sps.ALF {
		skipSliceALF(r, sps, sh)
	}
	if h.Type != UnitIDR && sps.POCS {
		sh.POCLsb = int(r.ReadBits(sps.Log2MaxPOCLsb))
	}
	if err := r.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrSlice, err)
	}
	return sh, sps, nil
}

func skipSliceALF(r *bits.Reader, sps *SPS, sh *SliceHeader) {
	chromaIdc := 0
	if sh.ALF = r.ReadBit(); sh.ALF {
		r.Skip(5) // slice_alf_luma_aps_id
		r.Skip(1) // slice_alf_map_flag
		chromaIdc = int(r.ReadBits(2))
		if (sps.ChromaFormat == 1 || sps.ChromaFormat == 2) && chromaIdc > 0 {
			r.Skip(5)
		}
	}
	if sps.ChromaFormat != 3 {
		return
	}
	// 4:4:4 signals the two chroma filters separately. The enables follow
	// the idc decoded above, as the reference decoder does.
	cb, cr := chromaIdc&1 != 0, chromaIdc&2 != 0
	if !sh.ALF {
		r.Skip(2)
	}
	if cb {
		r.Skip(6)
	}
	if cr {
		r.Skip(6)
	}
}

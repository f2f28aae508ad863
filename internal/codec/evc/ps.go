package evc

import (
	"errors"
	"fmt"

	"github.com/zsiec/framer/internal/bits"
	"github.com/zsiec/framer/internal/parser"
)

// Parameter set limits.
const (
	MaxSPS = 16
	MaxPPS = 64

	maxRefPics     = 21
	maxRefPicLists = 64
	maxQPTableSize = 58
	maxTileColumns = 20
	maxTileRows    = 22
	maxPicSize     = 1 << 16

	// ProfileBaseline codes every slice as its own picture.
	ProfileBaseline = 0
)

// Parameter set errors.
var (
	ErrSPS = errors.New("evc: invalid sequence parameter set")
	ErrPPS = errors.New("evc: invalid picture parameter set")
)

// RefPicList is one reference picture list structure from the SPS.
type RefPicList struct {
	DeltaPOC []int
}

// SPS holds the sequence parameter set fields the framer reads. Parsing stops
// before the VUI.
type SPS struct {
	ID             int
	Profile        int
	Level          int
	ToolsetHigh    uint32
	ToolsetLow     uint32
	ChromaFormat   int
	Width          int
	Height         int
	BitDepthLuma   int
	BitDepthChroma int

	BTT   bool
	SUCO  bool
	ADMVP bool
	MMVD  bool
	EIPD  bool
	IBC   bool
	ALF   bool
	RPL   bool
	POCS  bool
	DRA   bool

	// Log2MaxPOCLsb is the width of slice_pic_order_cnt_lsb when POCS is set.
	Log2MaxPOCLsb int
	// Log2SubGOPLength drives the dyadic picture order derivation used when
	// POCS is clear.
	Log2SubGOPLength   int
	Log2RefPicGap      int
	MaxNumTid0RefPics  int
	MaxDecPicBuffering int
	LongTermRefPics    bool
	RefPicLists        [2][]RefPicList

	Cropping            bool
	CropLeft, CropRight int
	CropTop, CropBottom int
	ChromaQPTable       bool
	VUI                 bool
}

// Baseline reports whether the sequence uses the baseline profile.
func (s *SPS) Baseline() bool { return s.Profile == ProfileBaseline }

// SubGOPLength returns the dyadic sub-GOP length.
func (s *SPS) SubGOPLength() int { return 1 << s.Log2SubGOPLength }

// ParseSPS decodes a sequence parameter set payload following the unit header.
func ParseSPS(rbsp []byte) (*SPS, error) {
	r := bits.NewReader(rbsp)
	s := &SPS{}
	s.ID = int(r.ReadUE())
	if s.ID >= MaxSPS {
		return nil, fmt.Errorf("%w: id %d", ErrSPS, s.ID)
	}
	s.Profile = int(r.ReadBits(8))
	s.Level = int(r.ReadBits(8))
	s.ToolsetHigh = r.ReadBits(32)
	s.ToolsetLow = r.ReadBits(32)
	s.ChromaFormat = int(r.ReadUE())
	if s.ChromaFormat > 3 {
		return nil, fmt.Errorf("%w: chroma format %d", ErrSPS, s.ChromaFormat)
	}
	s.Width = int(r.ReadUE())
	s.Height = int(r.ReadUE())
	if s.Width == 0 || s.Height == 0 || s.Width > maxPicSize || s.Height > maxPicSize {
		return nil, fmt.Errorf("%w: picture size %dx%d", ErrSPS, s.Width, s.Height)
	}
	luma, chroma := r.ReadUE(), r.ReadUE()
	if luma > 8 || chroma > 8 {
		return nil, fmt.Errorf("%w: bit depth", ErrSPS)
	}
	s.BitDepthLuma, s.BitDepthChroma = int(luma)+8, int(chroma)+8

	if s.BTT = r.ReadBit(); s.BTT {
		for range 5 {
			r.ReadUE() // ctu and coding block size limits
		}
	}
	if s.SUCO = r.ReadBit(); s.SUCO {
		r.ReadUE()
		r.ReadUE()
	}
	if s.ADMVP = r.ReadBit(); s.ADMVP {
		r.Skip(3) // affine, amvr, dmvr
		s.MMVD = r.ReadBit()
		r.Skip(1) // hmvp
	}
	if s.EIPD = r.ReadBit(); s.EIPD {
		if s.IBC = r.ReadBit(); s.IBC {
			r.ReadUE()
		}
	}
	if r.ReadBit() { // cm_init
		r.Skip(1) // adcc
	}
	if r.ReadBit() { // iqt
		r.Skip(1) // ats
	}
	r.Skip(1) // addb
	s.ALF = r.ReadBit()
	r.Skip(1) // htdf
	s.RPL = r.ReadBit()
	s.POCS = r.ReadBit()
	r.Skip(1) // dquant
	s.DRA = r.ReadBit()

	if s.POCS {
		v := r.ReadUE()
		if v > 12 {
			return nil, fmt.Errorf("%w: log2_max_pic_order_cnt_lsb_minus4 %d", ErrSPS, v)
		}
		s.Log2MaxPOCLsb = int(v) + 4
	}
	if !s.POCS || !s.RPL {
		v := r.ReadUE()
		if v > 5 {
			return nil, fmt.Errorf("%w: log2_sub_gop_length %d", ErrSPS, v)
		}
		s.Log2SubGOPLength = int(v)
		if v == 0 {
			s.Log2RefPicGap = int(r.ReadUE())
		}
	}
	if !s.RPL {
		s.MaxNumTid0RefPics = int(r.ReadUE())
	} else {
		s.MaxDecPicBuffering = int(r.ReadUE()) + 1
		s.LongTermRefPics = r.ReadBit()
		same := r.ReadBit()
		lists := 2
		if same {
			lists = 1
		}
		for l := range lists {
			n := r.ReadUE()
			if n >= maxRefPicLists {
				return nil, fmt.Errorf("%w: %d reference picture lists", ErrSPS, n)
			}
			s.RefPicLists[l] = make([]RefPicList, n)
			for i := range s.RefPicLists[l] {
				rpl, err := parseRefPicList(r)
				if err != nil {
					return nil, err
				}
				s.RefPicLists[l][i] = rpl
			}
		}
		if same {
			s.RefPicLists[1] = s.RefPicLists[0]
		}
	}

	if s.Cropping = r.ReadBit(); s.Cropping {
		s.CropLeft = int(r.ReadUE())
		s.CropRight = int(r.ReadUE())
		s.CropTop = int(r.ReadUE())
		s.CropBottom = int(r.ReadUE())
	}
	if s.ChromaFormat != 0 {
		if s.ChromaQPTable = r.ReadBit(); s.ChromaQPTable {
			if err := skipChromaQPTable(r); err != nil {
				return nil, err
			}
		}
	}
	s.VUI = r.ReadBit()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSPS, err)
	}
	return s, nil
}

func parseRefPicList(r *bits.Reader) (RefPicList, error) {
	n := r.ReadUE()
	if n > maxRefPics-1 {
		return RefPicList{}, fmt.Errorf("%w: %d reference pictures", ErrSPS, n)
	}
	rpl := RefPicList{DeltaPOC: make([]int, n)}
	prev := 0
	for i := range rpl.DeltaPOC {
		d := int(r.ReadUE())
		if d != 0 && r.ReadBit() {
			d = -d
		}
		if i > 0 {
			d += prev
		}
		rpl.DeltaPOC[i] = d
		prev = d
	}
	return rpl, nil
}

func skipChromaQPTable(r *bits.Reader) error {
	tables := 2
	if r.ReadBit() { // same_qp_table_for_chroma
		tables = 1
	}
	r.Skip(1) // global_offset_flag
	for range tables {
		points := r.ReadUE()
		if points >= maxQPTableSize {
			return fmt.Errorf("%w: %d chroma qp points", ErrSPS, points)
		}
		for range points + 1 {
			r.Skip(6)
			r.ReadSE()
		}
		if r.Overflow() {
			return fmt.Errorf("%w: %w", ErrSPS, r.Err())
		}
	}
	return nil
}

// PPS holds the picture parameter set fields slice headers depend on.
type PPS struct {
	ID    int
	SPSID int

	NumRefIdxDefault [2]int
	RPL1IdxPresent   bool

	SingleTile     bool
	TileColumns    int
	TileRows       int
	UniformTiles   bool
	TileIDBits     int
	ExplicitTileID bool

	DRA              bool
	DRAAPSID         int
	ArbitrarySlice   bool
	ConstrainedIntra bool
	CUQPDelta        bool
}

// ParsePPS decodes a picture parameter set payload. haveSPS reports whether
// the referenced sequence parameter set is stored.
func ParsePPS(rbsp []byte, haveSPS func(id int) bool) (*PPS, error) {
	r := bits.NewReader(rbsp)
	p := &PPS{}
	p.ID = int(r.ReadUE())
	if p.ID >= MaxPPS {
		return nil, fmt.Errorf("%w: id %d", ErrPPS, p.ID)
	}
	p.SPSID = int(r.ReadUE())
	if p.SPSID >= MaxSPS {
		return nil, fmt.Errorf("%w: sps id %d", ErrPPS, p.SPSID)
	}
	if !haveSPS(p.SPSID) {
		return nil, fmt.Errorf("%w: pps %d references sps %d", parser.ErrMissingParameterSet, p.ID, p.SPSID)
	}
	p.NumRefIdxDefault[0] = int(r.ReadUE()) + 1
	p.NumRefIdxDefault[1] = int(r.ReadUE()) + 1
	r.ReadUE() // additional_lt_poc_lsb_len
	p.RPL1IdxPresent = r.ReadBit()

	p.TileColumns, p.TileRows = 1, 1
	if p.SingleTile = r.ReadBit(); !p.SingleTile {
		cols, rows := r.ReadUE(), r.ReadUE()
		if cols >= maxTileColumns || rows >= maxTileRows {
			return nil, fmt.Errorf("%w: %dx%d tiles", ErrPPS, cols+1, rows+1)
		}
		p.TileColumns, p.TileRows = int(cols)+1, int(rows)+1
		if p.UniformTiles = r.ReadBit(); !p.UniformTiles {
			for range p.TileColumns - 1 {
				r.ReadUE()
			}
			for range p.TileRows - 1 {
				r.ReadUE()
			}
		}
		r.Skip(1)  // loop_filter_across_tiles_enabled_flag
		r.ReadUE() // tile_offset_len_minus1
	}
	idLen := r.ReadUE()
	if idLen > 15 {
		return nil, fmt.Errorf("%w: tile id length %d", ErrPPS, idLen+1)
	}
	p.TileIDBits = int(idLen) + 1
	if p.ExplicitTileID = r.ReadBit(); p.ExplicitTileID {
		r.Skip(p.TileColumns * p.TileRows * p.TileIDBits)
	}
	if p.DRA = r.ReadBit(); p.DRA {
		p.DRAAPSID = int(r.ReadBits(5))
	}
	p.ArbitrarySlice = r.ReadBit()
	p.ConstrainedIntra = r.ReadBit()
	if p.CUQPDelta = r.ReadBit(); p.CUQPDelta {
		r.ReadUE()
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPPS, err)
	}
	return p, nil
}

// ParameterSets stores the active SPS and PPS tables. A set is stored only
// after it decoded cleanly, so lookups never see a partial set.
type ParameterSets struct {
	sps [MaxSPS]*SPS
	pps [MaxPPS]*PPS
}

// SPS returns the stored sequence parameter set with the given id.
func (ps *ParameterSets) SPS(id int) *SPS {
	if id < 0 || id >= MaxSPS {
		return nil
	}
	return ps.sps[id]
}

// PPS returns the stored picture parameter set with the given id.
func (ps *ParameterSets) PPS(id int) *PPS {
	if id < 0 || id >= MaxPPS {
		return nil
	}
	return ps.pps[id]
}

// AddSPS decodes and stores a sequence parameter set, replacing any set with
// the same id.
func (ps *ParameterSets) AddSPS(rbsp []byte) (*SPS, error) {
	s, err := ParseSPS(rbsp)
	if err != nil {
		return nil, err
	}
	ps.sps[s.ID] = s
	return s, nil
}

// AddPPS decodes and stores a picture parameter set. It fails with
// parser.ErrMissingParameterSet when the referenced SPS is unknown.
func (ps *ParameterSets) AddPPS(rbsp []byte) (*PPS, error) {
	p, err := ParsePPS(rbsp, func(id int) bool { return ps.sps[id] != nil })
	if err != nil {
		return nil, err
	}
	ps.pps[p.ID] = p
	return p, nil
}

// Reset forgets every stored set.
func (ps *ParameterSets) Reset() { *ps = ParameterSets{} }

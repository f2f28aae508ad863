package evc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"slices"
	"testing"

	"github.com/zsiec/framer/internal/bits"
	"github.com/zsiec/framer/internal/parser"
)

type seqParams struct {
	id         int
	profile    int
	width      int
	height     int
	chroma     int
	pocs       bool
	log2Lsb    int
	log2SubGOP int
	rpl        bool
	mmvd       bool
	alf        bool
}

func mainSeq() seqParams {
	return seqParams{profile: 1, width: 1920, height: 1080, chroma: 1, pocs: true, log2Lsb: 8, rpl: true, mmvd: true, alf: true}
}

func buildSPS(p seqParams) []byte {
	w := bits.NewWriter()
	w.PutUE(uint32(p.id))
	w.PutBits(8, uint64(p.profile))
	w.PutBits(8, 51) // level
	w.PutBits(32, 0)
	w.PutBits(32, 0)
	w.PutUE(uint32(p.chroma))
	w.PutUE(uint32(p.width))
	w.PutUE(uint32(p.height))
	w.PutUE(0)
	w.PutUE(2)
	w.PutFlag(false)  // btt
	w.PutFlag(false)  // suco
	w.PutFlag(p.mmvd) // admvp
	if p.mmvd {
		w.PutBits(3, 0)
		w.PutFlag(true)
		w.PutFlag(false)
	}
	w.PutFlag(false) // eipd
	w.PutFlag(false) // cm_init
	w.PutFlag(false) // iqt
	w.PutFlag(false) // addb
	w.PutFlag(p.alf)
	w.PutFlag(false) // htdf
	w.PutFlag(p.rpl)
	w.PutFlag(p.pocs)
	w.PutFlag(false) // dquant
	w.PutFlag(false) // dra
	if p.pocs {
		w.PutUE(uint32(p.log2Lsb - 4))
	}
	if !p.pocs || !p.rpl {
		w.PutUE(uint32(p.log2SubGOP))
		if p.log2SubGOP == 0 {
			w.PutUE(0)
		}
	}
	if !p.rpl {
		w.PutUE(1)
	} else {
		w.PutUE(3)
		w.PutFlag(false)
		w.PutFlag(true) // rpl1 same as rpl0
		w.PutUE(1)
		w.PutUE(2) // two references
		w.PutUE(1)
		w.PutFlag(true)
		w.PutUE(3)
		w.PutFlag(false)
	}
	w.PutFlag(false) // cropping
	if p.chroma != 0 {
		w.PutFlag(false)
	}
	w.PutFlag(false) // vui
	w.PutBit(true)
	return w.Bytes()
}

func buildPPS(id, spsID int) []byte {
	w := bits.NewWriter()
	w.PutUE(uint32(id))
	w.PutUE(uint32(spsID))
	w.PutUE(0)
	w.PutUE(0)
	w.PutUE(0)
	w.PutFlag(false)
	w.PutFlag(true) // single tile
	w.PutUE(0)
	w.PutFlag(false)
	w.PutFlag(false) // dra
	w.PutFlag(false)
	w.PutFlag(false)
	w.PutFlag(false)
	w.PutBit(true)
	return w.Bytes()
}

func buildSlice(p seqParams, ppsID int, typ SliceType, idr bool, lsb int) []byte {
	w := bits.NewWriter()
	w.PutUE(uint32(ppsID))
	w.PutUE(uint32(typ))
	if idr {
		w.PutFlag(false)
	}
	if p.mmvd && typ != SliceI {
		w.PutFlag(true)
	}
	if p.alf {
		w.PutFlag(false)
	}
	if !idr && p.pocs {
		w.PutBits(p.log2Lsb, uint64(lsb))
	}
	w.PutBit(true)
	// slice data
	w.PutBytes([]byte{0xA5, 0x5A, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
	return w.Bytes()
}

// nal wraps a payload in its length field and unit header.
func nal(typ UnitType, tid int, rbsp []byte) []byte {
	b := make([]byte, lengthSize+headerSize, lengthSize+headerSize+len(rbsp))
	binary.BigEndian.PutUint32(b, uint32(headerSize+len(rbsp)))
	b[4] = byte(typ+1)<<1 | byte(tid>>2)
	b[5] = byte(tid&3) << 6
	return append(b, rbsp...)
}

func parseChunked(t *testing.T, f parser.Format, stream []byte, size int) ([]parser.Frame, []error) {
	t.Helper()
	p := parser.New(f, parser.Options{})
	var frames []parser.Frame
	var errs []error
	for data := stream; len(data) > 0; {
		n := min(size, len(data))
		got, err := p.Feed(data[:n])
		frames = append(frames, got...)
		if err != nil {
			errs = append(errs, err)
		}
		data = data[n:]
	}
	tail, err := p.Finish()
	if err != nil {
		errs = append(errs, err)
	}
	return append(frames, tail...), errs
}

func TestParseHeader(t *testing.T) {
	t.Parallel()
	for _, typ := range []UnitType{UnitNonIDR, UnitIDR, UnitSPS, UnitPPS, UnitSEI, maxUnitType} {
		for tid := 0; tid < 8; tid++ {
			h, err := ParseHeader(nal(typ, tid, nil)[lengthSize:])
			if err != nil {
				t.Fatalf("%v tid %d: %v", typ, tid, err)
			}
			if h.Type != typ || h.TemporalID != tid {
				t.Errorf("got %+v, want %v tid %d", h, typ, tid)
			}
		}
	}
	if _, err := ParseHeader([]byte{0x80 | 2<<1, 0}); !errors.Is(err, ErrForbiddenBit) {
		t.Errorf("forbidden bit: %v", err)
	}
	if _, err := ParseHeader([]byte{0x00, 0x00}); !errors.Is(err, ErrUnitType) {
		t.Errorf("type_plus1 of zero: %v", err)
	}
}

func TestParameterSetRoundTrip(t *testing.T) {
	t.Parallel()
	p := mainSeq()
	p.id = 7
	p.chroma = 3
	sps, err := ParseSPS(buildSPS(p))
	if err != nil {
		t.Fatalf("ParseSPS: %v", err)
	}
	if sps.ID != 7 || sps.Width != 1920 || sps.Height != 1080 || sps.BitDepthChroma != 10 ||
		!sps.POCS || sps.Log2MaxPOCLsb != 8 || !sps.MMVD || !sps.ALF || sps.Baseline() {
		t.Errorf("sps: %+v", sps)
	}
	if got := sps.RefPicLists[1][0].DeltaPOC; !slices.Equal(got, []int{-1, 2}) {
		t.Errorf("reference list: %v", got)
	}

	bad := p
	bad.log2Lsb = 17
	if _, err := ParseSPS(buildSPS(bad)); !errors.Is(err, ErrSPS) {
		t.Errorf("lsb width 17: %v", err)
	}
	if _, err := ParseSPS(buildSPS(p)[:6]); !errors.Is(err, ErrSPS) {
		t.Errorf("truncated: %v", err)
	}
}

func TestMissingSequenceParameterSet(t *testing.T) {
	t.Parallel()
	p := mainSeq()
	p.id = 3

	var ps ParameterSets
	if _, err := ps.AddSPS(buildSPS(p)); err != nil {
		t.Fatalf("AddSPS: %v", err)
	}
	if _, err := ps.AddPPS(buildPPS(0, 5)); !errors.Is(err, parser.ErrMissingParameterSet) {
		t.Fatalf("pps referencing sps 5: %v", err)
	}
	if ps.PPS(0) != nil {
		t.Error("rejected pps was stored")
	}
	if ps.SPS(3) == nil {
		t.Fatal("sps 3 lost")
	}
	if _, err := ps.AddPPS(buildPPS(1, 3)); err != nil {
		t.Fatalf("pps referencing sps 3: %v", err)
	}

	// Through the parser the bad set is a unit error and the frame is
	// still emitted with its picture decoded.
	stream := slices.Concat(
		nal(UnitSPS, 0, buildSPS(p)),
		nal(UnitPPS, 0, buildPPS(0, 5)),
		nal(UnitPPS, 0, buildPPS(1, 3)),
		nal(UnitIDR, 0, buildSlice(p, 1, SliceI, true, 0)),
		nal(UnitNonIDR, 0, buildSlice(p, 0, SliceP, false, 4)),
	)
	frames, errs := parseChunked(t, Format{}, stream, len(stream))
	if len(frames) != 2 {
		t.Fatalf("got %d frames", len(frames))
	}
	if !frames[0].KeyFrame || frames[0].Width != 1920 || frames[0].Picture != parser.PictureI {
		t.Errorf("first access unit: %+v", frames[0].Metadata)
	}
	if len(errs) != 2 {
		t.Fatalf("got errors %v", errs)
	}
	for _, err := range errs {
		var ue *parser.UnitError
		if !errors.As(err, &ue) || !errors.Is(err, parser.ErrMissingParameterSet) {
			t.Errorf("want unit error for the missing set, got %v", err)
		}
	}
}

func TestPOCFromLsb(t *testing.T) {
	t.Parallel()
	sps := &SPS{POCS: true, Log2MaxPOCLsb: 4}
	tests := []struct {
		idr  bool
		lsb  int
		want int
	}{
		{true, 0, 0},
		{false, 4, 4},
		{false, 8, 8},
		{false, 15, 15},
		{false, 2, 18},
		{false, 1, 17},
		{false, 14, 14},
		{false, 5, 21},
		{true, 0, 0},
		{false, 7, 7},
	}
	var st POCState
	st.Reset()
	for i, tt := range tests {
		got, err := st.Derive(sps, &SliceHeader{POCLsb: tt.lsb}, tt.idr, 0)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != tt.want {
			t.Errorf("step %d lsb %d: got %d, want %d", i, tt.lsb, got, tt.want)
		}
	}
}

// dyadicOrder returns temporal ids in decoding order for gops sub-GOPs of
// length 1<<log2, after a leading IDR.
func dyadicOrder(log2, gops int) []int {
	tids := []int{0}
	for range gops {
		tids = append(tids, 0)
		for doc := 1; doc < 1<<log2; doc++ {
			tids = append(tids, expectedLayer(doc))
		}
	}
	return tids
}

func TestDyadicPOCIsPermutation(t *testing.T) {
	t.Parallel()
	for log2 := 0; log2 <= 5; log2++ {
		sps := &SPS{Log2SubGOPLength: log2}
		var st POCState
		st.Reset()
		var pocs []int
		for i, tid := range dyadicOrder(log2, 3) {
			poc, err := st.Derive(sps, &SliceHeader{}, i == 0, tid)
			if err != nil {
				t.Fatalf("log2 %d picture %d: %v", log2, i, err)
			}
			pocs = append(pocs, poc)
		}
		slices.Sort(pocs)
		for i, poc := range pocs {
			if poc != i {
				t.Fatalf("log2 %d: sorted order counts %v are not 0..%d", log2, pocs, len(pocs)-1)
			}
		}
	}
}

func TestDyadicPOCKnownOrder(t *testing.T) {
	t.Parallel()
	sps := &SPS{Log2SubGOPLength: 2}
	var st POCState
	st.Reset()
	var got []int
	for i, tid := range []int{0, 0, 1, 2, 2, 0, 1, 2, 2} {
		poc, err := st.Derive(sps, &SliceHeader{}, i == 0, tid)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, poc)
	}
	if want := []int{0, 4, 2, 1, 3, 8, 6, 5, 7}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	before := st
	if _, err := st.Derive(sps, &SliceHeader{}, false, 3); !errors.Is(err, parser.ErrStructure) {
		t.Errorf("temporal id beyond sub-GOP depth: %v", err)
	}
	if st != before {
		t.Errorf("failed derivation changed state: %+v -> %+v", before, st)
	}
}

func TestAccessUnitsAcrossChunks(t *testing.T) {
	t.Parallel()
	p := mainSeq()
	aus := [][]byte{
		slices.Concat(
			nal(UnitSPS, 0, buildSPS(p)),
			nal(UnitPPS, 0, buildPPS(0, 0)),
			nal(UnitIDR, 0, buildSlice(p, 0, SliceI, true, 0)),
		),
		slices.Concat(
			nal(UnitNonIDR, 0, buildSlice(p, 0, SliceP, false, 2)),
			nal(UnitNonIDR, 0, buildSlice(p, 0, SliceP, false, 2)),
			nal(UnitFD, 0, make([]byte, 20)),
		),
		slices.Concat(
			nal(UnitSEI, 0, []byte{5, 1, 0}),
			nal(UnitNonIDR, 1, buildSlice(p, 0, SliceB, false, 1)),
		),
		slices.Concat(
			nal(UnitPPS, 0, buildPPS(0, 0)),
			nal(UnitIDR, 0, buildSlice(p, 0, SliceI, true, 0)),
		),
	}
	// The filler after the second picture's slices is carried into the
	// next access unit with the SEI.
	want := [][]byte{aus[0], aus[1][:len(aus[1])-26], slices.Concat(aus[1][len(aus[1])-26:], aus[2]), aus[3]}
	stream := bytes.Join(aus, nil)

	for _, size := range []int{1, 3, 7, 64, len(stream)} {
		frames, errs := parseChunked(t, Format{}, stream, size)
		if len(errs) != 0 {
			t.Fatalf("chunk %d: %v", size, errs)
		}
		if len(frames) != len(want) {
			t.Fatalf("chunk %d: got %d access units, want %d", size, len(frames), len(want))
		}
		for i := range want {
			if !bytes.Equal(frames[i].Data, want[i]) {
				t.Errorf("chunk %d: access unit %d differs", size, i)
			}
		}
		orders := []int{frames[0].Order, frames[1].Order, frames[2].Order, frames[3].Order}
		if !slices.Equal(orders, []int{0, 2, 1, 0}) {
			t.Errorf("chunk %d: order counts %v", size, orders)
		}
		if frames[1].Picture != parser.PictureP || frames[2].Picture != parser.PictureB || !frames[3].KeyFrame {
			t.Errorf("chunk %d: picture types %v %v", size, frames[1].Picture, frames[2].Picture)
		}
	}
}

func TestResetKeepsParameterSets(t *testing.T) {
	t.Parallel()
	p := mainSeq()
	head := slices.Concat(
		nal(UnitSPS, 0, buildSPS(p)),
		nal(UnitPPS, 0, buildPPS(0, 0)),
		nal(UnitIDR, 0, buildSlice(p, 0, SliceI, true, 0)),
		nal(UnitNonIDR, 0, buildSlice(p, 0, SliceP, false, 2)),
	)
	tail := slices.Concat(
		nal(UnitNonIDR, 0, buildSlice(p, 0, SliceP, false, 4)),
		nal(UnitNonIDR, 0, buildSlice(p, 0, SliceP, false, 6)),
		nal(UnitNonIDR, 0, buildSlice(p, 0, SliceP, false, 8)),
	)

	ps := parser.New(Format{}, parser.Options{})
	frames, err := ps.Feed(head)
	if err != nil || len(frames) != 1 || !frames[0].KeyFrame {
		t.Fatalf("before reset: %d frames, err %v", len(frames), err)
	}
	ps.Reset()
	got, err := ps.Feed(tail)
	if err != nil {
		t.Fatalf("after reset: %v", err)
	}
	rest, err := ps.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	got = append(got, rest...)
	if len(got) != 3 {
		t.Fatalf("got %d access units after reset, want 3", len(got))
	}
	for i, f := range got {
		if f.Picture != parser.PictureP || f.Width != 1920 {
			t.Errorf("access unit %d: %+v", i, f.Metadata)
		}
	}
	if got[2].Order != 8 {
		t.Errorf("last order count %d, want 8", got[2].Order)
	}
	if st := ps.Stats(); st.UnitErrors != 0 {
		t.Errorf("unit errors: %d", st.UnitErrors)
	}

	// Finish ends the stream, so the sets do not carry into the next one.
	ps.Feed(tail)
	_, err = ps.Finish()
	if !errors.Is(err, parser.ErrMissingParameterSet) {
		t.Errorf("new stream without sets: %v", err)
	}
}

func TestBaselineSliceIsAccessUnit(t *testing.T) {
	t.Parallel()
	p := mainSeq()
	p.profile = ProfileBaseline
	p.mmvd, p.alf = false, false
	stream := slices.Concat(
		nal(UnitSPS, 0, buildSPS(p)),
		nal(UnitPPS, 0, buildPPS(0, 0)),
		nal(UnitIDR, 0, buildSlice(p, 0, SliceI, true, 0)),
		nal(UnitNonIDR, 0, buildSlice(p, 0, SliceP, false, 1)),
		nal(UnitNonIDR, 0, buildSlice(p, 0, SliceP, false, 1)),
	)
	frames, errs := parseChunked(t, Format{}, stream, 5)
	if len(errs) != 0 {
		t.Fatal(errs)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d access units, want one per slice", len(frames))
	}
}

func TestDyadicAccessUnits(t *testing.T) {
	t.Parallel()
	p := seqParams{profile: 1, width: 640, height: 360, chroma: 1, log2SubGOP: 2}
	stream := slices.Concat(
		nal(UnitSPS, 0, buildSPS(p)),
		nal(UnitPPS, 0, buildPPS(0, 0)),
		nal(UnitIDR, 0, buildSlice(p, 0, SliceI, true, 0)),
		nal(UnitNonIDR, 0, buildSlice(p, 0, SliceP, false, 0)),
		nal(UnitNonIDR, 1, buildSlice(p, 0, SliceB, false, 0)),
		nal(UnitNonIDR, 2, buildSlice(p, 0, SliceB, false, 0)),
		nal(UnitNonIDR, 2, buildSlice(p, 0, SliceB, false, 0)),
	)
	for _, size := range []int{1, 11, len(stream)} {
		frames, errs := parseChunked(t, Format{}, stream, size)
		if len(errs) != 0 {
			t.Fatal(errs)
		}
		var orders []int
		for _, f := range frames {
			orders = append(orders, f.Order)
		}
		if !slices.Equal(orders, []int{0, 4, 2, 1, 3}) {
			t.Errorf("chunk %d: order counts %v", size, orders)
		}
	}
}

func TestBadUnitLength(t *testing.T) {
	t.Parallel()
	p := mainSeq()
	au0 := slices.Concat(
		nal(UnitSPS, 0, buildSPS(p)),
		nal(UnitPPS, 0, buildPPS(0, 0)),
		nal(UnitIDR, 0, buildSlice(p, 0, SliceI, true, 0)),
	)
	au1 := nal(UnitIDR, 0, buildSlice(p, 0, SliceI, true, 0))

	tests := []struct {
		name  string
		field []byte
		max   int
	}{
		{"zero length", []byte{0, 0, 0, 0}, 0},
		{"one byte unit", []byte{0, 0, 0, 1}, 0},
		{"above maximum", []byte{0, 0, 0x10, 0}, 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			stream := slices.Concat(au0, tt.field, au1)
			frames, errs := parseChunked(t, Format{MaxUnitSize: tt.max}, stream, 3)
			if len(frames) != 2 || !bytes.Equal(frames[0].Data, au0) || !bytes.Equal(frames[1].Data, au1) {
				t.Fatalf("got %d access units", len(frames))
			}
			if len(errs) != 1 || !errors.Is(errs[0], parser.ErrStructure) {
				t.Errorf("got errors %v", errs)
			}
		})
	}
}

func TestValidatorRejectsBrokenFrameWithoutStateChange(t *testing.T) {
	t.Parallel()
	p := mainSeq()
	v := Format{}.NewValidator()
	broken := slices.Concat(
		nal(UnitSPS, 0, buildSPS(p)),
		nal(UnitPPS, 0, buildPPS(0, 0)),
	)
	broken = broken[:len(broken)-1]
	if _, err := v.Validate(broken); !errors.Is(err, parser.ErrStructure) {
		t.Fatalf("truncated unit: %v", err)
	}
	_, err := v.Validate(nal(UnitIDR, 0, buildSlice(p, 0, SliceI, true, 0)))
	if !errors.Is(err, parser.ErrMissingParameterSet) {
		t.Errorf("sets from the rejected frame were kept: %v", err)
	}
}

func FuzzParser(f *testing.F) {
	p := mainSeq()
	f.Add(slices.Concat(
		nal(UnitSPS, 0, buildSPS(p)),
		nal(UnitPPS, 0, buildPPS(0, 0)),
		nal(UnitIDR, 0, buildSlice(p, 0, SliceI, true, 0)),
		nal(UnitNonIDR, 0, buildSlice(p, 0, SliceP, false, 3)),
	), uint8(4))
	f.Fuzz(func(t *testing.T, data []byte, chunk uint8) {
		frames, _ := parseChunked(t, Format{MaxUnitSize: 1 << 12}, data, int(chunk)%16+1)
		total := 0
		for _, fr := range frames {
			total += len(fr.Data)
		}
		if total > len(data) {
			t.Fatalf("emitted %d bytes from %d", total, len(data))
		}
	})
}

package hevc

import (
	"errors"
	"fmt"
	"math/bits"

	bitio "github.com/zsiec/framer/internal/bits"
	"github.com/zsiec/framer/internal/codec/annexb"
)

var errSPSTooShort = errors.New("hevc: SPS data too short")

// SPS holds the sequence parameter set fields used for frame metadata.
type SPS struct {
	Width      int
	Height     int
	ProfileIDC byte
	TierFlag   byte
	LevelIDC   byte

	ProfileCompatibilityFlags uint32
	ConstraintIndicatorFlags  uint64

	ChromaFormatIdc      byte
	BitDepthLumaMinus8   byte
	BitDepthChromaMinus8 byte
}

// CodecString returns the RFC 6381 codec parameter string (e.g.
// "hev1.1.6.L93.B0").
func (s SPS) CodecString() string {
	tier := "L"
	if s.TierFlag == 1 {
		tier = "H"
	}
	reversed := bits.Reverse32(s.ProfileCompatibilityFlags)

	// six constraint bytes, trailing zero bytes trimmed
	var constraint [6]byte
	last := -1
	for i := range constraint {
		constraint[i] = byte(s.ConstraintIndicatorFlags >> uint((5-i)*8))
		if constraint[i] != 0 {
			last = i
		}
	}
	codec := fmt.Sprintf("hev1.%d.%X.%s%d", s.ProfileIDC, reversed, tier, s.LevelIDC)
	for i := 0; i <= last; i++ {
		codec += fmt.Sprintf(".%X", constraint[i])
	}
	return codec
}

// ParseSPS parses an SPS unit including its 2-byte NAL header but without the
// start code.
func ParseSPS(nalu []byte) (SPS, error) {
	if len(nalu) < 4 {
		return SPS{}, errSPSTooShort
	}
	r := bitio.NewReader(annexb.Unescape(nalu[2:]))

	r.Skip(4) // sps_video_parameter_set_id
	maxSubLayersMinus1 := int(r.ReadBits(3))
	r.Skip(1) // sps_temporal_id_nesting_flag

	var s SPS
	parseProfileTierLevel(r, &s, maxSubLayersMinus1)

	if id := r.ReadUE(); id > 15 {
		return SPS{}, fmt.Errorf("hevc: SPS id %d out of range", id)
	}
	chroma := r.ReadUE()
	if chroma > 3 {
		return SPS{}, fmt.Errorf("hevc: chroma_format_idc %d", chroma)
	}
	s.ChromaFormatIdc = byte(chroma)
	if chroma == 3 {
		r.Skip(1) // separate_colour_plane_flag
	}
	s.Width = int(r.ReadUE())
	s.Height = int(r.ReadUE())
	if err := r.Err(); err != nil {
		return SPS{}, fmt.Errorf("hevc: SPS: %w", err)
	}

	// Fields past the picture size are optional for the caller: a truncated
	// tail keeps what was decoded.
	if r.ReadBit() { // conformance_window_flag
		left, right := r.ReadUE(), r.ReadUE()
		top, bottom := r.ReadUE(), r.ReadUE()
		if r.Overflow() {
			return s, nil
		}
		subWidthC, subHeightC := uint32(1), uint32(1)
		switch chroma {
		case 1:
			subWidthC, subHeightC = 2, 2
		case 2:
			subWidthC = 2
		}
		s.Width -= int((left + right) * subWidthC)
		s.Height -= int((top + bottom) * subHeightC)
	}
	bdl, bdc := r.ReadUE(), r.ReadUE()
	if !r.Overflow() {
		s.BitDepthLumaMinus8, s.BitDepthChromaMinus8 = byte(bdl), byte(bdc)
	}
	if s.Width <= 0 || s.Height <= 0 {
		return SPS{}, fmt.Errorf("hevc: picture size %dx%d", s.Width, s.Height)
	}
	return s, nil
}

func parseProfileTierLevel(r *bitio.Reader, s *SPS, maxSubLayersMinus1 int) {
	r.Skip(2) // general_profile_space
	s.TierFlag = byte(r.ReadBits(1))
	s.ProfileIDC = byte(r.ReadBits(5))
	s.ProfileCompatibilityFlags = r.ReadBits(32)
	s.ConstraintIndicatorFlags = r.ReadBits64(48)
	s.LevelIDC = byte(r.ReadBits(8))

	if maxSubLayersMinus1 == 0 {
		return
	}
	var profilePresent, levelPresent [8]bool
	for i := 0; i < maxSubLayersMinus1; i++ {
		profilePresent[i] = r.ReadBit()
		levelPresent[i] = r.ReadBit()
	}
	// reserved_zero_2bits pad the flags to eight entries
	for i := maxSubLayersMinus1; i < 8; i++ {
		r.Skip(2)
	}
	for i := 0; i < maxSubLayersMinus1; i++ {
		if profilePresent[i] {
			r.Skip(88)
		}
		if levelPresent[i] {
			r.Skip(8)
		}
	}
}

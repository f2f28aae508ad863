package h264

import (
	"errors"
	"fmt"
	"time"

	"github.com/zsiec/framer/internal/bits"
	"github.com/zsiec/framer/internal/codec/annexb"
)

var errSPSTooShort = errors.New("h264: SPS data too short")

// SPS holds the sequence parameter set fields used for frame metadata.
type SPS struct {
	ID              int
	Width           int
	Height          int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte
	FrameMbsOnly    bool

	// Timing from the VUI, zero when absent.
	NumUnitsInTick uint32
	TimeScale      uint32
	FixedFrameRate bool
}

// CodecString returns the RFC 6381 codec parameter string (e.g. "avc1.42E01E").
func (s SPS) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

// FrameDuration returns the duration of one frame signalled by the VUI
// timing info, or zero.
func (s SPS) FrameDuration() time.Duration {
	if s.TimeScale == 0 || s.NumUnitsInTick == 0 {
		return 0
	}
	return time.Duration(2*int64(s.NumUnitsInTick)) * time.Second / time.Duration(s.TimeScale)
}

func hasChromaInfo(profile uint32) bool {
	switch profile {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		return true
	}
	return false
}

func skipScalingList(r *bits.Reader, size int) {
	last, next := 8, 8
	for j := 0; j < size; j++ {
		if next != 0 {
			delta := int(r.ReadSE())
			next = (last + delta + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

// ParseSPS parses an SPS unit including its NAL header byte but without the
// start code.
func ParseSPS(nalu []byte) (SPS, error) {
	if len(nalu) < 4 {
		return SPS{}, errSPSTooShort
	}
	r := bits.NewReader(annexb.Unescape(nalu[1:]))

	profile := r.ReadBits(8)
	s := SPS{
		ProfileIDC:      byte(profile),
		ConstraintFlags: byte(r.ReadBits(8)),
		LevelIDC:        byte(r.ReadBits(8)),
	}
	s.ID = int(r.ReadUE())
	if s.ID > 31 {
		return SPS{}, fmt.Errorf("h264: SPS id %d out of range", s.ID)
	}

	chromaFormatIdc := uint32(1)
	separateColourPlane := false
	if hasChromaInfo(profile) {
		chromaFormatIdc = r.ReadUE()
		if chromaFormatIdc > 3 {
			return SPS{}, fmt.Errorf("h264: chroma_format_idc %d", chromaFormatIdc)
		}
		if chromaFormatIdc == 3 {
			separateColourPlane = r.ReadBit()
		}
		r.ReadUE() // bit_depth_luma_minus8
		r.ReadUE() // bit_depth_chroma_minus8
		r.Skip(1)  // qpprime_y_zero_transform_bypass_flag

		// seq_scaling_matrix_present_flag
		if r.ReadBit() {
			limit := 8
			if chromaFormatIdc == 3 {
				limit = 12
			}
			for i := 0; i < limit; i++ {
				if !r.ReadBit() {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				skipScalingList(r, size)
			}
		}
	}

	r.ReadUE() // log2_max_frame_num_minus4

	// pic_order_cnt_type
	switch r.ReadUE() {
	case 0:
		r.ReadUE()
	case 1:
		r.Skip(1)
		r.ReadSE()
		r.ReadSE()
		n := r.ReadUE()
		if n > 255 {
			return SPS{}, fmt.Errorf("h264: %d reference frames in POC cycle", n)
		}
		for i := uint32(0); i < n; i++ {
			r.ReadSE()
		}
	}
	r.ReadUE() // max_num_ref_frames
	r.Skip(1)  // gaps_in_frame_num_value_allowed_flag

	picWidthMbs := r.ReadUE()
	picHeightMapUnits := r.ReadUE()
	s.FrameMbsOnly = r.ReadBit()
	if !s.FrameMbsOnly {
		r.Skip(1) // mb_adaptive_frame_field_flag
	}
	r.Skip(1) // direct_8x8_inference_flag

	var cropLeft, cropRight, cropTop, cropBottom uint32
	if r.ReadBit() {
		cropLeft, cropRight = r.ReadUE(), r.ReadUE()
		cropTop, cropBottom = r.ReadUE(), r.ReadUE()
	}
	if err := r.Err(); err != nil {
		return SPS{}, fmt.Errorf("h264: SPS: %w", err)
	}

	chromaArrayType := chromaFormatIdc
	if separateColourPlane {
		chromaArrayType = 0
	}
	subWidthC, subHeightC := uint32(2), uint32(2)
	switch chromaArrayType {
	case 0, 3:
		subWidthC, subHeightC = 1, 1
	case 2:
		subHeightC = 1
	}
	fieldMul := uint32(2)
	if s.FrameMbsOnly {
		fieldMul = 1
	}
	s.Width = int((picWidthMbs+1)*16 - subWidthC*(cropLeft+cropRight))
	s.Height = int((picHeightMapUnits+1)*16*fieldMul - subHeightC*fieldMul*(cropTop+cropBottom))
	if s.Width <= 0 || s.Height <= 0 {
		return SPS{}, fmt.Errorf("h264: cropped picture size %dx%d", s.Width, s.Height)
	}

	if r.ReadBit() { // vui_parameters_present_flag
		parseVUITiming(r, &s)
	}
	return s, nil
}

// parseVUITiming reads the VUI up to the timing info. A truncated VUI leaves
// the timing fields zero.
func parseVUITiming(r *bits.Reader, s *SPS) {
	if r.ReadBit() { // aspect_ratio_info_present_flag
		if r.ReadBits(8) == 255 {
			r.Skip(32)
		}
	}
	if r.ReadBit() { // overscan_info_present_flag
		r.Skip(1)
	}
	if r.ReadBit() { // video_signal_type_present_flag
		r.Skip(4) // video_format + video_full_range
		if r.ReadBit() {
			r.Skip(24)
		}
	}
	if r.ReadBit() { // chroma_loc_info_present_flag
		r.ReadUE()
		r.ReadUE()
	}
	if !r.ReadBit() { // timing_info_present_flag
		return
	}
	units, scale := r.ReadBits(32), r.ReadBits(32)
	fixed := r.ReadBit()
	if r.Overflow() {
		return
	}
	s.NumUnitsInTick, s.TimeScale, s.FixedFrameRate = units, scale, fixed
}

package parser

import "time"

// PictureType classifies a coded picture by its prediction mode.
type PictureType int

// Picture types reported in Metadata.
const (
	PictureNone PictureType = iota
	PictureI
	PictureP
	PictureB
)

func (t PictureType) String() string {
	switch t {
	case PictureI:
		return "I"
	case PictureP:
		return "P"
	case PictureB:
		return "B"
	default:
		return "none"
	}
}

// Metadata describes one emitted frame. Fields a format does not carry are
// left zero.
type Metadata struct {
	Samples    int           // samples per channel (audio)
	Duration   time.Duration // presentation duration, when known
	SampleRate int
	Channels   int
	BitRate    int // bits per second
	Picture    PictureType
	KeyFrame   bool
	Width      int
	Height     int
	// Order is the picture order count for formats that derive one.
	Order int
	// Codec is the RFC 6381 codec string of the active sequence parameters.
	Codec string
}

// Frame is one complete coded frame and the metadata decoded from its header.
// Data is owned by the caller once returned.
type Frame struct {
	Data []byte
	Metadata
}

// SampleDuration converts a sample count at the given rate to a duration.
func SampleDuration(samples, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(rate)
}

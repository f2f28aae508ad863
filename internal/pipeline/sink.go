package pipeline

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/zsiec/framer/internal/parser"
)

// FrameRecord is the JSON form of one frame written by JSONSink.
type FrameRecord struct {
	Stream     string  `json:"stream"`
	Index      int64   `json:"index"`
	Size       int     `json:"size"`
	KeyFrame   bool    `json:"keyFrame"`
	Picture    string  `json:"picture,omitempty"`
	Order      *int    `json:"order,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	Samples    int     `json:"samples,omitempty"`
	SampleRate int     `json:"sampleRate,omitempty"`
	Channels   int     `json:"channels,omitempty"`
	BitRate    int     `json:"bitRate,omitempty"`
	DurationMs float64 `json:"durationMs,omitempty"`
	Codec      string  `json:"codec,omitempty"`
}

// orderFormats derive a picture order count.
var orderFormats = map[string]bool{"evc": true}

// JSONSink writes one JSON line per frame. It may be shared by several
// pipelines.
type JSONSink struct {
	mu      sync.Mutex
	enc     *json.Encoder
	indexes map[string]int64
}

// NewJSONSink writes to w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{
		enc:     json.NewEncoder(w),
		indexes: make(map[string]int64),
	}
}

// ForFormat returns a Sink for streams of the named format. Records carry
// the order count only for formats that derive one.
func (s *JSONSink) ForFormat(format string) Sink {
	withOrder := orderFormats[format]
	return SinkFunc(func(key string, f parser.Frame) error {
		return s.write(key, f, withOrder)
	})
}

// WriteFrame implements Sink.
func (s *JSONSink) WriteFrame(key string, f parser.Frame) error {
	return s.write(key, f, false)
}

func (s *JSONSink) write(key string, f parser.Frame, withOrder bool) error {
	rec := FrameRecord{
		Stream:     key,
		Size:       len(f.Data),
		KeyFrame:   f.KeyFrame,
		Width:      f.Width,
		Height:     f.Height,
		Samples:    f.Samples,
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		BitRate:    f.BitRate,
		DurationMs: float64(f.Duration) / float64(time.Millisecond),
		Codec:      f.Codec,
	}
	if f.Picture != parser.PictureNone {
		rec.Picture = f.Picture.String()
	}
	if withOrder {
		order := f.Order
		rec.Order = &order
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Index = s.indexes[key]
	s.indexes[key]++
	return s.enc.Encode(rec)
}

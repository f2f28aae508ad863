package parser

import "sync/atomic"

// Stats is a snapshot of a parser's counters.
type Stats struct {
	Frames       int64 `json:"frames"`
	FrameBytes   int64 `json:"frameBytes"`
	SkippedBytes int64 `json:"skippedBytes"`
	Resyncs      int64 `json:"resyncs"`
	Rejected     int64 `json:"rejected"`
	Dropped      int64 `json:"dropped"`
	UnitErrors   int64 `json:"unitErrors"`
}

// counters are updated by the goroutine driving the parser and may be read
// concurrently through Parser.Stats.
type counters struct {
	frames       atomic.Int64
	frameBytes   atomic.Int64
	skippedBytes atomic.Int64
	resyncs      atomic.Int64
	rejected     atomic.Int64
	dropped      atomic.Int64
	unitErrors   atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Frames:       c.frames.Load(),
		FrameBytes:   c.frameBytes.Load(),
		SkippedBytes: c.skippedBytes.Load(),
		Resyncs:      c.resyncs.Load(),
		Rejected:     c.rejected.Load(),
		Dropped:      c.dropped.Load(),
		UnitErrors:   c.unitErrors.Load(),
	}
}

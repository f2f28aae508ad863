package mpegts

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
)

// readPackets is the number of transport packets requested per read.
const readPackets = 64

var (
	// ErrNoStreamType is returned for formats that have no transport stream
	// type.
	ErrNoStreamType = errors.New("mpegts: format is not carried in transport streams")
	// ErrNoStream is returned at end of input when no program carried a
	// stream of the requested format.
	ErrNoStream = errors.New("mpegts: no matching elementary stream")
)

// streamTypes maps format names to the PMT stream types that carry them.
var streamTypes = map[string][]uint8{
	"mpa":      {0x03, 0x04},
	"aac":      {0x0F},
	"h264":     {0x1B},
	"jpeg2000": {0x21},
	"hevc":     {0x24},
	"evc":      {0x33},
	"ac3":      {0x81, 0x87},
	"dca":      {0x82, 0x85, 0x86},
}

// StreamTypes returns the PMT stream types carrying format.
func StreamTypes(format string) []uint8 {
	return slices.Clone(streamTypes[format])
}

// Stats counts the extractor's work.
type Stats struct {
	Packets         int64
	PESPackets      int64
	SkippedBytes    int64
	Discontinuities int64
	// PID is the selected elementary stream PID, -1 before the PMT is seen.
	PID int
}

// Extractor reads a transport stream and yields the payload of one
// elementary stream. It is not safe for concurrent use.
type Extractor struct {
	log    *slog.Logger
	r      io.Reader
	format string
	want   []uint8

	in      []byte
	readBuf []byte
	out     []byte
	outPos  int
	err     error

	pat, pmt   sectionAssembler
	pmtPID     int
	esPID      int
	lastCC     int
	waitPUSI   bool
	warnedNoES bool
	stats      Stats
}

// NewExtractor returns an Extractor yielding the first stream of format
// found in the first program of r. If log is nil, slog.Default() is used.
func NewExtractor(r io.Reader, format string, log *slog.Logger) (*Extractor, error) {
	want := streamTypes[format]
	if len(want) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoStreamType, format)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{
		log:     log.With("component", "mpegts", "format", format),
		r:       r,
		format:  format,
		want:    want,
		readBuf: make([]byte, readPackets*packetSize),
		pmtPID:  -1,
		esPID:   -1,
		lastCC:  -1,
	}, nil
}

// Stats returns the current counters.
func (e *Extractor) Stats() Stats {
	st := e.stats
	st.PID = e.esPID
	return st
}

// Read implements io.Reader over the elementary stream bytes.
func (e *Extractor) Read(p []byte) (int, error) {
	for e.outPos == len(e.out) {
		if e.err != nil {
			return 0, e.err
		}
		e.out, e.outPos = e.out[:0], 0
		e.fill()
	}
	n := copy(p, e.out[e.outPos:])
	e.outPos += n
	return n, nil
}

// fill reads once from the transport and demultiplexes every complete
// packet.
func (e *Extractor) fill() {
	n, err := e.r.Read(e.readBuf)
	e.in = append(e.in, e.readBuf[:n]...)
	e.demux()
	if err == nil {
		return
	}
	if !errors.Is(err, io.EOF) {
		e.err = err
		return
	}
	e.stats.SkippedBytes += int64(len(e.in))
	e.in = e.in[:0]
	if e.esPID < 0 {
		e.err = fmt.Errorf("%w for %s", ErrNoStream, e.format)
		return
	}
	e.err = io.EOF
}

func (e *Extractor) demux() {
	i := 0
	for len(e.in)-i >= packetSize {
		// Lock on a sync byte that repeats one packet later when the next
		// packet is already buffered.
		if e.in[i] != syncByte || len(e.in)-i > packetSize && e.in[i+packetSize] != syncByte {
			i++
			e.stats.SkippedBytes++
			continue
		}
		e.packet(e.in[i : i+packetSize])
		i += packetSize
	}
	e.in = append(e.in[:0], e.in[i:]...)
}

func (e *Extractor) packet(pkt []byte) {
	e.stats.Packets++
	h, payload := parsePacket(pkt)
	if h.pid == pidNull {
		return
	}
	if h.tei {
		if int(h.pid) == e.esPID {
			e.waitPUSI = true
		}
		return
	}
	if !h.hasPayload {
		return
	}

	switch int(h.pid) {
	case pidPAT:
		if section := e.pat.push(h.pusi, payload); section != nil {
			e.handlePAT(section)
		}
	case e.pmtPID:
		if section := e.pmt.push(h.pusi, payload); section != nil {
			e.handlePMT(section)
		}
	case e.esPID:
		e.handleES(h, payload)
	}
}

func (e *Extractor) handlePAT(section []byte) {
	programs, err := parsePAT(section)
	if err != nil {
		e.log.Debug("PAT rejected", "error", err)
		return
	}
	if len(programs) == 0 {
		return
	}
	pid := int(programs[0].pmtPID)
	if pid != e.pmtPID {
		e.log.Debug("program selected", "program", programs[0].number, "pmt_pid", pid)
		e.pmtPID = pid
		e.pmt.reset()
	}
}

func (e *Extractor) handlePMT(section []byte) {
	streams, err := parsePMT(section)
	if err != nil {
		e.log.Debug("PMT rejected", "error", err)
		return
	}
	for _, es := range streams {
		if !slices.Contains(e.want, es.streamType) {
			continue
		}
		if pid := int(es.pid); pid != e.esPID {
			e.log.Info("elementary stream selected", "pid", pid, "stream_type", es.streamType)
			e.esPID = pid
			e.lastCC = -1
			e.waitPUSI = true
		}
		return
	}
	if !e.warnedNoES {
		e.warnedNoES = true
		e.log.Warn("program carries no stream of the requested format", "streams", len(streams))
	}
}

func (e *Extractor) handleES(h header, payload []byte) {
	if e.lastCC >= 0 && !h.discontinuity {
		if int(h.cc) == e.lastCC {
			return // duplicate packet
		}
		if int(h.cc) != (e.lastCC+1)&0x0F {
			e.stats.Discontinuities++
			e.waitPUSI = true
		}
	}
	e.lastCC = int(h.cc)

	if h.pusi {
		off, err := pesDataOffset(payload)
		if err != nil {
			e.log.Debug("PES rejected", "error", err)
			e.stats.SkippedBytes += int64(len(payload))
			e.waitPUSI = true
			return
		}
		e.stats.PESPackets++
		e.waitPUSI = false
		e.out = append(e.out, payload[off:]...)
		return
	}
	if e.waitPUSI {
		e.stats.SkippedBytes += int64(len(payload))
		return
	}
	e.out = append(e.out, payload...)
}

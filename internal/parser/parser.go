// Package parser splits an arbitrarily chunked byte stream of compressed
// media into complete coded frames. A Format supplies the boundary scanner
// and header validator; the Parser owns buffering, overread carry, resync and
// end-of-stream handling so every format shares one engine.
//
// A Parser serves exactly one stream and is not safe for concurrent use,
// except for Stats which may be called from any goroutine.
package parser

import (
	"errors"
	"log/slog"
)

// Default limits used when Options leaves them zero.
const (
	DefaultMaxFrameSize = 16 << 20
	DefaultBufferLimit  = 64 << 20
)

// junkKeep is the number of trailing bytes kept while no frame has started,
// enough to hold the longest marker that may straddle two chunks.
const junkKeep = 16

// Options configures a Parser.
type Options struct {
	// CompleteFrames declares that every chunk passed to Parse is exactly one
	// frame. Scanning is skipped and the chunk goes straight to validation.
	CompleteFrames bool
	// MaxFrameSize bounds a single candidate frame.
	MaxFrameSize int
	// BufferLimit bounds the bytes the parser retains between calls.
	// Exceeding it is fatal.
	BufferLimit int
	Logger      *slog.Logger
}

// Parser drives a Format's scanner and validator over a byte stream.
type Parser struct {
	log       *slog.Logger
	name      string
	scanner   Scanner
	validator Validator
	opts      Options

	acc assembler
	// pending holds bytes already taken from the caller that still have to
	// be scanned: overread past a boundary, or a rejected candidate replayed
	// after a resync.
	pending []byte
	// resumed is set when Reset left an incomplete frame in the buffer; the
	// next boundary validates it instead of discarding it as junk.
	resumed bool
	// ready is a held frame validated by Reset, returned by the next Parse.
	ready    Frame
	readyErr error
	err      error

	counters counters
}

// New creates a Parser for format.
func New(format Format, opts Options) *Parser {
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = DefaultMaxFrameSize
	}
	if opts.BufferLimit <= 0 {
		opts.BufferLimit = DefaultBufferLimit
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Parser{
		log:       log.With("component", "parser", "format", format.Name()),
		name:      format.Name(),
		scanner:   format.NewScanner(),
		validator: format.NewValidator(),
		opts:      opts,
	}
}

// Format returns the name of the format being parsed.
func (p *Parser) Format() string { return p.name }

// Stats returns a snapshot of the parser's counters.
func (p *Parser) Stats() Stats { return p.counters.snapshot() }

// Parse consumes input from data and returns at most one frame together with
// the number of bytes of data consumed. When fewer than len(data) bytes are
// consumed the caller passes the remainder on the next call. A returned frame
// with empty Data means more input is needed.
//
// A non-nil error together with a frame reports recoverable problems in
// individual units of that frame (*UnitError). Any other error means a
// candidate was abandoned; parsing may continue with the remaining input,
// except for ErrBufferLimit which is fatal and returned by every later call.
func (p *Parser) Parse(data []byte) (Frame, int, error) {
	if p.err != nil {
		return Frame{}, 0, p.err
	}
	if p.ready.Data != nil || p.readyErr != nil {
		f, err := p.ready, p.readyErr
		p.ready, p.readyErr = Frame{}, nil
		return f, 0, err
	}
	if p.opts.CompleteFrames {
		return p.parseComplete(data)
	}

	consumed := 0
	for {
		src, fromPending := p.pending, true
		if len(src) == 0 {
			src, fromPending = data[consumed:], false
			if len(src) == 0 {
				return Frame{}, consumed, nil
			}
		}

		b := p.scanner.Scan(src)
		if !b.Found && !b.Reject && b.Err == nil {
			p.acc.append(src)
			if fromPending {
				p.pending = nil
			} else {
				consumed += len(src)
			}
			if err := p.checkLimits(); err != nil {
				return Frame{}, consumed, err
			}
			if fromPending {
				continue
			}
			return Frame{}, consumed, nil
		}

		k := b.Offset
		if k > len(src) {
			k = len(src)
		}
		if k < -p.acc.len() {
			k = -p.acc.len()
		}
		if k >= 0 {
			p.acc.append(src[:k])
			if fromPending {
				p.pending = src[k:]
			} else {
				consumed += k
			}
		} else {
			over := p.acc.cutTail(-k)
			if fromPending {
				p.pending = append(over, src...)
			} else {
				p.pending = over
			}
		}
		candidate := p.acc.take()
		p.scanner.Restart()

		if len(candidate) == 0 {
			// A boundary that removes nothing would be reported again on
			// the rescan; drop one byte so the scan always advances.
			p.skipOne(data, &consumed)
			if b.Err != nil {
				return Frame{}, consumed, b.Err
			}
			if b.Junk {
				continue
			}
			p.counters.rejected.Add(1)
			return Frame{}, consumed, ErrEmptyFrame
		}

		if b.Err != nil {
			p.drop(len(candidate), b.Err)
			return Frame{}, consumed, b.Err
		}
		if b.Reject {
			p.resumed = false
			p.resync(candidate, "frame not followed by a frame start")
			if err := p.checkLimits(); err != nil {
				return Frame{}, consumed, err
			}
			continue
		}
		if b.Junk && !p.resumed {
			p.counters.skippedBytes.Add(int64(len(candidate)))
			continue
		}
		p.resumed = false

		frame, resync, err := p.validate(candidate)
		if resync {
			if err := p.checkLimits(); err != nil {
				return Frame{}, consumed, err
			}
			continue
		}
		return frame, consumed, err
	}
}

// validate checks a candidate frame. On a sync reject it schedules the
// candidate minus its first byte for rescanning and reports resync.
func (p *Parser) validate(candidate []byte) (Frame, bool, error) {
	md, err := p.validator.Validate(candidate)
	if err == nil {
		return p.emit(candidate, md), false, nil
	}
	if errors.Is(err, ErrSync) {
		p.resync(candidate, err)
		return Frame{}, true, nil
	}
	var ue *UnitError
	if errors.As(err, &ue) {
		p.counters.unitErrors.Add(int64(len(ue.Errs)))
		p.log.Debug("unit errors", "frame_size", len(candidate), "error", err)
		return p.emit(candidate, md), false, err
	}
	p.drop(len(candidate), err)
	return Frame{}, false, err
}

// resync drops the first byte of a rejected candidate and schedules the rest
// for rescanning ahead of any carried bytes.
func (p *Parser) resync(candidate []byte, reason any) {
	p.counters.resyncs.Add(1)
	p.counters.skippedBytes.Add(1)
	p.log.Debug("resync", "candidate_size", len(candidate), "reason", reason)
	p.pending = append(candidate[1:], p.pending...)
}

func (p *Parser) parseComplete(data []byte) (Frame, int, error) {
	if len(data) == 0 {
		return Frame{}, 0, nil
	}
	candidate := make([]byte, len(data))
	copy(candidate, data)
	md, err := p.validator.Validate(candidate)
	if err == nil {
		return p.emit(candidate, md), len(data), nil
	}
	var ue *UnitError
	if errors.As(err, &ue) {
		p.counters.unitErrors.Add(int64(len(ue.Errs)))
		return p.emit(candidate, md), len(data), err
	}
	if errors.Is(err, ErrSync) {
		p.counters.rejected.Add(1)
	}
	p.drop(len(candidate), err)
	return Frame{}, len(data), err
}

// Feed consumes all of data and returns every frame it completes. Recoverable
// errors are joined; ErrBufferLimit stops feeding immediately.
func (p *Parser) Feed(data []byte) ([]Frame, error) {
	var frames []Frame
	var errs []error
	for {
		f, n, err := p.Parse(data)
		data = data[n:]
		if f.Data == nil && err == nil {
			return frames, errors.Join(errs...)
		}
		if f.Data != nil {
			frames = append(frames, f)
		}
		if err != nil {
			if errors.Is(err, ErrBufferLimit) {
				return frames, errors.Join(append(errs, err)...)
			}
			errs = append(errs, err)
		}
	}
}

// Finish signals end of stream. Carried bytes are scanned, then the final
// frame, which nothing after it could confirm, is validated: if the format accepts it, it is emitted as a
// short frame, otherwise its bytes are resynced through and discarded. The
// parser is then reset for a new stream.
func (p *Parser) Finish() ([]Frame, error) {
	if p.err != nil {
		return nil, p.err
	}
	var frames []Frame
	var errs []error
	for {
		for len(p.pending) > 0 || p.ready.Data != nil || p.readyErr != nil {
			f, _, err := p.Parse(nil)
			if f.Data != nil {
				frames = append(frames, f)
			}
			if err != nil {
				if errors.Is(err, ErrBufferLimit) {
					return frames, err
				}
				errs = append(errs, err)
			}
		}
		if p.acc.len() == 0 {
			break
		}
		held := 0
		if h, ok := p.scanner.(HoldingScanner); ok && !p.resumed {
			held = h.Held()
		}
		candidate := p.acc.take()
		if !p.scanner.Started() && !p.resumed {
			p.counters.skippedBytes.Add(int64(len(candidate)))
			break
		}
		if held > 0 && held < len(candidate) {
			// Bytes after a held frame are too few to confirm it; they are
			// scanned again on their own.
			p.pending = append(p.pending, candidate[held:]...)
			candidate = candidate[:held]
		}
		p.resumed = false
		p.scanner.Restart()
		frame, resync, err := p.validate(candidate)
		if resync {
			continue
		}
		if frame.Data != nil {
			frames = append(frames, frame)
		}
		if err != nil {
			errs = append(errs, err)
		}
		if len(p.pending) == 0 {
			break
		}
	}
	p.resetStream()
	return frames, errors.Join(errs...)
}

// Reset clears scanner state and picture order state. Parameter sets are kept
// until the stream ends in Finish. A complete frame still waiting
// for confirmation is validated now and returned by the next Parse. Bytes of
// an incomplete frame stay buffered and are validated at the next boundary.
// Calling Reset repeatedly has the same effect as calling it once.
func (p *Parser) Reset() {
	if h, ok := p.scanner.(HoldingScanner); ok && !p.resumed {
		if n := h.Held(); n > 0 && n <= p.acc.len() {
			buf := p.acc.take()
			p.pending = append(buf[n:], p.pending...)
			p.ready, _, p.readyErr = p.validate(buf[:n])
		}
	}
	p.scanner.Reset()
	p.validator.Reset()
	if p.acc.len() > 0 {
		p.resumed = true
	}
}

func (p *Parser) resetStream() {
	resetStream(p.scanner)
	resetStream(p.validator)
	p.acc.reset()
	p.pending = nil
	p.resumed = false
	p.ready, p.readyErr = Frame{}, nil
}

func resetStream(r interface{ Reset() }) {
	if sr, ok := r.(StreamResetter); ok {
		sr.ResetStream()
		return
	}
	r.Reset()
}

func (p *Parser) emit(data []byte, md Metadata) Frame {
	p.counters.frames.Add(1)
	p.counters.frameBytes.Add(int64(len(data)))
	return Frame{Data: data, Metadata: md}
}

func (p *Parser) drop(size int, err error) {
	p.counters.dropped.Add(1)
	p.counters.skippedBytes.Add(int64(size))
	p.log.Debug("frame dropped", "size", size, "error", err)
}

// skipOne discards the next unscanned byte.
func (p *Parser) skipOne(data []byte, consumed *int) {
	switch {
	case len(p.pending) > 0:
		p.pending = p.pending[1:]
	case *consumed < len(data):
		*consumed++
	default:
		return
	}
	p.counters.skippedBytes.Add(1)
}

// checkLimits enforces the frame size and retained-memory limits after the
// buffer has grown.
func (p *Parser) checkLimits() error {
	if p.acc.len()+len(p.pending) > p.opts.BufferLimit {
		p.err = ErrBufferLimit
		p.log.Error("buffer limit exceeded", "buffered", p.acc.len(), "pending", len(p.pending),
			"limit", p.opts.BufferLimit)
		return p.err
	}
	if !p.scanner.Started() && !p.resumed {
		if n := p.acc.dropHead(junkKeep); n > 0 {
			p.counters.skippedBytes.Add(int64(n))
		}
		return nil
	}
	if p.acc.len() > p.opts.MaxFrameSize {
		size := p.acc.len()
		p.acc.reset()
		p.scanner.Restart()
		p.resumed = false
		p.drop(size, ErrFrameTooLarge)
		return ErrFrameTooLarge
	}
	return nil
}

// Package pipeline runs the framing loop for a single stream: it reads the
// input in chunks, drives a parser over them and forwards every completed
// frame to a Sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/framer/internal/parser"
)

// DefaultReadSize is the chunk size used when none is configured.
const DefaultReadSize = 64 << 10

// Sink receives the frames of one stream in order.
type Sink interface {
	WriteFrame(key string, f parser.Frame) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(key string, f parser.Frame) error

// WriteFrame implements Sink.
func (fn SinkFunc) WriteFrame(key string, f parser.Frame) error { return fn(key, f) }

// Options configures a Pipeline.
type Options struct {
	// ReadSize is the size of each read from the input.
	ReadSize int
	// Messages treats every read as exactly one frame. It requires a parser
	// created with parser.Options.CompleteFrames and a message-oriented input
	// such as SRT in message mode.
	Messages bool
	Logger   *slog.Logger
}

// Pipeline bridges one input and a Sink through a parser.
type Pipeline struct {
	log       *slog.Logger
	streamKey string
	input     io.Reader
	parser    *parser.Parser
	sink      Sink
	opts      Options

	bytesRead atomic.Int64
	parseErrs atomic.Int64
	startTime time.Time
}

// New creates a Pipeline reading input for the stream key.
func New(streamKey string, input io.Reader, p *parser.Parser, sink Sink, opts Options) *Pipeline {
	if opts.ReadSize <= 0 {
		opts.ReadSize = DefaultReadSize
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		log:       log.With("component", "pipeline", "stream", streamKey, "format", p.Format()),
		streamKey: streamKey,
		input:     input,
		parser:    p,
		sink:      sink,
		opts:      opts,
		startTime: time.Now(),
	}
}

// Stats returns the parser counters. Safe to call while Run is active.
func (p *Pipeline) Stats() parser.Stats { return p.parser.Stats() }

// BytesRead returns the number of input bytes consumed so far.
func (p *Pipeline) BytesRead() int64 { return p.bytesRead.Load() }

// ParseErrors returns the number of recoverable parse errors seen.
func (p *Pipeline) ParseErrors() int64 { return p.parseErrs.Load() }

// Run reads the input until EOF, context cancellation or a fatal error. At
// EOF the parser is finished so the final frame is flushed. Recoverable
// parse errors are logged and do not stop the stream.
func (p *Pipeline) Run(ctx context.Context) error {
	buf := make([]byte, p.opts.ReadSize)
	for {
		if ctx.Err() != nil {
			p.log.Info("pipeline cancelled", "bytes", p.bytesRead.Load())
			return nil
		}
		n, err := p.input.Read(buf)
		if n > 0 {
			p.bytesRead.Add(int64(n))
			if ferr := p.feed(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return p.finish()
		}
		if err != nil {
			return fmt.Errorf("pipeline: read %s: %w", p.streamKey, err)
		}
	}
}

func (p *Pipeline) feed(chunk []byte) error {
	if p.opts.Messages {
		f, _, err := p.parser.Parse(chunk)
		return p.deliver([]parser.Frame{f}, err)
	}
	frames, err := p.parser.Feed(chunk)
	return p.deliver(frames, err)
}

func (p *Pipeline) finish() error {
	frames, err := p.parser.Finish()
	if derr := p.deliver(frames, err); derr != nil {
		return derr
	}
	st := p.parser.Stats()
	p.log.Info("input finished",
		"bytes", p.bytesRead.Load(), "frames", st.Frames, "skipped_bytes", st.SkippedBytes,
		"resyncs", st.Resyncs, "dropped", st.Dropped, "elapsed", time.Since(p.startTime))
	return nil
}

// deliver forwards frames to the sink and classifies err. Only the buffer
// limit and sink failures end the stream.
func (p *Pipeline) deliver(frames []parser.Frame, err error) error {
	for _, f := range frames {
		if f.Data == nil {
			continue
		}
		if serr := p.sink.WriteFrame(p.streamKey, f); serr != nil {
			return fmt.Errorf("pipeline: sink: %w", serr)
		}
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, parser.ErrBufferLimit) {
		p.log.Error("stopping stream", "error", err)
		return err
	}
	p.parseErrs.Add(1)
	p.log.Debug("recoverable parse error", "error", err)
	return nil
}

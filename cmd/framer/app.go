package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zsiec/framer/internal/codec"
	"github.com/zsiec/framer/internal/config"
	"github.com/zsiec/framer/internal/ingest"
	"github.com/zsiec/framer/internal/mpegts"
	"github.com/zsiec/framer/internal/parser"
	"github.com/zsiec/framer/internal/pipeline"
	"github.com/zsiec/framer/internal/stream"
)

// Pipelines report their input counters to the metrics exporter.
var _ stream.InputCounter = (*pipeline.Pipeline)(nil)

type app struct {
	cfg      *config.Config
	log      *slog.Logger
	mgr      *stream.Manager
	registry *ingest.Registry
	sink     *pipeline.JSONSink
}

func newApp(cfg *config.Config, sink *pipeline.JSONSink, log *slog.Logger) *app {
	if log == nil {
		log = slog.Default()
	}
	return &app{
		cfg:  cfg,
		log:  log,
		mgr:  stream.NewManager(log),
		sink: sink,
	}
}

// newPipeline builds the parser and pipeline for one stream of format.
func (a *app) newPipeline(key, format string, input io.Reader) (*pipeline.Pipeline, error) {
	f, err := codec.New(format, a.cfg.CodecOptions())
	if err != nil {
		return nil, err
	}
	log := a.log.With("stream", key)
	if a.cfg.App.Container == config.ContainerTS {
		x, err := mpegts.NewExtractor(input, f.Name(), log)
		if err != nil {
			return nil, err
		}
		input = x
	}
	p := parser.New(f, parser.Options{
		CompleteFrames: a.cfg.App.CompleteFrames,
		MaxFrameSize:   a.cfg.App.MaxFrameSize,
		BufferLimit:    a.cfg.App.BufferLimit,
		Logger:         log,
	})
	return pipeline.New(key, input, p, a.sink.ForFormat(f.Name()), pipeline.Options{
		ReadSize: a.cfg.App.ReadSize,
		Messages: a.cfg.App.CompleteFrames,
		Logger:   a.log,
	}), nil
}

// runStream registers the session for monitoring and runs it to the end.
func (a *app) runStream(ctx context.Context, key, format, source string, input io.Reader) error {
	p, err := a.newPipeline(key, format, input)
	if err != nil {
		return err
	}
	if _, created := a.mgr.Create(key, format, source, p); !created {
		return fmt.Errorf("stream %q already active", key)
	}
	defer a.mgr.Remove(key)
	return p.Run(ctx)
}

func (a *app) handleNewStream(ctx context.Context, s *ingest.Stream, input io.Reader) {
	a.log.Info("new stream from ingest", "key", s.Key, "format", s.Format)
	if err := a.runStream(ctx, s.Key, s.Format, "srt", input); err != nil {
		a.log.Error("pipeline error", "stream", s.Key, "error", err)
		a.registry.Abort(s.Key, err)
		return
	}
	// Drain whatever the transport still writes so it is not blocked.
	io.Copy(io.Discard, input)
	a.log.Info("stream ended", "key", s.Key)
}

// runFile frames the configured file, or stdin for "-".
func (a *app) runFile(ctx context.Context, path string, stdin io.Reader) error {
	key := "stdin"
	input := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		key, input = filepath.Base(path), f
	}
	return a.runStream(ctx, key, codec.Canonical(a.cfg.App.Format), "file", input)
}

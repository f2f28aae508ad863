// Command framer splits elementary media streams into coded frames. It
// reads a file or stdin, and optionally accepts SRT publishers and pulls
// from SRT listeners, writing one JSON line per frame to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/framer/internal/codec"
	"github.com/zsiec/framer/internal/config"
	"github.com/zsiec/framer/internal/ingest"
	srtingest "github.com/zsiec/framer/internal/ingest/srt"
	"github.com/zsiec/framer/internal/metrics"
	"github.com/zsiec/framer/internal/pipeline"
)

var version = "dev"

var defaultConfigPaths = []string{"framer.toml", "/etc/framer/framer.toml"}

func main() {
	configPath := flag.String("config", "", "path to the TOML config file")
	format := flag.String("format", "", "stream format: "+strings.Join(codec.Names(), ", "))
	input := flag.String("input", "", `input file, "-" for stdin`)
	container := flag.String("container", "", `input container: "es" or "ts"`)
	complete := flag.Bool("complete", false, "treat every read as exactly one frame")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	paths := defaultConfigPaths
	if *configPath != "" {
		paths = []string{*configPath}
	}
	cfg, err := config.Parse(paths)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *format != "" {
		cfg.App.Format = *format
	}
	if *input != "" {
		cfg.Input.Path = *input
	}
	if *container != "" {
		cfg.App.Container = *container
	}
	if *complete {
		cfg.App.CompleteFrames = true
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log, os.Getenv("DEBUG") != "", os.Stderr)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("framer starting",
		"version", version,
		"format", codec.Canonical(cfg.App.Format),
		"container", cfg.App.Container,
		"input", cfg.Input.Path,
		"srt", cfg.SRT.Enabled,
		"api", cfg.API.Enabled,
	)

	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		slog.Error("framer error", "error", err)
		os.Exit(1)
	}
}

// run starts every configured component and waits for them. The file input
// ends on EOF; network components run until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, stdin io.Reader, stdout io.Writer) error {
	g, ctx := errgroup.WithContext(ctx)

	a := newApp(cfg, pipeline.NewJSONSink(stdout), nil)
	// The registry is created after the errgroup so stream pipelines stop
	// when any component fails.
	a.registry = ingest.NewRegistry(func(s *ingest.Stream, input io.Reader) {
		a.handleNewStream(ctx, s, input)
	})

	if cfg.Input.Path != "" {
		g.Go(func() error {
			return a.runFile(ctx, cfg.Input.Path, stdin)
		})
	}

	if cfg.SRT.Enabled {
		latency := time.Duration(cfg.SRT.Latency) * time.Millisecond
		format := codec.Canonical(cfg.App.Format)
		srtSrv := srtingest.NewServer(cfg.SRT.Address, latency, format, a.registry, nil)
		g.Go(func() error {
			return srtSrv.Start(ctx)
		})
	}

	if len(cfg.SRT.Pull) > 0 {
		latency := time.Duration(cfg.SRT.Latency) * time.Millisecond
		caller := srtingest.NewCaller(a.registry, latency, codec.Canonical(cfg.App.Format), nil)
		for _, p := range cfg.SRT.Pull {
			req := srtingest.PullRequest{
				Address:   p.Address,
				StreamKey: p.Key,
				StreamID:  p.StreamID,
				Format:    p.Format,
			}
			g.Go(func() error {
				if err := caller.Pull(ctx, req); err != nil {
					slog.Warn("SRT pull failed", "stream_key", req.StreamKey, "error", err)
				}
				return nil
			})
		}
	}

	if cfg.API.Enabled {
		srv := metrics.NewServer(cfg.API.Address, metrics.NewExporter(a.mgr, a.registry), nil)
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	return g.Wait()
}

// newLogger builds the process logger at the configured level. debug forces
// the debug level.
func newLogger(lc config.LogConfig, debug bool, w io.Writer) (*slog.Logger, error) {
	level, err := lc.SlogLevel()
	if err != nil {
		return nil, err
	}
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

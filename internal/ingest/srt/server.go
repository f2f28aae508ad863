package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/framer/internal/ingest"
)

// readBufferSize is the read buffer for SRT socket reads, ten 1316-byte
// live mode payloads.
const readBufferSize = 1316 * 10

// DefaultLatency is the SRT receiver latency used when none is configured.
const DefaultLatency = 120 * time.Millisecond

// Server accepts incoming SRT publish connections and registers them with
// the ingest registry.
type Server struct {
	log           *slog.Logger
	addr          string
	latency       time.Duration
	defaultFormat string
	registry      *ingest.Registry
}

// NewServer creates an SRT server that listens on addr. Stream ids without
// a format segment use defaultFormat. If log is nil, slog.Default() is used.
func NewServer(addr string, latency time.Duration, defaultFormat string, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if latency <= 0 {
		latency = DefaultLatency
	}
	return &Server{
		log:           log.With("component", "srt-server"),
		addr:          addr,
		latency:       latency,
		defaultFormat: defaultFormat,
		registry:      registry,
	}
}

// Start begins accepting SRT publish connections. It blocks until the
// context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = s.latency

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr, "default_format", s.defaultFormat)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		key, _, err := ParseStreamID(req.StreamID, s.defaultFormat)
		if err != nil {
			return srtgo.RejPeer
		}
		if _, busy := s.registry.Get(key); busy {
			s.log.Warn("rejecting duplicate publish", "stream_key", key)
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}

		key, format, err := ParseStreamID(conn.StreamID(), s.defaultFormat)
		if err != nil {
			conn.Close()
			continue
		}
		s.log.Info("publish", "stream_key", key, "format", format, "remote", conn.RemoteAddr())

		go s.handleConnection(ctx, conn, key, format)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn *srtgo.Conn, key, format string) {
	defer conn.Close()

	stream, writer, err := s.registry.Register(key, format)
	if err != nil {
		s.log.Warn("register failed", "stream_key", key, "error", err)
		return
	}
	stream.SetRemoteAddr(conn.RemoteAddr().String())

	copyStream(ctx, s.log, conn, stream, writer)

	stats := stream.IngestStats()
	s.registry.Unregister(key)
	s.log.Info("connection closed", "stream_key", key,
		"bytes", stats.BytesReceived, "reads", stats.ReadCount,
		"uptime_ms", stats.UptimeMs)
}

// copyStream moves socket reads into the stream's pipe until either side
// fails or ctx is cancelled.
func copyStream(ctx context.Context, log *slog.Logger, conn io.Reader, stream *ingest.Stream, writer io.Writer) {
	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("read error", "stream_key", stream.Key, "error", err)
			}
			return
		}
		stream.RecordRead(n)
		if _, err := writer.Write(buf[:n]); err != nil {
			log.Debug("pipe write error", "stream_key", stream.Key, "error", err)
			return
		}
	}
}

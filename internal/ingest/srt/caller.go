package srt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/framer/internal/codec"
	"github.com/zsiec/framer/internal/ingest"
)

// dialTimeout bounds a single pull connection attempt.
const dialTimeout = 10 * time.Second

// PullRequest describes a remote SRT source to pull from.
type PullRequest struct {
	Address   string `json:"address"`
	StreamKey string `json:"streamKey"`
	StreamID  string `json:"streamId,omitempty"`
	Format    string `json:"format,omitempty"`
}

func (r *PullRequest) check(defaultFormat string) error {
	if r.Address == "" {
		return errors.New("srt: pull address is required")
	}
	if r.StreamKey == "" {
		return errors.New("srt: pull stream key is required")
	}
	if r.Format == "" {
		r.Format = defaultFormat
	}
	name := codec.Canonical(r.Format)
	if name == "" {
		return fmt.Errorf("srt: pull %q: %w: %q", r.StreamKey, codec.ErrUnknownFormat, r.Format)
	}
	r.Format = name
	if r.StreamID == "" {
		r.StreamID = "live/" + r.StreamKey
	}
	return nil
}

// Caller manages SRT pull connections, dialing remote SRT sources and
// streaming their data into the ingest registry.
type Caller struct {
	log           *slog.Logger
	registry      *ingest.Registry
	latency       time.Duration
	defaultFormat string

	mu    sync.Mutex
	pulls map[string]struct{}
}

// NewCaller creates a Caller registering pulled streams with registry. If
// log is nil, slog.Default() is used.
func NewCaller(registry *ingest.Registry, latency time.Duration, defaultFormat string, log *slog.Logger) *Caller {
	if log == nil {
		log = slog.Default()
	}
	if latency <= 0 {
		latency = DefaultLatency
	}
	return &Caller{
		log:           log.With("component", "srt-caller"),
		registry:      registry,
		latency:       latency,
		defaultFormat: defaultFormat,
		pulls:         make(map[string]struct{}),
	}
}

// Pull dials the remote SRT listener synchronously, returning an error if
// the connection fails. On success, streaming continues in the background
// until ctx is cancelled or the remote closes the connection.
func (c *Caller) Pull(ctx context.Context, req PullRequest) error {
	if err := req.check(c.defaultFormat); err != nil {
		return err
	}

	c.mu.Lock()
	if _, exists := c.pulls[req.StreamKey]; exists {
		c.mu.Unlock()
		return fmt.Errorf("srt: pull already active for stream key %q", req.StreamKey)
	}
	c.mu.Unlock()

	c.log.Info("dialing", "address", req.Address, "stream_key", req.StreamKey, "format", req.Format)

	cfg := srtgo.DefaultConfig()
	cfg.Latency = c.latency
	cfg.StreamID = req.StreamID

	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(req.Address, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("srt: dial %s: %w", req.Address, res.err)
		}
		return c.startStreaming(ctx, req, res.conn)
	case <-timer.C:
		go drainDial(ch)
		return fmt.Errorf("srt: dial %s timed out after %s", req.Address, dialTimeout)
	case <-ctx.Done():
		go drainDial(ch)
		return ctx.Err()
	}
}

type dialResult struct {
	conn *srtgo.Conn
	err  error
}

// drainDial closes a connection that completed after its caller gave up.
func drainDial(ch <-chan dialResult) {
	if res := <-ch; res.conn != nil {
		res.conn.Close()
	}
}

func (c *Caller) startStreaming(ctx context.Context, req PullRequest, conn *srtgo.Conn) error {
	pullCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if _, exists := c.pulls[req.StreamKey]; exists {
		c.mu.Unlock()
		cancel()
		conn.Close()
		return fmt.Errorf("srt: pull already active for stream key %q", req.StreamKey)
	}
	c.pulls[req.StreamKey] = struct{}{}
	c.mu.Unlock()

	stream, writer, err := c.registry.Register(req.StreamKey, req.Format)
	if err != nil {
		c.forget(req.StreamKey)
		cancel()
		conn.Close()
		return fmt.Errorf("srt: pull %q: %w", req.StreamKey, err)
	}
	stream.SetRemoteAddr(req.Address)
	c.log.Info("connected", "address", req.Address, "stream_key", req.StreamKey)

	go func() {
		defer func() {
			conn.Close()
			stats := stream.IngestStats()
			c.registry.Unregister(req.StreamKey)
			c.forget(req.StreamKey)
			cancel()
			c.log.Info("pull ended", "stream_key", req.StreamKey,
				"bytes", stats.BytesReceived, "reads", stats.ReadCount,
				"uptime_ms", stats.UptimeMs)
		}()
		go func() {
			<-pullCtx.Done()
			conn.Close()
		}()
		copyStream(pullCtx, c.log, conn, stream, writer)
	}()
	return nil
}

func (c *Caller) forget(key string) {
	c.mu.Lock()
	delete(c.pulls, key)
	c.mu.Unlock()
}

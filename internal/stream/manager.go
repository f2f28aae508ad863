// Package stream tracks the active framing sessions so that monitoring can
// list them with their parser counters.
package stream

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zsiec/framer/internal/parser"
)

// StatsSource reports the counters of a running parser.
type StatsSource interface {
	Stats() parser.Stats
}

// InputCounter is implemented by stats sources that also count the input
// they read and the recoverable parse errors they saw.
type InputCounter interface {
	BytesRead() int64
	ParseErrors() int64
}

// Stream is one framing session.
type Stream struct {
	Key       string
	Format    string
	Source    string // "srt", "srt-pull" or "file"
	StartedAt time.Time
	stats     StatsSource
	done      chan struct{}
}

// Stats returns the session's parser counters.
func (s *Stream) Stats() parser.Stats {
	if s.stats == nil {
		return parser.Stats{}
	}
	return s.stats.Stats()
}

// Input returns the bytes read and parse errors of the session, or zeros when
// its stats source does not count them.
func (s *Stream) Input() (bytesRead, parseErrors int64) {
	c, ok := s.stats.(InputCounter)
	if !ok {
		return 0, 0
	}
	return c.BytesRead(), c.ParseErrors()
}

// Done is closed when the session is removed.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Manager manages the lifecycle of framing sessions.
type Manager struct {
	log     *slog.Logger
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewManager creates a new stream manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:     log.With("component", "stream-manager"),
		streams: make(map[string]*Stream),
	}
}

// Create registers a session. It returns nil and false if a session with
// this key already exists.
func (m *Manager) Create(key, format, source string, stats StatsSource) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[key]; ok {
		m.log.Warn("stream already exists, rejecting duplicate", "key", key)
		return nil, false
	}

	s := &Stream{
		Key:       key,
		Format:    format,
		Source:    source,
		StartedAt: time.Now(),
		stats:     stats,
		done:      make(chan struct{}),
	}
	m.streams[key] = s
	m.log.Info("stream created", "key", key, "format", format, "source", source)
	return s, true
}

// Remove removes a session.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	s, ok := m.streams[key]
	if ok {
		delete(m.streams, key)
	}
	m.mu.Unlock()

	if ok {
		close(s.done)
		st := s.Stats()
		read, parseErrs := s.Input()
		m.log.Info("stream removed", "key", key, "bytes", read,
			"frames", st.Frames, "skipped_bytes", st.SkippedBytes, "resyncs", st.Resyncs, "parse_errors", parseErrs)
	}
}

// Get returns the session for key.
func (m *Manager) Get(key string) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[key]
	return s, ok
}

// List returns all active sessions ordered by key.
func (m *Manager) List() []*Stream {
	m.mu.RLock()
	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(streams, func(a, b *Stream) int { return strings.Compare(a.Key, b.Key) })
	return streams
}

// Package metrics exports framing session counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zsiec/framer/internal/config"
	"github.com/zsiec/framer/internal/ingest"
	"github.com/zsiec/framer/internal/stream"
)

const (
	parserSubsystem = "parser"
	ingestSubsystem = "ingest"
)

var streamLabels = []string{"stream", "format"}

func newDesc(subsystem, name, help string, labels []string) *prometheus.Desc {
	return prometheus.NewDesc(
		prometheus.BuildFQName(config.MetricsNamespace, subsystem, name),
		help, labels, nil,
	)
}

var (
	activeStreamsDesc = newDesc(parserSubsystem, "active_streams", "The number of active framing sessions", nil)
	uptimeDesc        = newDesc(parserSubsystem, "uptime_seconds", "Time since the session started", streamLabels)
	framesDesc        = newDesc(parserSubsystem, "frames_total", "Frames emitted", streamLabels)
	frameBytesDesc    = newDesc(parserSubsystem, "frame_bytes_total", "Bytes of emitted frames", streamLabels)
	skippedBytesDesc  = newDesc(parserSubsystem, "skipped_bytes_total", "Bytes discarded while searching for sync", streamLabels)
	resyncsDesc       = newDesc(parserSubsystem, "resyncs_total", "Candidates rejected by header validation", streamLabels)
	rejectedDesc      = newDesc(parserSubsystem, "rejected_total", "Zero-length or invalid complete frames", streamLabels)
	droppedDesc       = newDesc(parserSubsystem, "dropped_frames_total", "Candidate frames abandoned", streamLabels)
	unitErrorsDesc    = newDesc(parserSubsystem, "unit_errors_total", "Unit errors inside emitted frames", streamLabels)
	inputBytesDesc    = newDesc(parserSubsystem, "input_bytes_total", "Bytes read from the session input", streamLabels)
	parseErrorsDesc   = newDesc(parserSubsystem, "parse_errors_total", "Recoverable parse errors reported by the parser", streamLabels)

	ingestActiveDesc = newDesc(ingestSubsystem, "active_connections", "The number of active ingest connections", nil)
	ingestBytesDesc  = newDesc(ingestSubsystem, "receive_bytes_total", "Bytes received from the transport", []string{"stream", "format", "address"})
	ingestReadsDesc  = newDesc(ingestSubsystem, "reads_total", "Transport reads", []string{"stream", "format", "address"})
)

// StreamLister lists the active framing sessions.
type StreamLister interface {
	List() []*stream.Stream
}

// IngestLister lists the active ingest connections.
type IngestLister interface {
	List() []*ingest.Stream
}

// Exporter collects metrics. It implements prometheus.Collector.
type Exporter struct {
	streams StreamLister
	ingest  IngestLister
}

// NewExporter creates an Exporter. ingest may be nil when no transport runs.
func NewExporter(streams StreamLister, ingest IngestLister) *Exporter {
	return &Exporter{streams: streams, ingest: ingest}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- activeStreamsDesc
	ch <- uptimeDesc
	ch <- framesDesc
	ch <- frameBytesDesc
	ch <- skippedBytesDesc
	ch <- resyncsDesc
	ch <- rejectedDesc
	ch <- droppedDesc
	ch <- unitErrorsDesc
	ch <- inputBytesDesc
	ch <- parseErrorsDesc
	if e.ingest != nil {
		ch <- ingestActiveDesc
		ch <- ingestBytesDesc
		ch <- ingestReadsDesc
	}
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	streams := e.streams.List()
	ch <- prometheus.MustNewConstMetric(activeStreamsDesc, prometheus.GaugeValue, float64(len(streams)))
	for _, s := range streams {
		st := s.Stats()
		labels := []string{s.Key, s.Format}
		ch <- prometheus.MustNewConstMetric(uptimeDesc, prometheus.GaugeValue, time.Since(s.StartedAt).Seconds(), labels...)
		ch <- prometheus.MustNewConstMetric(framesDesc, prometheus.CounterValue, float64(st.Frames), labels...)
		ch <- prometheus.MustNewConstMetric(frameBytesDesc, prometheus.CounterValue, float64(st.FrameBytes), labels...)
		ch <- prometheus.MustNewConstMetric(skippedBytesDesc, prometheus.CounterValue, float64(st.SkippedBytes), labels...)
		ch <- prometheus.MustNewConstMetric(resyncsDesc, prometheus.CounterValue, float64(st.Resyncs), labels...)
		ch <- prometheus.MustNewConstMetric(rejectedDesc, prometheus.CounterValue, float64(st.Rejected), labels...)
		ch <- prometheus.MustNewConstMetric(droppedDesc, prometheus.CounterValue, float64(st.Dropped), labels...)
		ch <- prometheus.MustNewConstMetric(unitErrorsDesc, prometheus.CounterValue, float64(st.UnitErrors), labels...)
		read, parseErrs := s.Input()
		ch <- prometheus.MustNewConstMetric(inputBytesDesc, prometheus.CounterValue, float64(read), labels...)
		ch <- prometheus.MustNewConstMetric(parseErrorsDesc, prometheus.CounterValue, float64(parseErrs), labels...)
	}

	if e.ingest == nil {
		return
	}
	conns := e.ingest.List()
	ch <- prometheus.MustNewConstMetric(ingestActiveDesc, prometheus.GaugeValue, float64(len(conns)))
	for _, c := range conns {
		st := c.IngestStats()
		ch <- prometheus.MustNewConstMetric(ingestBytesDesc, prometheus.CounterValue, float64(st.BytesReceived), c.Key, c.Format, st.RemoteAddr)
		ch <- prometheus.MustNewConstMetric(ingestReadsDesc, prometheus.CounterValue, float64(st.ReadCount), c.Key, c.Format, st.RemoteAddr)
	}
}

package client

import (
	vm "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
	"io"
)

// --------------------------------------------------------------------------
// Process-wide counters
// --------------------------------------------------------------------------

var (
	framesRead      = vm.NewCounter("dstream_frames_read_total")
	framesDropped   = vm.NewCounter("dstream_frames_dropped_total")
	messagesSent    = vm.NewCounter("dstream_published_total")
	messagesAcked   = vm.NewCounter("dstream_confirmed_total")
	publishErrors   = vm.NewCounter("dstream_publish_errors_total")
	chunksReceived  = vm.NewCounter("dstream_chunks_received_total")
	chunksCorrupted = vm.NewCounter("dstream_chunks_crc_mismatch_total")
	connectionsOpen = vm.NewCounter("dstream_connections_opened_total")
	connectionsLost = vm.NewCounter("dstream_connections_lost_total")
)

// WritePrometheus writes all process-wide dStream metrics in Prometheus text format
func WritePrometheus(w io.Writer) {
	vm.WritePrometheus(w, false)
}

// --------------------------------------------------------------------------
// Per-connection statistics
// --------------------------------------------------------------------------

// Stats holds the statistics of a single connection
type Stats struct {
	registry gometrics.Registry

	MessagesSent  gometrics.Counter   // published messages (sub-entry batches count as one)
	ConfirmFrames gometrics.Counter   // received PublishConfirm frames
	ConfirmedIDs  gometrics.Counter   // publishing ids confirmed by the broker
	PublishErrors gometrics.Counter   // publishing ids rejected by the broker
	DeliverFrames gometrics.Counter   // received Deliver frames
	ChunkEntries  gometrics.Histogram // number of entries per delivered chunk
}

func newStats() *Stats {
	s := &Stats{
		registry:      gometrics.NewRegistry(),
		MessagesSent:  gometrics.NewCounter(),
		ConfirmFrames: gometrics.NewCounter(),
		ConfirmedIDs:  gometrics.NewCounter(),
		PublishErrors: gometrics.NewCounter(),
		DeliverFrames: gometrics.NewCounter(),
		ChunkEntries:  gometrics.NewHistogram(gometrics.NewUniformSample(1028)),
	}
	_ = s.registry.Register("messages_sent", s.MessagesSent)
	_ = s.registry.Register("confirm_frames", s.ConfirmFrames)
	_ = s.registry.Register("confirmed_ids", s.ConfirmedIDs)
	_ = s.registry.Register("publish_errors", s.PublishErrors)
	_ = s.registry.Register("deliver_frames", s.DeliverFrames)
	_ = s.registry.Register("chunk_entries", s.ChunkEntries)
	return s
}

// WriteStats writes a human readable snapshot of the statistics
func (s *Stats) WriteStats(w io.Writer) {
	gometrics.WriteOnce(s.registry, w)
}

// StatsSnapshot is a point-in-time copy of the connection statistics
type StatsSnapshot struct {
	MessagesSent     int64
	ConfirmFrames    int64
	ConfirmedIDs     int64
	PublishErrors    int64
	DeliverFrames    int64
	MeanChunkEntries float64
}

// Snapshot returns the current values of all statistics
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		MessagesSent:     s.MessagesSent.Count(),
		ConfirmFrames:    s.ConfirmFrames.Count(),
		ConfirmedIDs:     s.ConfirmedIDs.Count(),
		PublishErrors:    s.PublishErrors.Count(),
		DeliverFrames:    s.DeliverFrames.Count(),
		MeanChunkEntries: s.ChunkEntries.Mean(),
	}
}

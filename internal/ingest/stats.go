package ingest

import (
	"sync"
	"time"
)

// rateWindow bounds how far back the per-minute throughput looks.
const rateWindow = 5 * time.Minute

// pipelineStats accumulates in-process pipeline counters. Prometheus carries
// the same numbers for scraping; these feed the snapshot served over the API
// and pushed on the metrics channel.
type pipelineStats struct {
	mu                 sync.Mutex
	startedAt          time.Time
	eventsProcessed    int64
	duplicatesFiltered int64
	alertsGenerated    int64
	batches            int64
	processingNanos    int64
	buckets            map[int64]int64 // unix minute -> accepted events
	sentiment          map[string]int64
	platforms          map[string]int64
}

func newPipelineStats() *pipelineStats {
	return &pipelineStats{
		startedAt: time.Now(),
		buckets:   make(map[int64]int64),
		sentiment: make(map[string]int64),
		platforms: make(map[string]int64),
	}
}

// recordBatch accounts one ProcessEvents call: how many events came in, which
// ones survived, how many were caught by dedup, and how long the batch took.
func (s *pipelineStats) recordBatch(received int, accepted []acceptedEvent, duplicates int, elapsed time.Duration) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventsProcessed += int64(received)
	s.duplicatesFiltered += int64(duplicates)
	s.batches++
	s.processingNanos += elapsed.Nanoseconds()

	minute := now.Unix() / 60
	s.buckets[minute] += int64(len(accepted))

	for _, ev := range accepted {
		s.sentiment[ev.sentiment]++
		platform := ev.platform
		if platform == "" {
			platform = "unknown"
		}
		s.platforms[platform]++
	}
}

func (s *pipelineStats) recordAlerts(n int) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	s.alertsGenerated += int64(n)
	s.mu.Unlock()
}

// acceptedEvent is the slice element recordBatch distributes over; the full
// event is not needed here.
type acceptedEvent struct {
	sentiment string
	platform  string
}

// fill copies the counters into a snapshot. Maps are copied so callers can
// hold the snapshot without racing the pipeline.
func (s *pipelineStats) fill(snap *MetricsSnapshot) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	snap.EventsProcessedTotal = s.eventsProcessed
	snap.AlertsGenerated = s.alertsGenerated
	snap.DuplicatesFiltered = s.duplicatesFiltered
	snap.EventsPerMinute = s.eventsPerMinuteLocked(now)

	if s.batches > 0 {
		snap.ProcessingLatencyMs = float64(s.processingNanos) / float64(s.batches) / float64(time.Millisecond)
	}

	snap.SentimentDistribution = make(map[string]int64, len(s.sentiment))
	for label, count := range s.sentiment {
		snap.SentimentDistribution[label] = count
	}
	snap.PlatformDistribution = make(map[string]int64, len(s.platforms))
	for platform, count := range s.platforms {
		snap.PlatformDistribution[platform] = count
	}
}

// eventsPerMinuteLocked averages accepted events over the rate window, or over
// the process uptime when it is shorter. Stale buckets are pruned as a side
// effect. The denominator never drops below one minute.
func (s *pipelineStats) eventsPerMinuteLocked(now time.Time) float64 {
	cutoff := now.Add(-rateWindow).Unix() / 60

	var sum int64
	for minute, count := range s.buckets {
		if minute < cutoff {
			delete(s.buckets, minute)
			continue
		}
		sum += count
	}

	span := now.Sub(s.startedAt)
	if span > rateWindow {
		span = rateWindow
	}
	minutes := span.Minutes()
	if minutes < 1 {
		minutes = 1
	}
	return float64(sum) / minutes
}

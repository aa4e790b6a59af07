package store

import (
	"context"
	"sync"
	"time"

	"crisiswatch/internal/config"
	"crisiswatch/internal/constants"
	"crisiswatch/internal/logger"
	"crisiswatch/pkg/errors"
	"crisiswatch/pkg/metrics"
	"crisiswatch/pkg/models"
	"crisiswatch/pkg/retry"
)

type lookupErrorStatus int

const (
	lookupErrorDeny lookupErrorStatus = iota
	lookupErrorAllow
)

// Store is the durable event log plus the alert collection. Writes are
// buffered and flushed in batches; reads go straight to the repository.
// Append performs both deduplication passes before buffering.
type Store struct {
	repo   Repository
	cache  Cache
	cfg    config.StoreConfig
	logger logger.Logger

	mu     sync.Mutex
	buffer []models.MonitoringEvent

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewStore(repo Repository, cache Cache, cfg config.StoreConfig, log logger.Logger) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = constants.DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = constants.DefaultFlushInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = constants.DefaultRetention
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = constants.DefaultSimilarityThreshold
	}
	if cfg.SimilarityWindow <= 0 {
		cfg.SimilarityWindow = constants.DefaultSimilarityWindow
	}

	return &Store{
		repo:   repo,
		cache:  cache,
		cfg:    cfg,
		logger: log,
		buffer: make([]models.MonitoringEvent, 0, cfg.BatchSize),
		stopCh: make(chan struct{}),
	}
}

// Start launches the interval flusher and the retention sweeper.
func (s *Store) Start() {
	s.wg.Add(1)
	go s.flushLoop()

	s.wg.Add(1)
	go s.retentionLoop()
}

// Stop flushes whatever is buffered and halts the background loops. Safe to
// call more than once.
func (s *Store) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		if err := s.Flush(ctx); err != nil {
			s.logger.Errorw("Final flush on shutdown failed", "error", err)
		}
	})
}

// Append runs both dedup passes and buffers the event. It returns the event
// as it will be stored and false when the event is an exact duplicate and
// goes nowhere. A content duplicate is still stored, flagged, pointing at the
// event that suppressed it.
func (s *Store) Append(ctx context.Context, event models.MonitoringEvent) (models.MonitoringEvent, bool, error) {
	first, err := s.cache.MarkSeen(ctx, event.ID, s.cfg.Retention)
	if err != nil {
		status := s.handleLookupError(ctx, "idempotence", err)
		if status == lookupErrorDeny {
			return event, false, errors.ErrPersistence.WithCause(err)
		}
		first = true
	}

	if !first {
		metrics.DuplicatesFilteredTotal.WithLabelValues("exact").Inc()
		return event, false, nil
	}

	if original, score, ok := s.findSimilar(ctx, event); ok {
		event.IsDuplicate = true
		event.DuplicateOfID = original.ID
		metrics.DuplicatesFilteredTotal.WithLabelValues("similar").Inc()
		s.logger.DebugwCtx(ctx, "Event flagged as content duplicate",
			"event_id", event.ID,
			"duplicate_of", original.ID,
			"score", score,
		)
	}

	s.mu.Lock()
	s.buffer = append(s.buffer, event)
	full := len(s.buffer) >= s.cfg.BatchSize
	s.mu.Unlock()

	if full {
		if err := s.Flush(ctx); err != nil {
			return event, true, err
		}
	}

	return event, true, nil
}

// findSimilar compares the event against recent stored events on the same
// platform and reports the best match at or above the threshold. Pending
// buffered events are compared too, so near-simultaneous twins do not slip
// past each other.
func (s *Store) findSimilar(ctx context.Context, event models.MonitoringEvent) (models.MonitoringEvent, float64, bool) {
	since := time.Now().Add(-s.cfg.SimilarityWindow)

	start := time.Now()
	candidates, err := s.repo.SimilarityCandidates(ctx, event.Platform, since, constants.SimilarityCandidateLimit)
	if err != nil {
		metrics.ObserveSimilarityLookup("error", time.Since(start))
		s.handleLookupError(ctx, "similarity", err)
		return models.MonitoringEvent{}, 0, false
	}
	metrics.ObserveSimilarityLookup("ok", time.Since(start))

	s.mu.Lock()
	pending := make([]models.MonitoringEvent, 0, len(s.buffer))
	for _, e := range s.buffer {
		if !e.IsDuplicate && e.Platform == event.Platform && !e.OccurredAt.Before(since) {
			pending = append(pending, e)
		}
	}
	s.mu.Unlock()

	tokens := eventTokens(event)

	var best models.MonitoringEvent
	var bestScore float64
	for _, candidate := range append(candidates, pending...) {
		if candidate.ID == event.ID {
			continue
		}
		score := jaccard(tokens, eventTokens(candidate))
		if score > bestScore {
			best = candidate
			bestScore = score
		}
	}

	if bestScore >= s.cfg.SimilarityThreshold {
		return best, bestScore, true
	}
	return models.MonitoringEvent{}, 0, false
}

func (s *Store) handleLookupError(ctx context.Context, component string, err error) lookupErrorStatus {
	if s.cfg.OnLookupError == constants.FallbackDeny {
		metrics.FallbackUsageTotal.WithLabelValues(component, "deny_on_error", err.Error()).Inc()
		return lookupErrorDeny
	}

	metrics.FallbackUsageTotal.WithLabelValues(component, "allow_on_error", err.Error()).Inc()
	s.logger.WarnwCtx(ctx, "Dedup lookup failed, allowing event through (fallback: allow)",
		"component", component,
		"error", err,
	)
	return lookupErrorAllow
}

// Flush writes the buffered events. A failed write is retried once; if the
// retry also fails the events go back to the front of the buffer and the
// error is surfaced.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := s.buffer
	s.buffer = make([]models.MonitoringEvent, 0, s.cfg.BatchSize)
	s.mu.Unlock()

	err := retry.Retry(ctx, retry.SingleRetryPolicy(), func() error {
		return s.repo.InsertEvents(ctx, batch)
	})

	if err != nil {
		s.mu.Lock()
		s.buffer = append(batch, s.buffer...)
		s.mu.Unlock()

		metrics.StoreFlushesTotal.WithLabelValues("error").Inc()
		metrics.StoreFlushFailuresTotal.Inc()
		s.logger.ErrorwCtx(ctx, "Batch flush failed after retry, events re-queued",
			"batch_size", len(batch),
			"error", err,
		)
		return err
	}

	metrics.StoreFlushesTotal.WithLabelValues("ok").Inc()
	metrics.StoreFlushSize.Observe(float64(len(batch)))
	return nil
}

func (s *Store) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := s.Flush(ctx); err != nil {
				s.logger.Errorw("Interval flush failed", "error", err)
			}
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) retentionLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			cutoff := time.Now().Add(-s.cfg.Retention)
			deleted, err := s.repo.DeleteEventsBefore(ctx, cutoff)
			cancel()
			if err != nil {
				s.logger.Errorw("Retention sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				s.logger.Infow("Retention sweep removed expired events",
					"deleted", deleted,
					"cutoff", cutoff,
				)
			}
		case <-s.stopCh:
			return
		}
	}
}

// Query reads events, always flushing first so callers see their own writes.
func (s *Store) Query(ctx context.Context, q EventQuery) ([]models.MonitoringEvent, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}

	if q.Limit <= 0 {
		q.Limit = constants.DefaultLimit
	}
	if q.Limit > constants.MaxLimit {
		q.Limit = constants.MaxLimit
	}

	start := time.Now()
	events, err := s.repo.QueryEvents(ctx, q)
	metrics.ObserveStoreQuery("events", time.Since(start))
	return events, err
}

// WindowEvents returns the non-duplicate events in [from, to), the read the
// rule engine evaluates over.
func (s *Store) WindowEvents(ctx context.Context, from, to time.Time) ([]models.MonitoringEvent, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	events, err := s.repo.QueryEvents(ctx, EventQuery{
		From:              from,
		To:                to,
		ExcludeDuplicates: true,
	})
	metrics.ObserveStoreQuery("window", time.Since(start))
	return events, err
}

func (s *Store) CountEvents(ctx context.Context, from, to time.Time) (int64, error) {
	if err := s.Flush(ctx); err != nil {
		return 0, err
	}
	return s.repo.CountEvents(ctx, from, to)
}

func (s *Store) AppendAlert(ctx context.Context, alert models.CrisisAlert) error {
	return s.repo.InsertAlert(ctx, alert)
}

func (s *Store) GetAlert(ctx context.Context, id string) (*models.CrisisAlert, error) {
	return s.repo.GetAlert(ctx, id)
}

func (s *Store) ActiveAlerts(ctx context.Context) ([]models.CrisisAlert, error) {
	start := time.Now()
	alerts, err := s.repo.ActiveAlerts(ctx)
	metrics.ObserveStoreQuery("active_alerts", time.Since(start))
	return alerts, err
}

// TransitionAlert moves an alert to the given status if the status machine
// allows it from the alert's current status.
func (s *Store) TransitionAlert(ctx context.Context, id string, to models.AlertStatus, actor string) (*models.CrisisAlert, error) {
	current, err := s.repo.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}

	if !models.CanTransition(current.Status, to) {
		return nil, errors.ErrInvalidTransition.WithDetail("message",
			"alert "+id+" is "+string(current.Status)+", cannot move to "+string(to))
	}

	return s.repo.TransitionAlert(ctx, id, current.Status, to, actor)
}

// BufferLen reports how many events are waiting for the next flush.
func (s *Store) BufferLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"crisiswatch/internal/broadcast"
	"crisiswatch/internal/broker"
	"crisiswatch/internal/config"
	"crisiswatch/internal/constants"
	"crisiswatch/internal/logger"
	"crisiswatch/internal/notify"
	"crisiswatch/internal/rules"
	"crisiswatch/internal/source"
	"crisiswatch/internal/store"
	"crisiswatch/pkg/errors"
	"crisiswatch/pkg/metrics"
	"crisiswatch/pkg/models"
)

// Orchestrator drives the pipeline: it polls sources on a schedule, funnels
// every ingest path through one processing routine, runs rule evaluation
// after each batch, and fans results out to the store, the hub, Kafka, and
// notifications. Start and Stop are idempotent.
type Orchestrator struct {
	cfg        config.IngestConfig
	store      *store.Store
	engine     *rules.Engine
	hub        *broadcast.Hub
	dispatcher *notify.Dispatcher
	producer   broker.Producer
	consumer   broker.Consumer
	sources    []source.Source
	topics     []string
	alertTopic string
	logger     logger.Logger

	cron    *cron.Cron
	cronID  cron.EntryID
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex

	cycleMu    sync.Mutex
	lastCycle  time.Time
	watermarks map[string]time.Time

	stats *pipelineStats
}

type Options struct {
	Store      *store.Store
	Engine     *rules.Engine
	Hub        *broadcast.Hub
	Dispatcher *notify.Dispatcher
	Producer   broker.Producer
	Consumer   broker.Consumer
	Sources    []source.Source
	Topics     []string
	AlertTopic string
}

func NewOrchestrator(cfg config.IngestConfig, opts Options, log logger.Logger) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.DefaultPollInterval
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = constants.DefaultPullTimeout
	}

	alertTopic := opts.AlertTopic
	if alertTopic == "" {
		alertTopic = constants.DefaultAlertsTopic
	}

	return &Orchestrator{
		cfg:        cfg,
		store:      opts.Store,
		engine:     opts.Engine,
		hub:        opts.Hub,
		dispatcher: opts.Dispatcher,
		producer:   opts.Producer,
		consumer:   opts.Consumer,
		sources:    opts.Sources,
		topics:     opts.Topics,
		alertTopic: alertTopic,
		logger:     log,
		cron:       cron.New(cron.WithSeconds()),
		watermarks: make(map[string]time.Time),
		stats:      newPipelineStats(),
	}
}

// Start probes every pull source and launches the poll schedule and the push
// consumers. If every source is unreachable the start fails outright; a
// partially degraded source set starts with a warning. Calling Start on a
// running orchestrator is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		o.logger.Warnw("Start called on a running orchestrator, ignoring")
		return nil
	}

	if len(o.sources) > 0 {
		healthy := 0
		for _, src := range o.sources {
			health := src.HealthCheck(ctx)
			if health.Healthy {
				healthy++
				continue
			}
			o.logger.Warnw("Source failed startup probe",
				"source", src.Name(),
				"message", health.Message,
			)
		}
		if healthy == 0 {
			return fmt.Errorf("all %d pull sources failed their startup probe", len(o.sources))
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel

	spec := fmt.Sprintf("@every %s", o.cfg.PollInterval)
	id, err := o.cron.AddFunc(spec, func() {
		o.pollCycle(runCtx)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to schedule poll cycle: %w", err)
	}
	o.cronID = id
	o.cron.Start()

	for _, topic := range o.topics {
		topic := topic
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.consumeTopic(runCtx, topic)
		}()
	}

	o.markCycle()
	o.running = true
	o.logger.Infow("Orchestrator started",
		"poll_interval", o.cfg.PollInterval,
		"pull_sources", len(o.sources),
		"push_topics", len(o.topics),
	)
	return nil
}

// Stop halts scheduling and waits for in-flight work. Safe to call twice.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return
	}

	o.cron.Remove(o.cronID)
	stopCtx := o.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}

	o.cancel()
	o.wg.Wait()

	if o.consumer != nil {
		if err := o.consumer.Close(); err != nil {
			o.logger.Errorw("Failed to close consumer", "error", err)
		}
	}

	o.running = false
	o.logger.Infow("Orchestrator stopped")
}

func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) markCycle() {
	o.cycleMu.Lock()
	o.lastCycle = time.Now()
	o.cycleMu.Unlock()
}

// LastCycle reports when a poll cycle last completed, feeding the liveness
// health check.
func (o *Orchestrator) LastCycle() time.Time {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()
	return o.lastCycle
}

// HealthCheck fails when the poll loop has missed several intervals in a
// row.
func (o *Orchestrator) HealthCheck(context.Context) error {
	if !o.Running() {
		return fmt.Errorf("orchestrator is not running")
	}

	grace := o.cfg.PollInterval * constants.HealthGraceMultiplier
	if elapsed := time.Since(o.LastCycle()); elapsed > grace {
		return fmt.Errorf("no ingest cycle for %s (grace %s)", elapsed.Truncate(time.Second), grace)
	}
	return nil
}

func (o *Orchestrator) watermark(sourceName string) time.Time {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	if wm, ok := o.watermarks[sourceName]; ok {
		return wm
	}
	wm := time.Now().Add(-o.cfg.PollInterval)
	o.watermarks[sourceName] = wm
	return wm
}

func (o *Orchestrator) advanceWatermark(sourceName string, to time.Time) {
	o.cycleMu.Lock()
	o.watermarks[sourceName] = to
	o.cycleMu.Unlock()
}

// pollCycle fetches from every pull source once. A failing source is logged
// and skipped; its watermark stays put so the next cycle retries the same
// range.
func (o *Orchestrator) pollCycle(ctx context.Context) {
	defer o.markCycle()

	for _, src := range o.sources {
		if ctx.Err() != nil {
			return
		}

		since := o.watermark(src.Name())
		fetchedAt := time.Now()

		fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.PullTimeout)
		events, err := src.FetchEvents(fetchCtx, since)
		cancel()

		if err != nil {
			metrics.IngestCyclesTotal.WithLabelValues(src.Name(), "error").Inc()
			o.logger.ErrorwCtx(ctx, "Source fetch failed, will retry next cycle",
				"source", src.Name(),
				"error", err,
			)
			continue
		}

		metrics.IngestCyclesTotal.WithLabelValues(src.Name(), "ok").Inc()
		o.advanceWatermark(src.Name(), fetchedAt)

		if len(events) == 0 {
			continue
		}

		if _, err := o.ProcessEvents(ctx, events); err != nil {
			o.logger.ErrorwCtx(ctx, "Failed to process fetched events",
				"source", src.Name(),
				"count", len(events),
				"error", err,
			)
		}
	}
}

func (o *Orchestrator) consumeTopic(ctx context.Context, topic string) {
	if o.consumer == nil {
		return
	}

	err := o.consumer.Consume(ctx, topic, func(ctx context.Context, event models.MonitoringEvent) error {
		_, err := o.ProcessEvents(ctx, []models.MonitoringEvent{event})
		return err
	})
	if err != nil && ctx.Err() == nil {
		o.logger.Errorw("Topic consumer exited",
			"topic", topic,
			"error", err,
		)
	}
}

// ProcessEvents is the single processing path every ingest surface feeds:
// validate, weight confidence by source trust, dedup via the store, then
// broadcast the survivors and run rule evaluation over the updated window.
func (o *Orchestrator) ProcessEvents(ctx context.Context, events []models.MonitoringEvent) (int, error) {
	start := time.Now()

	var stored []models.MonitoringEvent
	var crisis []models.MonitoringEvent
	var duplicates int

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return len(stored), err
		}

		if err := models.ValidateEvent(&event); err != nil {
			metrics.EventsProcessedTotal.WithLabelValues("invalid").Inc()
			o.logger.WarnwCtx(ctx, "Dropping invalid event",
				"event_id", event.ID,
				"source", event.SourceName,
				"error", err,
			)
			continue
		}

		event = o.applyTrustWeight(event)

		eventCtx := logger.WithEventID(ctx, event.ID)
		annotated, accepted, err := o.store.Append(eventCtx, event)
		if err != nil {
			metrics.EventsProcessedTotal.WithLabelValues("error").Inc()
			o.logger.ErrorwCtx(eventCtx, "Failed to append event", "error", err)
			continue
		}
		if !accepted {
			metrics.EventsProcessedTotal.WithLabelValues("duplicate").Inc()
			duplicates++
			continue
		}

		metrics.EventsProcessedTotal.WithLabelValues("accepted").Inc()
		stored = append(stored, annotated)

		if annotated.IsDuplicate {
			duplicates++
		} else if o.isCrisisRelevant(annotated) {
			crisis = append(crisis, annotated)
		}
	}

	if len(stored) > 0 {
		o.hub.PublishEvents(ctx, stored, crisis)
	}

	metrics.ObserveProcessingDuration("batch", time.Since(start))

	tallies := make([]acceptedEvent, 0, len(stored))
	for _, ev := range stored {
		tallies = append(tallies, acceptedEvent{
			sentiment: string(ev.Sentiment.Label),
			platform:  ev.Platform,
		})
	}
	o.stats.recordBatch(len(events), tallies, duplicates, time.Since(start))

	if len(stored) == 0 {
		return 0, nil
	}

	if err := o.evaluateRules(ctx, stored); err != nil {
		o.logger.ErrorwCtx(ctx, "Rule evaluation failed", "error", err)
	}

	return len(stored), nil
}

// applyTrustWeight scales sentiment confidence once by the per-source trust
// weight. Unknown sources keep their confidence untouched.
func (o *Orchestrator) applyTrustWeight(event models.MonitoringEvent) models.MonitoringEvent {
	weight, ok := o.cfg.SourceTrustWeights[event.SourceName]
	if !ok {
		return event
	}

	event.Sentiment.Confidence *= weight
	return event
}

// isCrisisRelevant decides whether an event belongs on the crisis-only feed:
// large reach or strongly negative sentiment.
func (o *Orchestrator) isCrisisRelevant(event models.MonitoringEvent) bool {
	reach := o.cfg.CrisisReach
	if reach <= 0 {
		reach = constants.DefaultViralReach
	}
	sentiment := o.cfg.CrisisSentiment
	if sentiment >= 0 {
		sentiment = constants.DefaultViralSentiment
	}

	return event.Metrics.Reach >= reach || event.Sentiment.Score <= sentiment
}

// evaluateRules runs the engine over the windows spanned by the accepted
// batch and handles each produced alert: durable first, then live fan-out,
// Kafka egress, and notifications.
func (o *Orchestrator) evaluateRules(ctx context.Context, accepted []models.MonitoringEvent) error {
	alerts, err := o.engine.Evaluate(ctx, time.Now(), accepted)
	if err != nil {
		return err
	}

	var fired int
	for _, alert := range alerts {
		alertCtx := logger.WithAlertID(ctx, alert.ID)

		if err := o.store.AppendAlert(alertCtx, alert); err != nil {
			o.logger.ErrorwCtx(alertCtx, "Failed to persist alert, skipping fan-out",
				"error", err,
			)
			continue
		}

		o.hub.PublishAlert(alertCtx, alert)

		if o.producer != nil {
			if err := o.producer.Publish(alertCtx, o.alertTopic, alert.ID, alert); err != nil {
				o.logger.ErrorwCtx(alertCtx, "Failed to publish alert to broker",
					"topic", o.alertTopic,
					"error", err,
				)
			}
		}

		if o.dispatcher != nil {
			o.dispatcher.Dispatch(alertCtx, alert)
		}

		fired++
		o.logger.InfowCtx(alertCtx, "Alert created",
			"type", alert.Type,
			"severity", alert.Severity,
			"title", alert.Title,
		)
	}
	o.stats.recordAlerts(fired)

	return nil
}

// AcknowledgeAlert moves an alert to acknowledged and announces the change.
func (o *Orchestrator) AcknowledgeAlert(ctx context.Context, id, actor string) (*models.CrisisAlert, error) {
	return o.transitionAlert(ctx, id, models.AlertStatusAcknowledged, actor)
}

// ResolveAlert moves an alert to resolved and announces the change.
func (o *Orchestrator) ResolveAlert(ctx context.Context, id, actor string) (*models.CrisisAlert, error) {
	return o.transitionAlert(ctx, id, models.AlertStatusResolved, actor)
}

func (o *Orchestrator) transitionAlert(ctx context.Context, id string, to models.AlertStatus, actor string) (*models.CrisisAlert, error) {
	alert, err := o.store.TransitionAlert(ctx, id, to, actor)
	if err != nil {
		return nil, err
	}

	o.hub.PublishAlertUpdate(ctx, models.AlertUpdate{
		AlertID:   alert.ID,
		Status:    alert.Status,
		Actor:     actor,
		UpdatedAt: alert.UpdatedAt,
	})

	o.logger.InfowCtx(logger.WithAlertID(ctx, id), "Alert status changed",
		"status", alert.Status,
		"actor", actor,
	)
	return alert, nil
}

// MetricsSnapshot is the periodic pipeline summary pushed on the metrics
// channel and served over the API.
type MetricsSnapshot struct {
	Timestamp             time.Time             `json:"timestamp"`
	EventsProcessedTotal  int64                 `json:"events_processed_total"`
	EventsPerMinute       float64               `json:"events_per_minute"`
	AlertsGenerated       int64                 `json:"alerts_generated"`
	DuplicatesFiltered    int64                 `json:"duplicates_filtered"`
	ProcessingLatencyMs   float64               `json:"processing_latency_ms"`
	SentimentDistribution map[string]int64      `json:"sentiment_distribution"`
	PlatformDistribution  map[string]int64      `json:"platform_distribution"`
	EventsBuffered        int                   `json:"events_buffered"`
	ActiveAlerts          int                   `json:"active_alerts"`
	Subscribers           int                   `json:"subscribers"`
	LastCycleAt           time.Time             `json:"last_cycle_at"`
	Sources               []source.SourceHealth `json:"sources,omitempty"`
}

// GetMetrics assembles a pipeline snapshot. Source probes run with the
// caller's context and can make this call slow; the metrics ticker bounds
// it.
func (o *Orchestrator) GetMetrics(ctx context.Context) (MetricsSnapshot, error) {
	active, err := o.store.ActiveAlerts(ctx)
	if err != nil {
		return MetricsSnapshot{}, errors.ErrPersistence.WithCause(err)
	}

	snapshot := MetricsSnapshot{
		Timestamp:      time.Now(),
		EventsBuffered: o.store.BufferLen(),
		ActiveAlerts:   len(active),
		Subscribers:    o.hub.SubscriberCount(),
		LastCycleAt:    o.LastCycle(),
	}
	o.stats.fill(&snapshot)

	for _, src := range o.sources {
		snapshot.Sources = append(snapshot.Sources, src.HealthCheck(ctx))
	}

	return snapshot, nil
}

// StartMetricsPublisher pushes a snapshot onto the metrics channel on every
// interval until the context ends.
func (o *Orchestrator) StartMetricsPublisher(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = constants.DefaultHeartbeatPeriod
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snapCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			snapshot, err := o.GetMetrics(snapCtx)
			cancel()
			if err != nil {
				o.logger.ErrorwCtx(ctx, "Failed to assemble metrics snapshot", "error", err)
				continue
			}
			o.hub.Publish(models.NewMetricMessage(constants.ChannelMetrics, snapshot))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

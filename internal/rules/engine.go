package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/uuid"

	"crisiswatch/internal/config"
	"crisiswatch/internal/constants"
	"crisiswatch/internal/logger"
	"crisiswatch/pkg/cel"
	"crisiswatch/pkg/metrics"
	"crisiswatch/pkg/models"
)

// EventSource is the slice of the event store the engine reads windows from.
type EventSource interface {
	WindowEvents(ctx context.Context, from, to time.Time) ([]models.MonitoringEvent, error)
}

type compiledRule struct {
	models.AlertRule
	program celgo.Program
}

// Engine evaluates the active rule set against sliding windows of events and
// synthesizes alerts. Rules live in Postgres and are reloaded on an
// interval; custom rules are compiled once per load.
type Engine struct {
	repo      Repository
	source    EventSource
	baseline  *Baseline
	evaluator *cel.Evaluator
	cfg       config.RulesConfig
	logger    logger.Logger

	rulesMu sync.RWMutex
	rules   []compiledRule

	cooldownMu sync.Mutex
	lastFired  map[string]time.Time
}

func NewEngine(repo Repository, source EventSource, baseline *Baseline, cfg config.RulesConfig, log logger.Logger) (*Engine, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	if cfg.WindowLength <= 0 {
		cfg.WindowLength = constants.DefaultWindowLength
	}
	if cfg.WindowStep <= 0 {
		cfg.WindowStep = constants.DefaultWindowStep
	}

	return &Engine{
		repo:      repo,
		source:    source,
		baseline:  baseline,
		evaluator: evaluator,
		cfg:       cfg,
		logger:    log,
		lastFired: make(map[string]time.Time),
	}, nil
}

func (e *Engine) WindowStep() time.Duration {
	return e.cfg.WindowStep
}

// ReloadRules replaces the active rule set from the repository. A custom
// rule whose expression does not compile is skipped with an error log; one
// broken rule must not take down the rest.
func (e *Engine) ReloadRules(ctx context.Context) error {
	loaded, err := e.repo.GetActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	compiled := make([]compiledRule, 0, len(loaded))
	for _, rule := range loaded {
		cr := compiledRule{AlertRule: rule}
		if rule.Type == models.AlertTypeCustom {
			program, err := e.evaluator.CompileRule(rule.Expression)
			if err != nil {
				e.logger.ErrorwCtx(ctx, "Skipping custom rule with invalid expression",
					"rule_id", rule.ID,
					"rule_name", rule.Name,
					"error", err,
				)
				continue
			}
			cr.program = program
		}
		compiled = append(compiled, cr)
	}

	e.rulesMu.Lock()
	e.rules = compiled
	e.rulesMu.Unlock()

	metrics.SetActiveRules(len(compiled))
	e.logger.InfowCtx(ctx, "Successfully reloaded rules",
		"rules_count", len(compiled),
	)
	return nil
}

func (e *Engine) activeRules() []compiledRule {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()

	rules := make([]compiledRule, len(e.rules))
	copy(rules, e.rules)
	return rules
}

// StartReloader reloads rules on the configured interval until the context
// ends.
func (e *Engine) StartReloader(ctx context.Context) error {
	interval := e.cfg.ReloadInterval
	if interval <= 0 {
		interval = time.Minute
	}

	if err := e.ReloadRules(ctx); err != nil {
		e.logger.ErrorwCtx(ctx, "Failed to reload rules", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.ReloadRules(ctx); err != nil {
				e.logger.ErrorwCtx(ctx, "Failed to reload rules", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// A pathological batch span is capped at its most recent windows so one
// oversized backfill cannot turn into an unbounded run of store reads.
const maxWindowsPerBatch = 96

// Evaluate partitions the batch's timestamp span into overlapping sliding
// windows and runs every active rule over each. Windows follow event
// timestamps, not the wall clock, so a backfilled batch is analyzed in the
// windows its events actually occurred in; each window read pulls in the
// already-stored neighbors of the batch. Rule failures are isolated; one
// panicking or erroring predicate never blocks the others. Cooldowns are
// checked against now, so a rule fires at most once per call even when
// several overlapping windows qualify.
func (e *Engine) Evaluate(ctx context.Context, now time.Time, batch []models.MonitoringEvent) ([]models.CrisisAlert, error) {
	windows := e.batchWindows(batch)
	if len(windows) == 0 {
		return nil, nil
	}

	rules := e.activeRules()

	var alerts []models.CrisisAlert
	for _, window := range windows {
		events, err := e.source.WindowEvents(ctx, window.Start, window.End)
		if err != nil {
			return alerts, fmt.Errorf("failed to read evaluation window: %w", err)
		}
		if len(events) == 0 {
			continue
		}

		input := predicateInput{
			window: window,
			events: events,
			stats:  ComputeStats(events),
		}
		if e.baseline != nil {
			if rate, known := e.baseline.Rate(); known {
				input.baseline = rate
			}
		}

		for _, rule := range rules {
			if err := ctx.Err(); err != nil {
				return alerts, err
			}

			finding, err := e.evaluateRule(ctx, rule, input)
			if err != nil {
				metrics.RuleEvaluationsTotal.WithLabelValues(rule.ID, string(rule.Type), "error").Inc()
				metrics.RuleEvaluationErrorsTotal.WithLabelValues(rule.ID, string(rule.Type)).Inc()
				e.logger.ErrorwCtx(ctx, "Rule evaluation failed, continuing with remaining rules",
					"rule_id", rule.ID,
					"rule_name", rule.Name,
					"error", err,
				)
				continue
			}

			if finding == nil {
				metrics.RuleEvaluationsTotal.WithLabelValues(rule.ID, string(rule.Type), "quiet").Inc()
				continue
			}

			if suppressed := e.inCooldown(rule.AlertRule, now); suppressed {
				metrics.RuleEvaluationsTotal.WithLabelValues(rule.ID, string(rule.Type), "suppressed").Inc()
				metrics.CooldownSuppressionsTotal.WithLabelValues(rule.ID).Inc()
				e.logger.DebugwCtx(ctx, "Rule firing suppressed by cooldown",
					"rule_id", rule.ID,
					"rule_name", rule.Name,
				)
				continue
			}

			alert := e.buildAlert(rule.AlertRule, *finding, input, now)
			alerts = append(alerts, alert)

			metrics.RuleEvaluationsTotal.WithLabelValues(rule.ID, string(rule.Type), "fired").Inc()
			metrics.AlertsGeneratedTotal.WithLabelValues(string(rule.Type), string(alert.Severity)).Inc()
		}
	}

	return alerts, nil
}

// batchWindows lays sliding windows of WindowLength over the batch's
// timestamp span, one start every WindowStep. Starts are truncated to the
// step so window boundaries are stable across batches; an event at exactly
// start+length belongs to the window after it. Flagged duplicates do not
// extend the span.
func (e *Engine) batchWindows(batch []models.MonitoringEvent) []Window {
	var minTs, maxTs time.Time
	for _, ev := range batch {
		if ev.IsDuplicate {
			continue
		}
		if minTs.IsZero() || ev.OccurredAt.Before(minTs) {
			minTs = ev.OccurredAt
		}
		if ev.OccurredAt.After(maxTs) {
			maxTs = ev.OccurredAt
		}
	}
	if minTs.IsZero() {
		return nil
	}

	var windows []Window
	for start := minTs.Truncate(e.cfg.WindowStep); !start.After(maxTs); start = start.Add(e.cfg.WindowStep) {
		windows = append(windows, Window{Start: start, End: start.Add(e.cfg.WindowLength)})
	}

	if len(windows) > maxWindowsPerBatch {
		windows = windows[len(windows)-maxWindowsPerBatch:]
	}
	return windows
}

func (e *Engine) evaluateRule(ctx context.Context, rule compiledRule, input predicateInput) (finding *Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			finding = nil
			err = fmt.Errorf("rule predicate panicked: %v", r)
		}
	}()

	switch rule.Type {
	case models.AlertTypeVolumeSpike:
		return evaluateVolumeSpike(rule.AlertRule, input), nil
	case models.AlertTypeSentimentDrop:
		return evaluateSentimentDrop(rule.AlertRule, input), nil
	case models.AlertTypeViralNegative:
		return evaluateViralNegative(rule.AlertRule, input), nil
	case models.AlertTypeNegativeTrend:
		return evaluateNegativeTrend(rule.AlertRule, input), nil
	case models.AlertTypeCustom:
		return e.evaluateCustom(ctx, rule, input)
	default:
		return nil, fmt.Errorf("unknown rule type: %s", rule.Type)
	}
}

func (e *Engine) evaluateCustom(ctx context.Context, rule compiledRule, input predicateInput) (*Finding, error) {
	if rule.program == nil {
		return nil, fmt.Errorf("custom rule %s has no compiled program", rule.ID)
	}

	matched, err := e.evaluator.EvaluateRule(ctx, rule.program, input.stats.CELStats(input.window))
	if err != nil {
		return nil, err
	}
	if !matched {
		return nil, nil
	}

	return &Finding{
		Observed:    1,
		Threshold:   1,
		Ratio:       1,
		Description: fmt.Sprintf("expression matched: %s", rule.Expression),
		Conditions: map[string]interface{}{
			"expression": rule.Expression,
			"count":      input.stats.Count,
		},
	}, nil
}

// inCooldown reports and records whether the rule may fire at now. The
// check-and-set is one critical section so two overlapping evaluations
// cannot both claim the same cooldown slot.
func (e *Engine) inCooldown(rule models.AlertRule, now time.Time) bool {
	if rule.Cooldown() <= 0 {
		return false
	}

	e.cooldownMu.Lock()
	defer e.cooldownMu.Unlock()

	if last, ok := e.lastFired[rule.ID]; ok && now.Sub(last) < rule.Cooldown() {
		return true
	}
	e.lastFired[rule.ID] = now
	return false
}

func (e *Engine) buildAlert(rule models.AlertRule, finding Finding, input predicateInput, now time.Time) models.CrisisAlert {
	// Only the baseline-scaled rule bands severity by how far the window
	// overshot; the other builtins and custom rules carry their configured
	// severity unchanged.
	severity := rule.Severity
	if rule.Type == models.AlertTypeVolumeSpike {
		severity = severityForRatio(rule.Severity, finding.Ratio)
	}

	conditions := make(map[string]interface{}, len(finding.Conditions)+5)
	for k, v := range finding.Conditions {
		conditions[k] = v
	}
	conditions["window_start"] = input.window.Start
	conditions["window_end"] = input.window.End
	conditions["ratio"] = finding.Ratio
	conditions["rule_id"] = rule.ID
	conditions["weighted_mean_sentiment"] = input.stats.WeightedMeanSentiment

	return models.CrisisAlert{
		ID:                uuid.NewString(),
		Severity:          severity,
		Type:              rule.Type,
		Title:             rule.Name,
		Description:       finding.Description,
		TriggerEventIDs:   topEventIDs(input.events, 5),
		TriggerConditions: conditions,
		CreatedAt:         now.UTC(),
		UpdatedAt:         now.UTC(),
		Status:            models.AlertStatusActive,
		Escalated:         severity == models.SeverityCritical,
		AffectedKeywords:  distinctKeywords(input.events, 10),
		AffectedPlatforms: distinctPlatforms(input.events),
		EstimatedReach:    input.stats.TotalReach,
	}
}

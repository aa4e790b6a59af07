package rules

import (
	"fmt"

	"crisiswatch/internal/constants"
	"crisiswatch/pkg/models"
)

// predicateInput is everything a built-in predicate may look at: the window,
// its events and aggregates, and the baseline event rate per window. A
// baseline of zero or less means not yet warmed up.
type predicateInput struct {
	window   Window
	events   []models.MonitoringEvent
	stats    WindowStats
	baseline float64
}

// evaluateVolumeSpike fires when the window count clears the absolute floor
// and, once a baseline exists, the spike multiplier over it. The floor is
// exclusive: exactly floor events is quiet, floor+1 is not.
func evaluateVolumeSpike(rule models.AlertRule, in predicateInput) *Finding {
	floor := rule.Param("volume_floor", constants.DefaultVolumeFloor)
	multiplier := rule.Param("spike_multiplier", constants.DefaultSpikeMultiplier)

	count := float64(in.stats.Count)
	if count <= floor {
		return nil
	}

	threshold := floor
	if in.baseline > 0 {
		scaled := in.baseline * multiplier
		if scaled > threshold {
			threshold = scaled
		}
		if count < scaled {
			return nil
		}
	}

	return &Finding{
		Observed:  count,
		Threshold: threshold,
		Ratio:     count / threshold,
		Description: fmt.Sprintf("%d events in the last %s, against a threshold of %.0f",
			in.stats.Count, in.window.Length(), threshold),
		Conditions: map[string]interface{}{
			"count":            in.stats.Count,
			"volume_floor":     floor,
			"spike_multiplier": multiplier,
			"baseline":         in.baseline,
		},
	}
}

// evaluateSentimentDrop fires when the reach/confidence-weighted mean
// sentiment falls below the threshold with at least the floor's worth of
// events behind it. Thin windows are ignored so a single angry post cannot
// drag the mean into alert territory.
func evaluateSentimentDrop(rule models.AlertRule, in predicateInput) *Finding {
	threshold := rule.Param("sentiment_threshold", constants.DefaultSentimentThreshold)
	floor := rule.Param("volume_floor", constants.DefaultSentimentFloor)

	if float64(in.stats.Count) < floor {
		return nil
	}
	if in.stats.WeightedMeanSentiment >= threshold {
		return nil
	}

	return &Finding{
		Observed:  in.stats.WeightedMeanSentiment,
		Threshold: threshold,
		Ratio:     in.stats.WeightedMeanSentiment / threshold,
		Description: fmt.Sprintf("weighted mean sentiment %.2f across %d events, below the %.2f threshold",
			in.stats.WeightedMeanSentiment, in.stats.Count, threshold),
		Conditions: map[string]interface{}{
			"weighted_mean_sentiment": in.stats.WeightedMeanSentiment,
			"sentiment_threshold":     threshold,
			"count":                   in.stats.Count,
		},
	}
}

// evaluateViralNegative fires on a single strongly negative event with large
// reach. The verdict scales with the loudest qualifying event.
func evaluateViralNegative(rule models.AlertRule, in predicateInput) *Finding {
	sentimentThreshold := rule.Param("sentiment_threshold", constants.DefaultViralSentiment)
	reachThreshold := rule.Param("reach_threshold", constants.DefaultViralReach)

	var worst *models.MonitoringEvent
	for i := range in.events {
		e := &in.events[i]
		if e.Sentiment.Score >= sentimentThreshold {
			continue
		}
		if float64(e.Metrics.Reach) <= reachThreshold {
			continue
		}
		if worst == nil || e.Metrics.Reach > worst.Metrics.Reach {
			worst = e
		}
	}

	if worst == nil {
		return nil
	}

	return &Finding{
		Observed:  float64(worst.Metrics.Reach),
		Threshold: reachThreshold,
		Ratio:     float64(worst.Metrics.Reach) / reachThreshold,
		Description: fmt.Sprintf("event %s has sentiment %.2f with reach %d",
			worst.ID, worst.Sentiment.Score, worst.Metrics.Reach),
		Conditions: map[string]interface{}{
			"event_id":            worst.ID,
			"sentiment":           worst.Sentiment.Score,
			"reach":               worst.Metrics.Reach,
			"sentiment_threshold": sentimentThreshold,
			"reach_threshold":     reachThreshold,
		},
	}
}

// evaluateNegativeTrend splits the window chronologically in half and fires
// when the second half's mean sentiment sits at least delta below the first
// half's. Both halves must be populated to say anything.
func evaluateNegativeTrend(rule models.AlertRule, in predicateInput) *Finding {
	delta := rule.Param("trend_delta", constants.DefaultTrendDelta)
	floor := rule.Param("volume_floor", constants.DefaultSentimentFloor)

	if float64(in.stats.Count) < floor {
		return nil
	}

	firstHalf := Window{Start: in.window.Start, End: in.window.Start.Add(in.window.Length() / 2)}

	var first, second []models.MonitoringEvent
	for _, e := range in.events {
		if firstHalf.Contains(e.OccurredAt) {
			first = append(first, e)
		} else {
			second = append(second, e)
		}
	}
	if len(first) == 0 || len(second) == 0 {
		return nil
	}

	firstStats := ComputeStats(first)
	secondStats := ComputeStats(second)

	observed := firstStats.MeanSentiment - secondStats.MeanSentiment
	if observed < delta {
		return nil
	}

	return &Finding{
		Observed:  observed,
		Threshold: delta,
		Ratio:     observed / delta,
		Description: fmt.Sprintf("mean sentiment fell from %.2f to %.2f within the window",
			firstStats.MeanSentiment, secondStats.MeanSentiment),
		Conditions: map[string]interface{}{
			"first_half_mean":  firstStats.MeanSentiment,
			"second_half_mean": secondStats.MeanSentiment,
			"trend_delta":      delta,
		},
	}
}

// severityForRatio bands a finding's ratio into a severity, never below the
// rule's configured severity.
func severityForRatio(base models.AlertSeverity, ratio float64) models.AlertSeverity {
	var banded models.AlertSeverity
	switch {
	case ratio >= 3:
		banded = models.SeverityCritical
	case ratio >= 2:
		banded = models.SeverityHigh
	case ratio >= 1.5:
		banded = models.SeverityMedium
	default:
		banded = models.SeverityLow
	}

	if severityRank(banded) < severityRank(base) {
		return base
	}
	return banded
}

func severityRank(s models.AlertSeverity) int {
	switch s {
	case models.SeverityLow:
		return 0
	case models.SeverityMedium:
		return 1
	case models.SeverityHigh:
		return 2
	case models.SeverityCritical:
		return 3
	}
	return 0
}

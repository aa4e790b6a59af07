package rules

import (
	"sort"
	"time"

	"crisiswatch/pkg/cel"
	"crisiswatch/pkg/models"
)

// Window is a half-open evaluation interval [Start, End). An event at End
// belongs to the next window.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) Length() time.Duration {
	return w.End.Sub(w.Start)
}

// WindowStats are the aggregates computed once per window and shared by all
// rule predicates.
type WindowStats struct {
	Count                 int
	TotalReach            int64
	MaxReach              int64
	MeanSentiment         float64
	WeightedMeanSentiment float64
	MinSentiment          float64
	NegativeShare         float64
}

// ComputeStats aggregates a window of events. Events flagged as duplicates
// are assumed to be filtered out already.
//
// The weighted mean weighs each score by reach and confidence: a viral post
// moves it far more than a quiet one, and a low-confidence score counts for
// less. An event with no reach still carries a weight of one.
func ComputeStats(events []models.MonitoringEvent) WindowStats {
	stats := WindowStats{}
	if len(events) == 0 {
		return stats
	}

	stats.Count = len(events)
	stats.MinSentiment = events[0].Sentiment.Score

	var sentimentSum float64
	var weightedSum, weightTotal float64
	var negative int
	for _, e := range events {
		stats.TotalReach += e.Metrics.Reach
		if e.Metrics.Reach > stats.MaxReach {
			stats.MaxReach = e.Metrics.Reach
		}
		sentimentSum += e.Sentiment.Score
		if e.Sentiment.Score < stats.MinSentiment {
			stats.MinSentiment = e.Sentiment.Score
		}
		if e.Sentiment.Score < 0 {
			negative++
		}

		weight := float64(e.Metrics.Reach)
		if weight < 1 {
			weight = 1
		}
		if e.Sentiment.Confidence > 0 {
			weight *= e.Sentiment.Confidence
		}
		weightedSum += e.Sentiment.Score * weight
		weightTotal += weight
	}

	stats.MeanSentiment = sentimentSum / float64(len(events))
	stats.WeightedMeanSentiment = weightedSum / weightTotal
	stats.NegativeShare = float64(negative) / float64(len(events))
	return stats
}

// CELStats converts window aggregates into the variable environment custom
// rule expressions evaluate against.
func (s WindowStats) CELStats(window Window) cel.WindowStats {
	return cel.WindowStats{
		Count:                 int64(s.Count),
		TotalReach:            s.TotalReach,
		MaxReach:              s.MaxReach,
		MeanSentiment:         s.MeanSentiment,
		WeightedMeanSentiment: s.WeightedMeanSentiment,
		MinSentiment:          s.MinSentiment,
		NegativeShare:         s.NegativeShare,
		WindowMillis:          window.Length().Milliseconds(),
	}
}

// Finding is a rule predicate's positive verdict before it becomes an alert.
// Ratio expresses how far past the threshold the window landed and drives
// severity banding.
type Finding struct {
	Observed    float64
	Threshold   float64
	Ratio       float64
	Description string
	Conditions  map[string]interface{}
}

// topEventIDs returns up to n event IDs ordered by reach, the events most
// responsible for the window's profile.
func topEventIDs(events []models.MonitoringEvent, n int) []string {
	sorted := make([]models.MonitoringEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Metrics.Reach > sorted[j].Metrics.Reach
	})

	if len(sorted) > n {
		sorted = sorted[:n]
	}

	ids := make([]string, len(sorted))
	for i, e := range sorted {
		ids[i] = e.ID
	}
	return ids
}

func distinctPlatforms(events []models.MonitoringEvent) []string {
	seen := make(map[string]struct{})
	var platforms []string
	for _, e := range events {
		if e.Platform == "" {
			continue
		}
		if _, ok := seen[e.Platform]; ok {
			continue
		}
		seen[e.Platform] = struct{}{}
		platforms = append(platforms, e.Platform)
	}
	sort.Strings(platforms)
	return platforms
}

func distinctKeywords(events []models.MonitoringEvent, limit int) []string {
	counts := make(map[string]int)
	for _, e := range events {
		for _, k := range e.Keywords {
			counts[k]++
		}
	}

	keywords := make([]string, 0, len(counts))
	for k := range counts {
		keywords = append(keywords, k)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})

	if len(keywords) > limit {
		keywords = keywords[:limit]
	}
	return keywords
}

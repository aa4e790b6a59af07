package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"crisiswatch/pkg/errors"
	"crisiswatch/pkg/models"
)

// MemoryRepository is an in-process Repository used by unit tests and by
// single-node dev deployments that run without MongoDB.
type MemoryRepository struct {
	mu     sync.RWMutex
	events map[string]models.MonitoringEvent
	alerts map[string]models.CrisisAlert
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		events: make(map[string]models.MonitoringEvent),
		alerts: make(map[string]models.CrisisAlert),
	}
}

func (r *MemoryRepository) InsertEvents(_ context.Context, events []models.MonitoringEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range events {
		if _, exists := r.events[e.ID]; exists {
			continue
		}
		r.events[e.ID] = e
	}
	return nil
}

func (r *MemoryRepository) QueryEvents(_ context.Context, q EventQuery) ([]models.MonitoringEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []models.MonitoringEvent
	for _, e := range r.events {
		if !q.From.IsZero() && e.OccurredAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !e.OccurredAt.Before(q.To) {
			continue
		}
		if q.Platform != "" && e.Platform != q.Platform {
			continue
		}
		if q.EventType != "" && e.EventType != q.EventType {
			continue
		}
		if q.ExcludeDuplicates && e.IsDuplicate {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].OccurredAt.After(result[j].OccurredAt)
	})

	if q.Limit > 0 && int64(len(result)) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (r *MemoryRepository) CountEvents(_ context.Context, from, to time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, e := range r.events {
		if e.IsDuplicate {
			continue
		}
		if e.OccurredAt.Before(from) || !e.OccurredAt.Before(to) {
			continue
		}
		count++
	}
	return count, nil
}

func (r *MemoryRepository) SimilarityCandidates(_ context.Context, platform string, since time.Time, limit int64) ([]models.MonitoringEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []models.MonitoringEvent
	for _, e := range r.events {
		if e.IsDuplicate || e.Platform != platform || e.OccurredAt.Before(since) {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].OccurredAt.After(result[j].OccurredAt)
	})

	if limit > 0 && int64(len(result)) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *MemoryRepository) DeleteEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, e := range r.events {
		if e.OccurredAt.Before(cutoff) {
			delete(r.events, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *MemoryRepository) InsertAlert(_ context.Context, alert models.CrisisAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.alerts[alert.ID] = alert
	return nil
}

func (r *MemoryRepository) GetAlert(_ context.Context, id string) (*models.CrisisAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	alert, ok := r.alerts[id]
	if !ok {
		return nil, errors.ErrNotFound.WithDetail("message", fmt.Sprintf("alert %s not found", id))
	}
	return &alert, nil
}

func (r *MemoryRepository) ActiveAlerts(_ context.Context) ([]models.CrisisAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []models.CrisisAlert
	for _, a := range r.alerts {
		if a.Status == models.AlertStatusActive || a.Status == models.AlertStatusAcknowledged {
			result = append(result, a)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *MemoryRepository) TransitionAlert(_ context.Context, id string, from, to models.AlertStatus, actor string) (*models.CrisisAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	alert, ok := r.alerts[id]
	if !ok {
		return nil, errors.ErrNotFound.WithDetail("message", fmt.Sprintf("alert %s not found", id))
	}
	if alert.Status != from {
		return nil, errors.ErrInvalidTransition.WithDetail("message",
			fmt.Sprintf("alert %s is %s, cannot move %s -> %s", id, alert.Status, from, to))
	}

	alert.Status = to
	alert.UpdatedAt = time.Now().UTC()
	switch to {
	case models.AlertStatusAcknowledged:
		alert.AcknowledgedBy = actor
	case models.AlertStatusResolved:
		alert.ResolvedBy = actor
	}

	r.alerts[id] = alert
	return &alert, nil
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"crisiswatch/internal/config"
	"crisiswatch/pkg/circuitbreaker"
	"crisiswatch/pkg/models"
)

// CircuitBreakerRepository guards the similarity candidate lookup, the one
// repository call on the per-event hot path. With the breaker open the
// lookup fails fast and the store's fallback policy decides whether events
// pass through unchecked. All other calls delegate straight through.
type CircuitBreakerRepository struct {
	Repository
	cb *circuitbreaker.Wrapper
}

func NewCircuitBreakerRepository(repo Repository, cfg config.CircuitBreakerConfig) *CircuitBreakerRepository {
	if !cfg.Enabled {
		return &CircuitBreakerRepository{Repository: repo}
	}

	cbConfig := circuitbreaker.DefaultConfig("store-similarity")
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		}
	}

	return &CircuitBreakerRepository{
		Repository: repo,
		cb:         circuitbreaker.NewWrapper(cbConfig),
	}
}

func (r *CircuitBreakerRepository) SimilarityCandidates(ctx context.Context, platform string, since time.Time, limit int64) ([]models.MonitoringEvent, error) {
	if r.cb == nil {
		return r.Repository.SimilarityCandidates(ctx, platform, since, limit)
	}

	result, err := r.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return r.Repository.SimilarityCandidates(ctx, platform, since, limit)
	})

	r.cb.RecordRequest(err == nil)

	if err != nil {
		if r.cb.IsOpen() {
			return nil, fmt.Errorf("circuit breaker is open for store-similarity: %w", err)
		}
		return nil, err
	}

	events, ok := result.([]models.MonitoringEvent)
	if !ok {
		return nil, fmt.Errorf("repository returned invalid result type")
	}

	return events, nil
}

func (r *CircuitBreakerRepository) State() string {
	if r.cb == nil {
		return "disabled"
	}
	return r.cb.State().String()
}

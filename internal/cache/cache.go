package cache

import (
	"context"
	"time"

	"boutiquepos/backend/internal/domain"
)

// SummaryCache holds the daily sales summary, which the dashboard polls far
// more often than sales commit. Invalidation happens on every committed sale
// or void for the affected date.
type SummaryCache interface {
	Get(ctx context.Context, date string) (*domain.DailySummary, bool, error)
	Set(ctx context.Context, date string, value *domain.DailySummary, ttl time.Duration) error
	Invalidate(ctx context.Context, date string) error
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (*domain.DailySummary, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ *domain.DailySummary, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

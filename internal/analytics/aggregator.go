package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/iago/analytics-audio-reports/internal/domain"
	"github.com/iago/analytics-audio-reports/internal/policy"
)

var ErrNoCategories = errors.New("no analytics categories requested")

// Aggregator fans a report request out to every selected category and
// collects partial results.
type Aggregator struct {
	source Source
	logger zerolog.Logger
	now    func() time.Time
}

func NewAggregator(source Source, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		source: source,
		logger: logger.With().Str("component", "aggregator").Logger(),
		now:    time.Now,
	}
}

// Aggregate fetches the categories selected by the request's focus area.
func (a *Aggregator) Aggregate(ctx context.Context, req domain.ReportRequest) (domain.ReportSnapshot, error) {
	return a.AggregateCategories(ctx, req.TimeRange, req.FocusArea.Categories(req.IncludeAssetList))
}

// AggregateCategories runs one fetch per category concurrently. A failing or
// panicking fetch becomes a failed result and never cancels its siblings.
// Results keep the order of categories.
func (a *Aggregator) AggregateCategories(
	ctx context.Context,
	requested *domain.TimeRange,
	categories []domain.Category,
) (domain.ReportSnapshot, error) {
	if len(categories) == 0 {
		return domain.ReportSnapshot{}, ErrNoCategories
	}

	results := make([]domain.CategoryResult, len(categories))
	var group errgroup.Group
	for i, category := range categories {
		group.Go(func() error {
			results[i] = a.fetchOne(ctx, requested, category)
			return nil
		})
	}
	_ = group.Wait()

	snapshot := domain.ReportSnapshot{
		Results:   results,
		TimeRange: a.resolveTimeRange(results, requested),
	}
	a.logger.Debug().
		Int("categories", len(results)).
		Int("succeeded", snapshot.Succeeded()).
		Msg("analytics fan-out finished")
	return snapshot, nil
}

func (a *Aggregator) fetchOne(
	ctx context.Context,
	requested *domain.TimeRange,
	category domain.Category,
) (result domain.CategoryResult) {
	result.Category = category
	defer func() {
		if recovered := recover(); recovered != nil {
			result.Payload = nil
			result.Failure = fmt.Sprintf("fetch panicked: %v", recovered)
			a.logger.Error().Str("category", string(category)).Interface("panic", recovered).Msg("analytics fetch panicked")
		}
	}()

	payload, err := a.source.Fetch(ctx, category, requested)
	if err != nil {
		result.Failure = policy.SanitizeError(err)
		a.logger.Warn().Str("category", string(category)).Str("error", result.Failure).Msg("analytics fetch failed")
		return result
	}
	if payload == nil {
		result.Failure = "empty response"
		return result
	}
	result.Payload = payload
	return result
}

// resolveTimeRange prefers the first successful result that echoed a valid
// range, then the requested range, then the last 24 hours.
func (a *Aggregator) resolveTimeRange(results []domain.CategoryResult, requested *domain.TimeRange) domain.TimeRange {
	for _, r := range results {
		if r.OK() && r.Payload.TimeRange != nil && r.Payload.TimeRange.Valid() {
			return *r.Payload.TimeRange
		}
	}
	if requested != nil && requested.Valid() {
		return *requested
	}
	return domain.LastDay(a.now())
}

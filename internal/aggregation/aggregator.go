package aggregation

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"golang.org/x/sync/singleflight"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/smukkama/signaltrail/internal/grid"
	"github.com/smukkama/signaltrail/internal/metrics"
	"github.com/smukkama/signaltrail/internal/model"
)

// Default aggregation policy.
const (
	DefaultSearchRadiusMeters = 20.0
	DefaultWindow             = 7 * 24 * time.Hour
)

// SampleSource returns per-network-type summaries of raw samples near a point.
type SampleSource interface {
	QueryNear(ctx context.Context, lat, lon, radiusMeters float64, since time.Time) ([]model.NetworkGroup, error)
}

// AggregateWriter persists a cell aggregate, replacing any previous one.
type AggregateWriter interface {
	UpsertAggregate(ctx context.Context, agg *model.CellAggregate) error
}

// Options tunes an Aggregator. Zero values fall back to the defaults.
type Options struct {
	Resolution         int
	SearchRadiusMeters float64
	Window             time.Duration
	Now                func() time.Time
}

// Aggregator recomputes cell statistics from raw samples.
type Aggregator struct {
	samples    SampleSource
	aggregates AggregateWriter
	opts       Options
	flight     singleflight.Group
}

// NewAggregator creates a new aggregator
func NewAggregator(samples SampleSource, aggregates AggregateWriter, opts Options) *Aggregator {
	if opts.Resolution == 0 {
		opts.Resolution = grid.DefaultResolution
	}
	if opts.SearchRadiusMeters <= 0 {
		opts.SearchRadiusMeters = DefaultSearchRadiusMeters
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Aggregator{
		samples:    samples,
		aggregates: aggregates,
		opts:       opts,
	}
}

// AggregateCell recomputes the aggregate of one cell. A cell with no recent
// samples is a cold start: nothing is written and any existing aggregate is
// left untouched. Concurrent calls for the same cell share one computation,
// which does not stop when the caller that started it is cancelled.
func (a *Aggregator) AggregateCell(ctx context.Context, cell grid.CellID) (model.CellOutcome, error) {
	shared := context.WithoutCancel(ctx)
	v, err, _ := a.flight.Do(string(cell), func() (interface{}, error) {
		start := time.Now()
		outcome, err := a.aggregateCell(shared, cell)
		metrics.AggregationDuration.Observe(time.Since(start).Seconds())
		metrics.AggregationOutcomes.WithLabelValues(string(outcome)).Inc()
		return outcome, err
	})
	return v.(model.CellOutcome), err
}

func (a *Aggregator) aggregateCell(ctx context.Context, cell grid.CellID) (model.CellOutcome, error) {
	lat, lon, err := grid.CellToCenter(cell)
	if err != nil {
		return model.OutcomeFailed, err
	}

	now := a.opts.Now()
	groups, err := a.samples.QueryNear(ctx, lat, lon, a.opts.SearchRadiusMeters, now.Add(-a.opts.Window))
	if err != nil {
		return model.OutcomeFailed, fmt.Errorf("failed to query samples for %s: %w", cell, err)
	}

	if len(groups) == 0 {
		return model.OutcomeColdStart, nil
	}

	agg := Combine(cell, lat, lon, groups, now)
	if err := a.aggregates.UpsertAggregate(ctx, agg); err != nil {
		return model.OutcomeFailed, fmt.Errorf("failed to upsert aggregate for %s: %w", cell, err)
	}

	return model.OutcomeWritten, nil
}

// AggregateArea aggregates every cell covering the circle around (lat, lon).
// A failing cell is recorded in the report and does not stop its siblings.
// CellsProcessed includes cold-start cells, so it is not a count of cells
// that received new data; use CellsWritten for that.
func (a *Aggregator) AggregateArea(ctx context.Context, lat, lon, radiusMeters float64) (*model.AreaReport, error) {
	cells, err := grid.CellsInRadius(lat, lon, radiusMeters, a.opts.Resolution)
	if err != nil {
		return nil, fmt.Errorf("failed to compute cells in radius: %w", err)
	}

	report := &model.AreaReport{}
	for _, cell := range cells {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		outcome, err := a.AggregateCell(ctx, cell)
		report.CellsProcessed++
		switch {
		case err != nil:
			log.Printf("[Aggregator] Cell %s failed: %v", cell, err)
			report.Failures = append(report.Failures, model.CellFailure{CellID: cell, Error: err.Error()})
		case outcome == model.OutcomeColdStart:
			report.ColdStart++
		default:
			report.CellsWritten++
		}
	}

	log.Printf("[Aggregator] Area (%.5f, %.5f, %.0fm): %d cells processed, %d written, %d cold start, %d failed",
		lat, lon, radiusMeters, report.CellsProcessed, report.CellsWritten, report.ColdStart, len(report.Failures))

	return report, nil
}

// Combine merges per-network-type groups into a single cell aggregate. The
// average is weighted by sample count so sparse network types do not skew it.
// groups must be non-empty.
func Combine(cell grid.CellID, centerLat, centerLon float64, groups []model.NetworkGroup, now time.Time) *model.CellAggregate {
	avgs := make([]float64, len(groups))
	counts := make([]float64, len(groups))
	maxes := make([]float64, len(groups))
	mins := make([]float64, len(groups))
	distribution := make(map[model.NetworkType]int, len(groups))

	total := 0
	var lastUpdated time.Time
	for i, g := range groups {
		avgs[i] = g.AvgSignal
		counts[i] = float64(g.Count)
		maxes[i] = float64(g.MaxSignal)
		mins[i] = float64(g.MinSignal)
		distribution[g.NetworkType] += g.Count
		total += g.Count
		if g.LastTimestamp.After(lastUpdated) {
			lastUpdated = g.LastTimestamp
		}
	}

	ageHours := math.Max(now.Sub(lastUpdated).Hours(), 0)

	return &model.CellAggregate{
		CellID:              cell,
		CenterLat:           centerLat,
		CenterLon:           centerLon,
		AvgSignalDBM:        round2(stat.Mean(avgs, counts)),
		MaxSignalDBM:        int(floats.Max(maxes)),
		MinSignalDBM:        int(floats.Min(mins)),
		SampleCount:         total,
		NetworkDistribution: distribution,
		ConfidenceScore:     ComputeConfidence(total, ageHours, nil),
		LastUpdated:         lastUpdated.UTC(),
		DataFreshnessHours:  int(ageHours),
	}
}

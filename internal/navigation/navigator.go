// Package navigation answers "where is better signal" and heatmap queries
// from the aggregate store.
package navigation

import (
	"context"
	"errors"
	"fmt"

	"github.com/smukkama/signaltrail/internal/grid"
	"github.com/smukkama/signaltrail/internal/metrics"
	"github.com/smukkama/signaltrail/internal/model"
)

// Confidence floors. Heatmaps are exploratory and accept weaker data than
// directions.
const (
	NavigationMinConfidence = 0.3
	HeatmapMinConfidence    = 0.2
)

// ErrNotFound means no cell in the area has qualifying data (cold start).
var ErrNotFound = errors.New("no signal data available in this area")

// AggregateReader is the read side of the aggregate store.
type AggregateReader interface {
	GetAggregatesByIDs(ctx context.Context, ids []grid.CellID, minConfidence float64) ([]*model.CellAggregate, error)
	GetAggregate(ctx context.Context, id grid.CellID) (*model.CellAggregate, error)
}

// Navigator serves read-only queries over cell aggregates.
type Navigator struct {
	store      AggregateReader
	resolution int
}

// NewNavigator creates a navigator working at the given grid resolution
func NewNavigator(store AggregateReader, resolution int) *Navigator {
	if resolution == 0 {
		resolution = grid.DefaultResolution
	}
	return &Navigator{store: store, resolution: resolution}
}

// BestSignalInArea finds the cell with the strongest average signal within
// radiusMeters and points toward its center.
func (n *Navigator) BestSignalInArea(ctx context.Context, lat, lon, radiusMeters float64) (*model.NavigationResult, error) {
	aggs, err := n.qualifying(ctx, lat, lon, radiusMeters, NavigationMinConfidence)
	if err != nil {
		return nil, err
	}
	if len(aggs) == 0 {
		metrics.NavigationNotFound.WithLabelValues("vector").Inc()
		return nil, ErrNotFound
	}

	best := aggs[0]
	for _, agg := range aggs[1:] {
		if agg.AvgSignalDBM > best.AvgSignalDBM ||
			(agg.AvgSignalDBM == best.AvgSignalDBM && agg.CellID < best.CellID) {
			best = agg
		}
	}

	current, err := n.currentSignal(ctx, lat, lon)
	if err != nil {
		return nil, err
	}

	return &model.NavigationResult{
		BearingDegrees:   grid.Bearing(lat, lon, best.CenterLat, best.CenterLon),
		DistanceMeters:   grid.Distance(lat, lon, best.CenterLat, best.CenterLon),
		ConfidenceScore:  best.ConfidenceScore,
		TargetSignalDBM:  int(best.AvgSignalDBM),
		CurrentSignalDBM: current,
		TargetCell:       best.CellID,
		TargetLat:        best.CenterLat,
		TargetLon:        best.CenterLon,
	}, nil
}

// Heatmap returns every qualifying cell within radiusMeters with the bounding
// box of their centers.
func (n *Navigator) Heatmap(ctx context.Context, lat, lon, radiusMeters float64) (*model.HeatmapResult, error) {
	aggs, err := n.qualifying(ctx, lat, lon, radiusMeters, HeatmapMinConfidence)
	if err != nil {
		return nil, err
	}
	if len(aggs) == 0 {
		metrics.NavigationNotFound.WithLabelValues("heatmap").Inc()
		return nil, ErrNotFound
	}

	cells := make([]model.HeatmapCell, len(aggs))
	points := make([]grid.Point, len(aggs))
	for i, agg := range aggs {
		cells[i] = model.HeatmapCell{
			CellID:          agg.CellID,
			Lat:             agg.CenterLat,
			Lon:             agg.CenterLon,
			AvgSignalDBM:    agg.AvgSignalDBM,
			ConfidenceScore: agg.ConfidenceScore,
			SampleCount:     agg.SampleCount,
		}
		points[i] = grid.Point{Lat: agg.CenterLat, Lon: agg.CenterLon}
	}

	b, _ := grid.BoundsOf(points)
	return &model.HeatmapResult{
		Cells: cells,
		Bounds: model.Bounds{
			MinLat: b.Min.Lat(),
			MaxLat: b.Max.Lat(),
			MinLon: b.Min.Lon(),
			MaxLon: b.Max.Lon(),
		},
	}, nil
}

// qualifying loads the aggregates of the area and drops any below floor, even
// if the store already filtered them. The store's slice is not modified.
func (n *Navigator) qualifying(ctx context.Context, lat, lon, radiusMeters, floor float64) ([]*model.CellAggregate, error) {
	cells, err := grid.CellsInRadius(lat, lon, radiusMeters, n.resolution)
	if err != nil {
		return nil, err
	}

	aggs, err := n.store.GetAggregatesByIDs(ctx, cells, floor)
	if err != nil {
		return nil, fmt.Errorf("failed to load aggregates: %w", err)
	}

	kept := make([]*model.CellAggregate, 0, len(aggs))
	for _, agg := range aggs {
		if agg != nil && agg.ConfidenceScore >= floor {
			kept = append(kept, agg)
		}
	}
	return kept, nil
}

// currentSignal is the average signal of the query point's own cell, with no
// confidence filter. nil when the cell has no aggregate.
func (n *Navigator) currentSignal(ctx context.Context, lat, lon float64) (*int, error) {
	cell, err := grid.PointToCell(lat, lon, n.resolution)
	if err != nil {
		return nil, err
	}

	agg, err := n.store.GetAggregate(ctx, cell)
	if err != nil {
		return nil, fmt.Errorf("failed to load current cell %s: %w", cell, err)
	}
	if agg == nil {
		return nil, nil
	}

	signal := int(agg.AvgSignalDBM)
	return &signal, nil
}

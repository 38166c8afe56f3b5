package aggregation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/signaltrail/internal/grid"
	"github.com/smukkama/signaltrail/internal/model"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type queryCall struct {
	lat, lon, radius float64
	since            time.Time
}

type fakeSamples struct {
	mu     sync.Mutex
	groups []model.NetworkGroup
	calls  []queryCall
	fail   func(call int) error
}

func (f *fakeSamples) QueryNear(ctx context.Context, lat, lon, radius float64, since time.Time) ([]model.NetworkGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, queryCall{lat, lon, radius, since})
	if f.fail != nil {
		if err := f.fail(len(f.calls)); err != nil {
			return nil, err
		}
	}
	return f.groups, nil
}

type fakeAggregates struct {
	mu      sync.Mutex
	written []*model.CellAggregate
	err     error
}

func (f *fakeAggregates) UpsertAggregate(ctx context.Context, agg *model.CellAggregate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.written = append(f.written, agg)
	return nil
}

func newTestAggregator(samples SampleSource, aggs AggregateWriter) *Aggregator {
	return NewAggregator(samples, aggs, Options{Now: func() time.Time { return fixedNow }})
}

func testCell(t *testing.T) grid.CellID {
	t.Helper()
	cell, err := grid.PointToCell(37.7749, -122.4194, grid.DefaultResolution)
	require.NoError(t, err)
	return cell
}

func TestAggregateCell_ColdStartDoesNotWrite(t *testing.T) {
	samples := &fakeSamples{}
	aggs := &fakeAggregates{}
	a := newTestAggregator(samples, aggs)

	outcome, err := a.AggregateCell(context.Background(), testCell(t))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeColdStart, outcome)
	assert.Empty(t, aggs.written)
}

func TestAggregateCell_QueriesCenterWithinWindow(t *testing.T) {
	cell := testCell(t)
	samples := &fakeSamples{}
	a := newTestAggregator(samples, &fakeAggregates{})

	_, err := a.AggregateCell(context.Background(), cell)
	require.NoError(t, err)
	require.Len(t, samples.calls, 1)

	lat, lon, err := grid.CellToCenter(cell)
	require.NoError(t, err)
	call := samples.calls[0]
	assert.Equal(t, lat, call.lat)
	assert.Equal(t, lon, call.lon)
	assert.Equal(t, DefaultSearchRadiusMeters, call.radius)
	assert.Equal(t, fixedNow.Add(-7*24*time.Hour), call.since)
}

func TestAggregateCell_CombinesNetworkGroups(t *testing.T) {
	cell := testCell(t)
	samples := &fakeSamples{groups: []model.NetworkGroup{
		{NetworkType: model.Network5G, AvgSignal: -70, MaxSignal: -60, MinSignal: -80, Count: 30, LastTimestamp: fixedNow.Add(-2 * time.Hour)},
		{NetworkType: model.NetworkLTE, AvgSignal: -90, MaxSignal: -85, MinSignal: -110, Count: 10, LastTimestamp: fixedNow.Add(-90 * time.Minute)},
	}}
	aggs := &fakeAggregates{}
	a := newTestAggregator(samples, aggs)

	outcome, err := a.AggregateCell(context.Background(), cell)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeWritten, outcome)
	require.Len(t, aggs.written, 1)

	got := aggs.written[0]
	assert.Equal(t, cell, got.CellID)
	assert.InDelta(t, -75.0, got.AvgSignalDBM, 1e-9, "mean must be weighted by sample count")
	assert.Equal(t, -60, got.MaxSignalDBM)
	assert.Equal(t, -110, got.MinSignalDBM)
	assert.Equal(t, 40, got.SampleCount)
	assert.Equal(t, map[model.NetworkType]int{model.Network5G: 30, model.NetworkLTE: 10}, got.NetworkDistribution)
	assert.Equal(t, fixedNow.Add(-90*time.Minute), got.LastUpdated)
	assert.Equal(t, 1, got.DataFreshnessHours)
	assert.Equal(t, ComputeConfidence(40, 1.5, nil), got.ConfidenceScore)
}

func TestAggregateCell_Idempotent(t *testing.T) {
	cell := testCell(t)
	samples := &fakeSamples{groups: []model.NetworkGroup{
		{NetworkType: model.NetworkWiFi, AvgSignal: -55.333, MaxSignal: -40, MinSignal: -70, Count: 3, LastTimestamp: fixedNow.Add(-5 * time.Hour)},
		{NetworkType: model.Network4G, AvgSignal: -88.1, MaxSignal: -80, MinSignal: -99, Count: 7, LastTimestamp: fixedNow.Add(-30 * time.Hour)},
	}}
	aggs := &fakeAggregates{}
	a := newTestAggregator(samples, aggs)

	for i := 0; i < 2; i++ {
		_, err := a.AggregateCell(context.Background(), cell)
		require.NoError(t, err)
	}
	require.Len(t, aggs.written, 2)

	if diff := cmp.Diff(aggs.written[0], aggs.written[1]); diff != "" {
		t.Errorf("re-aggregation changed the result (-first +second):\n%s", diff)
	}

	first, err := json.Marshal(aggs.written[0])
	require.NoError(t, err)
	second, err := json.Marshal(aggs.written[1])
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAggregateCell_StoreErrors(t *testing.T) {
	cell := testCell(t)

	queryErr := errors.New("connection refused")
	a := newTestAggregator(&fakeSamples{fail: func(int) error { return queryErr }}, &fakeAggregates{})
	outcome, err := a.AggregateCell(context.Background(), cell)
	assert.ErrorIs(t, err, queryErr)
	assert.Equal(t, model.OutcomeFailed, outcome)

	upsertErr := errors.New("deadlock detected")
	samples := &fakeSamples{groups: []model.NetworkGroup{{NetworkType: model.Network5G, AvgSignal: -70, MaxSignal: -70, MinSignal: -70, Count: 1, LastTimestamp: fixedNow}}}
	a = newTestAggregator(samples, &fakeAggregates{err: upsertErr})
	outcome, err = a.AggregateCell(context.Background(), cell)
	assert.ErrorIs(t, err, upsertErr)
	assert.Equal(t, model.OutcomeFailed, outcome)
}

func TestAggregateCell_InvalidCell(t *testing.T) {
	a := newTestAggregator(&fakeSamples{}, &fakeAggregates{})
	outcome, err := a.AggregateCell(context.Background(), "zzz")
	assert.ErrorIs(t, err, grid.ErrInvalidCell)
	assert.Equal(t, model.OutcomeFailed, outcome)
}

// gatedSamples blocks QueryNear until released and records the context state.
type gatedSamples struct {
	groups  []model.NetworkGroup
	entered chan struct{}
	release chan struct{}
	ctxErr  error
}

func (g *gatedSamples) QueryNear(ctx context.Context, lat, lon, radius float64, since time.Time) ([]model.NetworkGroup, error) {
	close(g.entered)
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	g.ctxErr = ctx.Err()
	return g.groups, g.ctxErr
}

func TestAggregateCell_SharedWorkOutlivesCancelledCaller(t *testing.T) {
	cell := testCell(t)
	samples := &gatedSamples{
		groups:  []model.NetworkGroup{{NetworkType: model.Network5G, AvgSignal: -70, MaxSignal: -70, MinSignal: -70, Count: 1, LastTimestamp: fixedNow}},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	aggs := &fakeAggregates{}
	a := newTestAggregator(samples, aggs)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		outcome model.CellOutcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := a.AggregateCell(ctx, cell)
		done <- result{outcome, err}
	}()

	<-samples.entered
	cancel()
	close(samples.release)

	select {
	case r := <-done:
		require.NoError(t, r.err, "callers joining the computation must not inherit the first caller's cancellation")
		assert.Equal(t, model.OutcomeWritten, r.outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("AggregateCell did not return")
	}
	assert.NoError(t, samples.ctxErr)
	assert.Len(t, aggs.written, 1)
}

func TestAggregateArea_CountsColdStartAndToleratesFailures(t *testing.T) {
	samples := &fakeSamples{
		groups: []model.NetworkGroup{{NetworkType: model.Network5G, AvgSignal: -70, MaxSignal: -65, MinSignal: -75, Count: 5, LastTimestamp: fixedNow}},
		fail: func(call int) error {
			if call == 2 {
				return errors.New("timeout")
			}
			return nil
		},
	}
	aggs := &fakeAggregates{}
	a := newTestAggregator(samples, aggs)

	report, err := a.AggregateArea(context.Background(), 37.7749, -122.4194, 100)
	require.NoError(t, err)

	k, err := grid.RingsForRadius(100, grid.DefaultResolution)
	require.NoError(t, err)
	expected := 1 + 3*k*(k+1)

	assert.Equal(t, expected, report.CellsProcessed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, expected-1, report.CellsWritten)
	assert.Len(t, aggs.written, expected-1)
}

func TestAggregateArea_ColdStartCellsStillProcessed(t *testing.T) {
	aggs := &fakeAggregates{}
	a := newTestAggregator(&fakeSamples{}, aggs)

	report, err := a.AggregateArea(context.Background(), 10, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.CellsProcessed)
	assert.Equal(t, 1, report.ColdStart)
	assert.Equal(t, 0, report.CellsWritten)
	assert.Empty(t, aggs.written)
}

func TestAggregateArea_InvalidInput(t *testing.T) {
	a := newTestAggregator(&fakeSamples{}, &fakeAggregates{})
	_, err := a.AggregateArea(context.Background(), 95, 0, 100)
	assert.ErrorIs(t, err, grid.ErrInvalidCoordinates)
}

func TestCombine_FreshnessClampsFutureTimestamps(t *testing.T) {
	agg := Combine("cell", 0, 0, []model.NetworkGroup{
		{NetworkType: model.Network5G, AvgSignal: -60, MaxSignal: -60, MinSignal: -60, Count: 50, LastTimestamp: fixedNow.Add(time.Hour)},
	}, fixedNow)

	assert.Equal(t, 0, agg.DataFreshnessHours)
	assert.Equal(t, 1.0, agg.ConfidenceScore)
}

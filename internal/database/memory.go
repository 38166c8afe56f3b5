package database

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/smukkama/signaltrail/internal/grid"
	"github.com/smukkama/signaltrail/internal/model"
)

// MemoryStore is an in-process sample and aggregate store with the same
// query semantics as the PostGIS store. It backs local runs without a
// database and end-to-end tests.
type MemoryStore struct {
	mu         sync.RWMutex
	samples    []model.RawSample
	aggregates map[grid.CellID]memoryAggregate
	now        func() time.Time

	// FailInserts makes InsertSamples fail without storing anything.
	FailInserts error
}

type memoryAggregate struct {
	agg        model.CellAggregate
	computedAt time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates an empty store that stamps aggregates with now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		aggregates: make(map[grid.CellID]memoryAggregate),
		now:        now,
	}
}

var errNilSample = errors.New("nil sample in batch")

func (m *MemoryStore) InsertSamples(ctx context.Context, samples []*model.RawSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailInserts != nil {
		return m.FailInserts
	}
	batch := make([]model.RawSample, 0, len(samples))
	for _, s := range samples {
		if s == nil {
			return errNilSample
		}
		batch = append(batch, *s)
	}
	m.samples = append(m.samples, batch...)
	return nil
}

func (m *MemoryStore) QueryNear(ctx context.Context, lat, lon, radiusMeters float64, since time.Time) ([]model.NetworkGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type acc struct {
		sum   float64
		group model.NetworkGroup
	}
	byType := make(map[model.NetworkType]*acc)

	for _, s := range m.samples {
		if s.CapturedAt.Before(since) {
			continue
		}
		if grid.Distance(lat, lon, s.Lat, s.Lon) > radiusMeters {
			continue
		}

		a, ok := byType[s.NetworkType]
		if !ok {
			a = &acc{group: model.NetworkGroup{
				NetworkType: s.NetworkType,
				MaxSignal:   s.SignalDBM,
				MinSignal:   s.SignalDBM,
			}}
			byType[s.NetworkType] = a
		}
		a.sum += float64(s.SignalDBM)
		a.group.Count++
		a.group.MaxSignal = max(a.group.MaxSignal, s.SignalDBM)
		a.group.MinSignal = min(a.group.MinSignal, s.SignalDBM)
		if s.CapturedAt.After(a.group.LastTimestamp) {
			a.group.LastTimestamp = s.CapturedAt
		}
	}

	groups := make([]model.NetworkGroup, 0, len(byType))
	for _, a := range byType {
		a.group.AvgSignal = a.sum / float64(a.group.Count)
		groups = append(groups, a.group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].NetworkType < groups[j].NetworkType })
	return groups, nil
}

func (m *MemoryStore) DeleteSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.samples[:0]
	var deleted int64
	for _, s := range m.samples {
		if s.CapturedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, s)
	}
	m.samples = kept
	return deleted, nil
}

// SampleCount returns the number of stored samples.
func (m *MemoryStore) SampleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.samples)
}

func (m *MemoryStore) UpsertAggregate(ctx context.Context, agg *model.CellAggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.aggregates[agg.CellID] = memoryAggregate{agg: cloneAggregate(agg), computedAt: m.now()}
	return nil
}

func (m *MemoryStore) GetAggregate(ctx context.Context, id grid.CellID) (*model.CellAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, ok := m.aggregates[id]
	if !ok {
		return nil, nil
	}
	agg := cloneAggregate(&stored.agg)
	return &agg, nil
}

func (m *MemoryStore) GetAggregatesByIDs(ctx context.Context, ids []grid.CellID, minConfidence float64) ([]*model.CellAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[grid.CellID]bool, len(ids))
	var aggs []*model.CellAggregate
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		stored, ok := m.aggregates[id]
		if !ok || stored.agg.ConfidenceScore < minConfidence {
			continue
		}
		agg := cloneAggregate(&stored.agg)
		aggs = append(aggs, &agg)
	}

	sort.Slice(aggs, func(i, j int) bool {
		if aggs[i].AvgSignalDBM != aggs[j].AvgSignalDBM {
			return aggs[i].AvgSignalDBM > aggs[j].AvgSignalDBM
		}
		return aggs[i].CellID < aggs[j].CellID
	})
	return aggs, nil
}

func (m *MemoryStore) ListStaleCells(ctx context.Context, cutoff time.Time, limit int) ([]grid.CellID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type stale struct {
		id grid.CellID
		at time.Time
	}
	var candidates []stale
	for id, stored := range m.aggregates {
		if stored.computedAt.Before(cutoff) {
			candidates = append(candidates, stale{id, stored.computedAt})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].at.Before(candidates[j].at) })

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	cells := make([]grid.CellID, len(candidates))
	for i, c := range candidates {
		cells[i] = c.id
	}
	return cells, nil
}

func (m *MemoryStore) MarkRefreshed(ctx context.Context, ids []grid.CellID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, id := range ids {
		if stored, ok := m.aggregates[id]; ok {
			stored.computedAt = now
			m.aggregates[id] = stored
		}
	}
	return nil
}

func cloneAggregate(agg *model.CellAggregate) model.CellAggregate {
	out := *agg
	if agg.NetworkDistribution != nil {
		out.NetworkDistribution = make(map[model.NetworkType]int, len(agg.NetworkDistribution))
		for k, v := range agg.NetworkDistribution {
			out.NetworkDistribution[k] = v
		}
	}
	return out
}

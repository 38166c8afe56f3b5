package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/signaltrail/internal/grid"
	"github.com/smukkama/signaltrail/internal/metrics"
	"github.com/smukkama/signaltrail/internal/model"
	"github.com/smukkama/signaltrail/internal/privacy"
	"github.com/smukkama/signaltrail/internal/protocol"
)

// ErrIngestionFailed wraps a store fault that prevented a batch from being persisted.
var ErrIngestionFailed = errors.New("ingestion failed")

// SampleWriter persists a batch of samples atomically.
type SampleWriter interface {
	InsertSamples(ctx context.Context, samples []*model.RawSample) error
}

// AggregationTrigger hands affected cells to the aggregation pipeline.
type AggregationTrigger interface {
	Enqueue(ctx context.Context, cells []grid.CellID) error
}

// Options tunes a Service. Zero values fall back to the defaults.
type Options struct {
	Resolution   int
	Precision    int
	MaxBatchSize int
	Now          func() time.Time
}

// Service validates, anonymizes and stores signal readings.
type Service struct {
	store      SampleWriter
	anonymizer *privacy.Anonymizer
	trigger    AggregationTrigger
	opts       Options
}

// NewService creates an ingestion service. trigger may be nil, in which case
// affected cells are only reported.
func NewService(store SampleWriter, anonymizer *privacy.Anonymizer, trigger AggregationTrigger, opts Options) *Service {
	if opts.Resolution == 0 {
		opts.Resolution = grid.DefaultResolution
	}
	if opts.Precision == 0 {
		opts.Precision = privacy.DefaultPrecision
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = protocol.DefaultMaxBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		store:      store,
		anonymizer: anonymizer,
		trigger:    trigger,
		opts:       opts,
	}
}

// Ingest stores a batch. An invalid reading rejects the whole batch with a
// *protocol.ValidationError before anything is persisted.
func (s *Service) Ingest(ctx context.Context, batch *protocol.BatchInput) (*model.IngestResult, error) {
	now := s.opts.Now().UTC()

	readings, err := protocol.ValidateBatch(batch, now, s.opts.MaxBatchSize)
	if err != nil {
		metrics.IngestBatches.WithLabelValues("invalid").Inc()
		return nil, err
	}

	samples := make([]*model.RawSample, len(readings))
	affected := make(map[grid.CellID]struct{})

	for i, r := range readings {
		lat, lon := privacy.TruncateCoordinates(r.Lat, r.Lon, s.opts.Precision)

		cell, err := grid.PointToCell(lat, lon, s.opts.Resolution)
		if err != nil {
			metrics.IngestBatches.WithLabelValues("invalid").Inc()
			return nil, &protocol.ValidationError{Index: i, Field: "latitude", Message: err.Error()}
		}
		affected[cell] = struct{}{}

		deviceHash := s.anonymizer.HashIdentifier(r.DeviceID)
		samples[i] = &model.RawSample{
			ID:                uuid.New().String(),
			Lat:               lat,
			Lon:               lon,
			SignalDBM:         r.SignalDBM,
			NetworkType:       r.NetworkType,
			SSIDHash:          s.anonymizer.HashIdentifier(r.SSID),
			GPSAccuracyMeters: r.GPSAccuracyMeters,
			DeviceIDHash:      *deviceHash,
			CarrierHash:       s.anonymizer.HashIdentifier(r.Carrier),
			CapturedAt:        r.Timestamp,
			IngestedAt:        now,
		}
	}

	if err := s.store.InsertSamples(ctx, samples); err != nil {
		metrics.IngestBatches.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %w", ErrIngestionFailed, err)
	}
	metrics.IngestBatches.WithLabelValues("accepted").Inc()
	metrics.SamplesIngested.Add(float64(len(samples)))

	cells := make([]grid.CellID, 0, len(affected))
	for cell := range affected {
		cells = append(cells, cell)
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i] < cells[j] })

	if s.trigger != nil {
		if err := s.trigger.Enqueue(ctx, cells); err != nil {
			metrics.TriggerErrors.Inc()
			log.Printf("[Ingest] Failed to trigger aggregation for %d cells: %v", len(cells), err)
		}
	}

	log.Printf("[Ingest] Stored %d readings across %d cells", len(samples), len(cells))

	return &model.IngestResult{
		Accepted: len(samples),
		Rejected: 0,
		Cells:    cells,
	}, nil
}

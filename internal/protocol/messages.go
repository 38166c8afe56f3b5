package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/smukkama/signaltrail/internal/model"
)

// Ingestion limits
const (
	DefaultMaxBatchSize = 100
	MaxSSIDLength       = 32
	MaxCarrierLength    = 32
	MaxDeviceIDLength   = 64
	MaxGPSAccuracy      = 1000.0
	MaxClockSkew        = 5 * time.Minute
)

// ReadingInput is a single reading as sent by a device, before anonymization.
// Required numeric fields are pointers so a missing value is distinguishable
// from zero.
type ReadingInput struct {
	Latitude          *float64 `json:"latitude"`
	Longitude         *float64 `json:"longitude"`
	SignalDBM         *int     `json:"signal_dbm"`
	NetworkType       string   `json:"network_type"`
	SSID              string   `json:"ssid,omitempty"`
	GPSAccuracyMeters *float64 `json:"gps_accuracy_meters,omitempty"`
	DeviceID          string   `json:"device_id"`
	Carrier           string   `json:"carrier,omitempty"`
	Timestamp         string   `json:"timestamp,omitempty"` // RFC3339, defaults to receive time
}

// BatchInput is the body of an ingestion request
type BatchInput struct {
	Readings []ReadingInput `json:"readings"`
}

// IngestResponse is returned after a batch has been ingested
type IngestResponse struct {
	AcceptedCount int      `json:"accepted_count"`
	RejectedCount int      `json:"rejected_count"`
	Message       string   `json:"message"`
	Cells         []string `json:"cells,omitempty"`
}

// NavigationVector points toward better signal
type NavigationVector struct {
	BearingDegrees   float64 `json:"bearing_degrees"`
	DistanceMeters   float64 `json:"distance_meters"`
	ConfidenceScore  float64 `json:"confidence_score"`
	TargetSignalDBM  *int    `json:"target_signal_dbm"`
	CurrentSignalDBM *int    `json:"current_signal_dbm"`
}

// HeatmapResponse is the wire form of a heatmap
type HeatmapResponse struct {
	Cells  []model.HeatmapCell `json:"cells"`
	Bounds model.Bounds        `json:"bounds"`
}

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ValidationError describes the first invalid field of a batch. Index is -1
// for errors about the batch as a whole.
type ValidationError struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("readings[%d].%s: %s", e.Index, e.Field, e.Message)
}

// Reading is a validated reading with parsed values
type Reading struct {
	Lat               float64
	Lon               float64
	SignalDBM         int
	NetworkType       model.NetworkType
	SSID              string
	GPSAccuracyMeters *float64
	DeviceID          string
	Carrier           string
	Timestamp         time.Time
}

// ValidateBatch checks every reading of the batch and returns the parsed
// readings. The whole batch is rejected on the first invalid reading.
// maxBatch <= 0 means DefaultMaxBatchSize.
func ValidateBatch(batch *BatchInput, now time.Time, maxBatch int) ([]Reading, error) {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatchSize
	}
	if batch == nil || len(batch.Readings) == 0 {
		return nil, &ValidationError{Index: -1, Field: "readings", Message: "batch must contain at least one reading"}
	}
	if len(batch.Readings) > maxBatch {
		return nil, &ValidationError{Index: -1, Field: "readings", Message: fmt.Sprintf("batch must contain at most %d readings", maxBatch)}
	}

	readings := make([]Reading, len(batch.Readings))
	for i := range batch.Readings {
		r, err := validateReading(i, &batch.Readings[i], now)
		if err != nil {
			return nil, err
		}
		readings[i] = r
	}
	return readings, nil
}

func validateReading(i int, in *ReadingInput, now time.Time) (Reading, error) {
	invalid := func(field, format string, args ...interface{}) (Reading, error) {
		return Reading{}, &ValidationError{Index: i, Field: field, Message: fmt.Sprintf(format, args...)}
	}

	if in.Latitude == nil {
		return invalid("latitude", "is required")
	}
	if lat := *in.Latitude; math.IsNaN(lat) || lat < -90 || lat > 90 {
		return invalid("latitude", "must be between -90 and 90")
	}
	if in.Longitude == nil {
		return invalid("longitude", "is required")
	}
	if lon := *in.Longitude; math.IsNaN(lon) || lon < -180 || lon > 180 {
		return invalid("longitude", "must be between -180 and 180")
	}
	if in.SignalDBM == nil {
		return invalid("signal_dbm", "is required")
	}
	if s := *in.SignalDBM; s < model.MinSignalDBM || s > model.MaxSignalDBM {
		return invalid("signal_dbm", "must be between %d and %d", model.MinSignalDBM, model.MaxSignalDBM)
	}

	networkType, err := model.ParseNetworkType(in.NetworkType)
	if err != nil {
		return invalid("network_type", "must be one of 4G, 5G, LTE, WiFi")
	}

	if len(in.SSID) > MaxSSIDLength {
		return invalid("ssid", "must be at most %d characters", MaxSSIDLength)
	}
	if len(in.Carrier) > MaxCarrierLength {
		return invalid("carrier", "must be at most %d characters", MaxCarrierLength)
	}
	if in.DeviceID == "" {
		return invalid("device_id", "is required")
	}
	if len(in.DeviceID) > MaxDeviceIDLength {
		return invalid("device_id", "must be at most %d characters", MaxDeviceIDLength)
	}
	if acc := in.GPSAccuracyMeters; acc != nil && (math.IsNaN(*acc) || *acc < 0 || *acc > MaxGPSAccuracy) {
		return invalid("gps_accuracy_meters", "must be between 0 and %.0f", MaxGPSAccuracy)
	}

	ts := now
	if in.Timestamp != "" {
		ts, err = time.Parse(time.RFC3339, in.Timestamp)
		if err != nil {
			return invalid("timestamp", "invalid format (must be RFC3339)")
		}
		if ts.After(now.Add(MaxClockSkew)) {
			return invalid("timestamp", "is in the future")
		}
	}

	return Reading{
		Lat:               *in.Latitude,
		Lon:               *in.Longitude,
		SignalDBM:         *in.SignalDBM,
		NetworkType:       networkType,
		SSID:              in.SSID,
		GPSAccuracyMeters: in.GPSAccuracyMeters,
		DeviceID:          in.DeviceID,
		Carrier:           in.Carrier,
		Timestamp:         ts.UTC(),
	}, nil
}

// DecodeBatch parses a JSON batch
func DecodeBatch(data []byte) (*BatchInput, error) {
	var batch BatchInput
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return &batch, nil
}

// NewNavigationVector converts a navigation result to its wire form
func NewNavigationVector(r *model.NavigationResult) *NavigationVector {
	target := r.TargetSignalDBM
	return &NavigationVector{
		BearingDegrees:   r.BearingDegrees,
		DistanceMeters:   r.DistanceMeters,
		ConfidenceScore:  r.ConfidenceScore,
		TargetSignalDBM:  &target,
		CurrentSignalDBM: r.CurrentSignalDBM,
	}
}

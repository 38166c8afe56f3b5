package protocol

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/smukkama/signaltrail/internal/model"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }
func i(v int) *int         { return &v }

func validReading() ReadingInput {
	return ReadingInput{
		Latitude:    f(37.7749),
		Longitude:   f(-122.4194),
		SignalDBM:   i(-70),
		NetworkType: "5G",
		DeviceID:    "device-123",
	}
}

func TestValidateBatch_Valid(t *testing.T) {
	r := validReading()
	r.Timestamp = "2026-03-14T11:00:00Z"
	r.GPSAccuracyMeters = f(12)

	readings, err := ValidateBatch(&BatchInput{Readings: []ReadingInput{r, validReading()}}, now, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(readings))
	}
	if !readings[0].Timestamp.Equal(now.Add(-time.Hour)) {
		t.Errorf("timestamp = %v", readings[0].Timestamp)
	}
	if !readings[1].Timestamp.Equal(now) {
		t.Errorf("missing timestamp should default to now, got %v", readings[1].Timestamp)
	}
	if readings[0].NetworkType != model.Network5G {
		t.Errorf("network type = %v", readings[0].NetworkType)
	}
}

func TestValidateBatch_BatchSize(t *testing.T) {
	if _, err := ValidateBatch(&BatchInput{}, now, 0); err == nil {
		t.Error("empty batch must be rejected")
	}
	if _, err := ValidateBatch(nil, now, 0); err == nil {
		t.Error("nil batch must be rejected")
	}

	readings := make([]ReadingInput, 101)
	for j := range readings {
		readings[j] = validReading()
	}
	if _, err := ValidateBatch(&BatchInput{Readings: readings}, now, 0); err == nil {
		t.Error("101 readings must be rejected")
	}
	if _, err := ValidateBatch(&BatchInput{Readings: readings[:100]}, now, 0); err != nil {
		t.Errorf("100 readings must be accepted: %v", err)
	}
	if _, err := ValidateBatch(&BatchInput{Readings: readings[:3]}, now, 2); err == nil {
		t.Error("custom limit must be applied")
	}
}

func TestValidateBatch_InvalidFields(t *testing.T) {
	tests := []struct {
		field  string
		mutate func(r *ReadingInput)
	}{
		{"latitude", func(r *ReadingInput) { r.Latitude = nil }},
		{"latitude", func(r *ReadingInput) { r.Latitude = f(90.1) }},
		{"longitude", func(r *ReadingInput) { r.Longitude = f(-180.5) }},
		{"signal_dbm", func(r *ReadingInput) { r.SignalDBM = i(-10) }},
		{"signal_dbm", func(r *ReadingInput) { r.SignalDBM = i(-121) }},
		{"signal_dbm", func(r *ReadingInput) { r.SignalDBM = nil }},
		{"network_type", func(r *ReadingInput) { r.NetworkType = "3G" }},
		{"ssid", func(r *ReadingInput) { r.SSID = strings.Repeat("s", 33) }},
		{"carrier", func(r *ReadingInput) { r.Carrier = strings.Repeat("c", 33) }},
		{"device_id", func(r *ReadingInput) { r.DeviceID = "" }},
		{"device_id", func(r *ReadingInput) { r.DeviceID = strings.Repeat("d", 65) }},
		{"gps_accuracy_meters", func(r *ReadingInput) { r.GPSAccuracyMeters = f(-1) }},
		{"gps_accuracy_meters", func(r *ReadingInput) { r.GPSAccuracyMeters = f(1000.1) }},
		{"timestamp", func(r *ReadingInput) { r.Timestamp = "yesterday" }},
		{"timestamp", func(r *ReadingInput) { r.Timestamp = "2026-03-14T12:06:00Z" }},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			bad := validReading()
			tt.mutate(&bad)

			_, err := ValidateBatch(&BatchInput{Readings: []ReadingInput{validReading(), bad}}, now, 0)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Index != 1 || verr.Field != tt.field {
				t.Errorf("got index %d field %q, want index 1 field %q", verr.Index, verr.Field, tt.field)
			}
		})
	}
}

func TestValidateBatch_BoundaryValuesAccepted(t *testing.T) {
	r := validReading()
	r.Latitude = f(-90)
	r.Longitude = f(180)
	r.SignalDBM = i(-20)
	r.GPSAccuracyMeters = f(0)
	r.SSID = strings.Repeat("s", 32)
	r.DeviceID = strings.Repeat("d", 64)
	r.Timestamp = "2026-03-14T12:04:59Z"

	if _, err := ValidateBatch(&BatchInput{Readings: []ReadingInput{r}}, now, 0); err != nil {
		t.Errorf("boundary values must be accepted: %v", err)
	}
}

func TestAggregationRequest_Decode(t *testing.T) {
	data, err := EncodeAggregationRequest(&AggregationRequest{CellID: "8a283082a677fff", Reason: ReasonIngest, RequestedAt: now})
	if err != nil {
		t.Fatal(err)
	}
	req, err := DecodeAggregationRequest(data)
	if err != nil {
		t.Fatal(err)
	}
	if req.CellID != "8a283082a677fff" || req.Reason != ReasonIngest {
		t.Errorf("unexpected request %+v", req)
	}

	if _, err := DecodeAggregationRequest([]byte(`{"reason":"ingest"}`)); err == nil {
		t.Error("missing cell id must be rejected")
	}
	if _, err := DecodeAggregationRequest([]byte(`not json`)); err == nil {
		t.Error("invalid JSON must be rejected")
	}
}

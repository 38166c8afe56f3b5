package model

import (
	"time"

	"github.com/smukkama/signaltrail/internal/grid"
)

// Signal strength bounds in dBm.
const (
	MinSignalDBM = -120
	MaxSignalDBM = -20
)

// RawSample is one anonymized observation as persisted in the sample store.
type RawSample struct {
	ID                string
	Lat               float64
	Lon               float64
	SignalDBM         int
	NetworkType       NetworkType
	SSIDHash          *string
	GPSAccuracyMeters *float64
	DeviceIDHash      string
	CarrierHash       *string
	CapturedAt        time.Time
	IngestedAt        time.Time
}

// NetworkGroup is the per-network-type summary the sample store returns for
// a spatial and temporal query.
type NetworkGroup struct {
	NetworkType   NetworkType
	AvgSignal     float64
	MaxSignal     int
	MinSignal     int
	Count         int
	LastTimestamp time.Time
}

// IngestResult is returned after a batch of samples has been persisted.
type IngestResult struct {
	Accepted int
	Rejected int
	Cells    []grid.CellID
}

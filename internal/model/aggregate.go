package model

import (
	"time"

	"github.com/smukkama/signaltrail/internal/grid"
)

// CellAggregate holds the current statistics of one grid cell.
type CellAggregate struct {
	CellID              grid.CellID         `json:"cell_id"`
	CenterLat           float64             `json:"center_lat"`
	CenterLon           float64             `json:"center_lon"`
	AvgSignalDBM        float64             `json:"avg_signal_dbm"`
	MaxSignalDBM        int                 `json:"max_signal_dbm"`
	MinSignalDBM        int                 `json:"min_signal_dbm"`
	SampleCount         int                 `json:"sample_count"`
	NetworkDistribution map[NetworkType]int `json:"network_type_distribution"`
	ConfidenceScore     float64             `json:"confidence_score"`
	LastUpdated         time.Time           `json:"last_updated"`
	DataFreshnessHours  int                 `json:"data_freshness_hours"`
}

// CellOutcome is what a single cell aggregation did.
type CellOutcome string

const (
	OutcomeWritten   CellOutcome = "written"
	OutcomeColdStart CellOutcome = "cold_start"
	OutcomeFailed    CellOutcome = "failed"
)

// CellFailure records a cell whose aggregation failed.
type CellFailure struct {
	CellID grid.CellID `json:"cell_id"`
	Error  string      `json:"error"`
}

// AreaReport summarizes an area aggregation. CellsProcessed counts every
// cell visited, including cold-start cells where nothing was written.
type AreaReport struct {
	CellsProcessed int           `json:"cells_processed"`
	CellsWritten   int           `json:"cells_written"`
	ColdStart      int           `json:"cold_start"`
	Failures       []CellFailure `json:"failures,omitempty"`
}

package model

import "github.com/smukkama/signaltrail/internal/grid"

// NavigationResult points from the query location toward the best nearby cell.
type NavigationResult struct {
	BearingDegrees   float64     `json:"bearing_degrees"`
	DistanceMeters   float64     `json:"distance_meters"`
	ConfidenceScore  float64     `json:"confidence_score"`
	TargetSignalDBM  int         `json:"target_signal_dbm"`
	CurrentSignalDBM *int        `json:"current_signal_dbm"`
	TargetCell       grid.CellID `json:"target_cell"`
	TargetLat        float64     `json:"target_lat"`
	TargetLon        float64     `json:"target_lon"`
}

// HeatmapCell is one cell projected for a heatmap.
type HeatmapCell struct {
	CellID          grid.CellID `json:"h3_index"`
	Lat             float64     `json:"latitude"`
	Lon             float64     `json:"longitude"`
	AvgSignalDBM    float64     `json:"avg_signal_dbm"`
	ConfidenceScore float64     `json:"confidence_score"`
	SampleCount     int         `json:"sample_count"`
}

// Bounds is a lat/lon bounding box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// HeatmapResult is the set of qualifying cells in an area.
type HeatmapResult struct {
	Cells  []HeatmapCell `json:"cells"`
	Bounds Bounds        `json:"bounds"`
}

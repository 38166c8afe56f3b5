package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/uber/h3-go/v4"
)

// DefaultResolution is the working H3 resolution for signal aggregation.
const DefaultResolution = 10

// CellID is the stable string form of an H3 cell index.
type CellID string

var (
	ErrInvalidCoordinates = errors.New("coordinates out of range")
	ErrInvalidCell        = errors.New("invalid cell id")
	ErrInvalidRadius      = errors.New("radius must be a finite non-negative number")
)

// ValidateCoordinates checks that lat/lon are finite and inside WGS84 ranges.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return fmt.Errorf("%w: non-finite value", ErrInvalidCoordinates)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %f", ErrInvalidCoordinates, lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %f", ErrInvalidCoordinates, lon)
	}
	return nil
}

// PointToCell maps a coordinate to the cell containing it at the given resolution.
func PointToCell(lat, lon float64, resolution int) (CellID, error) {
	if err := ValidateCoordinates(lat, lon); err != nil {
		return "", err
	}
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), resolution)
	if err != nil {
		return "", fmt.Errorf("failed to index point: %w", err)
	}
	return CellID(cell.String()), nil
}

// CellToCenter returns the canonical center of the cell.
func CellToCenter(id CellID) (float64, float64, error) {
	cell, err := parse(id)
	if err != nil {
		return 0, 0, err
	}
	center, err := cell.LatLng()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to resolve center of %s: %w", id, err)
	}
	return center.Lat, center.Lng, nil
}

// Resolution returns the resolution encoded in the cell id.
func Resolution(id CellID) (int, error) {
	cell, err := parse(id)
	if err != nil {
		return 0, err
	}
	return cell.Resolution(), nil
}

// EdgeLengthMeters returns the average hexagon edge length at a resolution.
func EdgeLengthMeters(resolution int) (float64, error) {
	edge, err := h3.HexagonEdgeLengthAvgM(resolution)
	if err != nil {
		return 0, fmt.Errorf("failed to get edge length for resolution %d: %w", resolution, err)
	}
	return edge, nil
}

// RingsForRadius converts a metric radius into the number of k-rings needed
// to cover it. It rounds up so the disk never under-covers the radius.
func RingsForRadius(radiusMeters float64, resolution int) (int, error) {
	if math.IsNaN(radiusMeters) || math.IsInf(radiusMeters, 0) || radiusMeters < 0 {
		return 0, ErrInvalidRadius
	}
	edge, err := EdgeLengthMeters(resolution)
	if err != nil {
		return 0, err
	}
	return int(math.Ceil(radiusMeters / edge)), nil
}

// Neighbors returns the cell and every cell within k rings of it.
func Neighbors(id CellID, k int) ([]CellID, error) {
	if k < 0 {
		return nil, fmt.Errorf("ring count must be non-negative, got %d", k)
	}
	cell, err := parse(id)
	if err != nil {
		return nil, err
	}
	disk, err := cell.GridDisk(k)
	if err != nil {
		return nil, fmt.Errorf("failed to expand %s by %d rings: %w", id, k, err)
	}

	ids := make([]CellID, 0, len(disk))
	for _, c := range disk {
		ids = append(ids, CellID(c.String()))
	}
	return ids, nil
}

// CellsInRadius returns the center cell of (lat, lon) plus every cell within
// enough rings to cover radiusMeters. Extra cells at the edge are expected.
func CellsInRadius(lat, lon, radiusMeters float64, resolution int) ([]CellID, error) {
	k, err := RingsForRadius(radiusMeters, resolution)
	if err != nil {
		return nil, err
	}
	center, err := PointToCell(lat, lon, resolution)
	if err != nil {
		return nil, err
	}
	return Neighbors(center, k)
}

// Boundary returns the closed footprint ring of the cell in orb (lon, lat) order.
func Boundary(id CellID) (orb.Ring, error) {
	cell, err := parse(id)
	if err != nil {
		return nil, err
	}
	boundary, err := cell.Boundary()
	if err != nil {
		return nil, fmt.Errorf("failed to get boundary of %s: %w", id, err)
	}

	ring := make(orb.Ring, 0, len(boundary)+1)
	for _, v := range boundary {
		ring = append(ring, orb.Point{v.Lng, v.Lat})
	}
	if len(ring) > 0 {
		ring = append(ring, ring[0])
	}
	return ring, nil
}

func parse(id CellID) (h3.Cell, error) {
	cell := h3.Cell(h3.IndexFromString(string(id)))
	if !cell.IsValid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCell, id)
	}
	return cell, nil
}

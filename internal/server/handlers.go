package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smukkama/signaltrail/internal/grid"
	"github.com/smukkama/signaltrail/internal/ingestion"
	"github.com/smukkama/signaltrail/internal/model"
	"github.com/smukkama/signaltrail/internal/navigation"
	"github.com/smukkama/signaltrail/internal/protocol"
)

// Ingester stores batches of readings
type Ingester interface {
	Ingest(ctx context.Context, batch *protocol.BatchInput) (*model.IngestResult, error)
}

// AreaAggregator recomputes every cell in an area
type AreaAggregator interface {
	AggregateArea(ctx context.Context, lat, lon, radiusMeters float64) (*model.AreaReport, error)
}

// radiusRange is the accepted radius_meters range of an endpoint
type radiusRange struct {
	def, min, max int
}

var (
	vectorRadius    = radiusRange{def: 500, min: 100, max: 2000}
	heatmapRadius   = radiusRange{def: 1000, min: 500, max: 5000}
	aggregateRadius = radiusRange{def: 1000, min: 500, max: 5000}
)

// Handler serves the ingestion and navigation API
type Handler struct {
	ingester   Ingester
	navigator  navigation.Querier
	aggregator AreaAggregator
	now        func() time.Time
}

// NewHandler creates a new API handler
func NewHandler(ingester Ingester, navigator navigation.Querier, aggregator AreaAggregator) *Handler {
	return &Handler{
		ingester:   ingester,
		navigator:  navigator,
		aggregator: aggregator,
		now:        time.Now,
	}
}

// Ingest handles POST /api/v1/ingest
func (h *Handler) Ingest(c *gin.Context) {
	var batch protocol.BatchInput
	if err := c.ShouldBindJSON(&batch); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	result, err := h.ingester.Ingest(c.Request.Context(), &batch)
	var verr *protocol.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(c, http.StatusUnprocessableEntity, "validation_error", verr.Error())
		return
	case errors.Is(err, ingestion.ErrIngestionFailed):
		log.Printf("[HTTP] Ingestion failed: %v", err)
		writeError(c, http.StatusInternalServerError, "ingestion_failed", fmt.Sprintf("Ingestion failed: %v", err))
		return
	case err != nil:
		log.Printf("[HTTP] Ingestion error: %v", err)
		writeError(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	cells := make([]string, len(result.Cells))
	for i, cell := range result.Cells {
		cells[i] = string(cell)
	}
	c.JSON(http.StatusOK, protocol.IngestResponse{
		AcceptedCount: result.Accepted,
		RejectedCount: result.Rejected,
		Message:       fmt.Sprintf("Successfully ingested %d readings", result.Accepted),
		Cells:         cells,
	})
}

// IngestHealth handles GET /api/v1/ingest/health
func (h *Handler) IngestHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "signal_ingestion",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// Vector handles GET /api/v1/navigate/vector
func (h *Handler) Vector(c *gin.Context) {
	lat, lon, radius, ok := parseArea(c, vectorRadius)
	if !ok {
		return
	}

	result, err := h.navigator.BestSignalInArea(c.Request.Context(), lat, lon, float64(radius))
	if errors.Is(err, navigation.ErrNotFound) {
		writeError(c, http.StatusNotFound, "cold_start",
			"No signal data available in this area (Cold Start). Please contribute data via mobile app.")
		return
	}
	if err != nil {
		log.Printf("[HTTP] Navigation failed: %v", err)
		writeError(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	c.JSON(http.StatusOK, protocol.NewNavigationVector(result))
}

// Heatmap handles GET /api/v1/navigate/heatmap
func (h *Handler) Heatmap(c *gin.Context) {
	lat, lon, radius, ok := parseArea(c, heatmapRadius)
	if !ok {
		return
	}

	result, err := h.navigator.Heatmap(c.Request.Context(), lat, lon, float64(radius))
	if errors.Is(err, navigation.ErrNotFound) {
		writeError(c, http.StatusNotFound, "cold_start", "No heatmap data available in this area")
		return
	}
	if err != nil {
		log.Printf("[HTTP] Heatmap failed: %v", err)
		writeError(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	c.JSON(http.StatusOK, protocol.HeatmapResponse{Cells: result.Cells, Bounds: result.Bounds})
}

// AggregateArea handles POST /api/v1/navigate/aggregate-area
func (h *Handler) AggregateArea(c *gin.Context) {
	lat, lon, radius, ok := parseArea(c, aggregateRadius)
	if !ok {
		return
	}

	report, err := h.aggregator.AggregateArea(c.Request.Context(), lat, lon, float64(radius))
	if err != nil {
		log.Printf("[HTTP] Area aggregation failed: %v", err)
		writeError(c, http.StatusInternalServerError, "aggregation_failed", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Processed %d cells (%d written, %d cold start, %d failed); processed cells include cold-start cells",
			report.CellsProcessed, report.CellsWritten, report.ColdStart, len(report.Failures)),
		"center":        gin.H{"lat": lat, "lon": lon},
		"radius_meters": radius,
		"report":        report,
	})
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// parseArea reads lat, lon and radius_meters. On failure it writes a 422 and returns false.
func parseArea(c *gin.Context, r radiusRange) (float64, float64, int, bool) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		writeError(c, http.StatusUnprocessableEntity, "validation_error", "lat is required and must be a number")
		return 0, 0, 0, false
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		writeError(c, http.StatusUnprocessableEntity, "validation_error", "lon is required and must be a number")
		return 0, 0, 0, false
	}
	if err := grid.ValidateCoordinates(lat, lon); err != nil {
		writeError(c, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return 0, 0, 0, false
	}

	radius := r.def
	if raw := c.Query("radius_meters"); raw != "" {
		radius, err = strconv.Atoi(raw)
		if err != nil || radius < r.min || radius > r.max {
			writeError(c, http.StatusUnprocessableEntity, "validation_error",
				fmt.Sprintf("radius_meters must be an integer between %d and %d", r.min, r.max))
			return 0, 0, 0, false
		}
	}

	return lat, lon, radius, true
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, protocol.ErrorResponse{Error: code, Message: message})
}

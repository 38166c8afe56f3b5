package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/signaltrail/internal/database"
	"github.com/smukkama/signaltrail/internal/ingestion"
	"github.com/smukkama/signaltrail/internal/model"
	"github.com/smukkama/signaltrail/internal/navigation"
	"github.com/smukkama/signaltrail/internal/privacy"
	"github.com/smukkama/signaltrail/internal/protocol"
)

type fakeNavigator struct {
	nav        *model.NavigationResult
	heat       *model.HeatmapResult
	err        error
	lastRadius float64
}

func (f *fakeNavigator) BestSignalInArea(ctx context.Context, lat, lon, radius float64) (*model.NavigationResult, error) {
	f.lastRadius = radius
	return f.nav, f.err
}

func (f *fakeNavigator) Heatmap(ctx context.Context, lat, lon, radius float64) (*model.HeatmapResult, error) {
	f.lastRadius = radius
	return f.heat, f.err
}

type fakeAreaAggregator struct {
	report *model.AreaReport
	err    error
}

func (f *fakeAreaAggregator) AggregateArea(ctx context.Context, lat, lon, radius float64) (*model.AreaReport, error) {
	return f.report, f.err
}

type testAPI struct {
	router *gin.Engine
	store  *database.MemoryStore
	nav    *fakeNavigator
	agg    *fakeAreaAggregator
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	anonymizer, err := privacy.NewAnonymizer("test-salt")
	require.NoError(t, err)

	store := database.NewMemoryStore()
	svc := ingestion.NewService(store, anonymizer, nil, ingestion.Options{
		Now: func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) },
	})
	api := &testAPI{store: store, nav: &fakeNavigator{}, agg: &fakeAreaAggregator{}}
	api.router = NewRouter(NewHandler(svc, api.nav, api.agg))
	return api
}

func (a *testAPI) do(method, target string, body []byte) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) protocol.ErrorResponse {
	t.Helper()
	var resp protocol.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestIngestEndpoint(t *testing.T) {
	api := newTestAPI(t)

	body := []byte(`{"readings":[
		{"latitude":37.7749,"longitude":-122.4194,"signal_dbm":-70,"network_type":"5G","device_id":"abc"},
		{"latitude":37.7750,"longitude":-122.4195,"signal_dbm":-80,"network_type":"LTE","device_id":"abc","carrier":"tel"}
	]}`)
	w := api.do(http.MethodPost, "/api/v1/ingest", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp protocol.IngestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.AcceptedCount)
	assert.Equal(t, 0, resp.RejectedCount)
	assert.Equal(t, "Successfully ingested 2 readings", resp.Message)
	assert.NotEmpty(t, resp.Cells)
	assert.Equal(t, 2, api.store.SampleCount())

	w = api.do(http.MethodPost, "/api/v1/ingest/", body)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIngestEndpoint_Errors(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, "/api/v1/ingest", []byte(`{"readings":[`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_json", decodeError(t, w).Error)

	w = api.do(http.MethodPost, "/api/v1/ingest", []byte(`{"readings":[]}`))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "validation_error", decodeError(t, w).Error)

	w = api.do(http.MethodPost, "/api/v1/ingest", []byte(`{"readings":[
		{"latitude":37.7749,"longitude":-122.4194,"signal_dbm":-10,"network_type":"5G","device_id":"abc"}
	]}`))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decodeError(t, w).Message, "readings[0].signal_dbm")
	assert.Equal(t, 0, api.store.SampleCount())

	api.store.FailInserts = errors.New("disk full")
	w = api.do(http.MethodPost, "/api/v1/ingest", []byte(`{"readings":[
		{"latitude":37.7749,"longitude":-122.4194,"signal_dbm":-70,"network_type":"5G","device_id":"abc"}
	]}`))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "ingestion_failed", decodeError(t, w).Error)
}

func TestVectorEndpoint(t *testing.T) {
	api := newTestAPI(t)
	current := -95
	api.nav.nav = &model.NavigationResult{
		BearingDegrees: 87.5, DistanceMeters: 231.4, ConfidenceScore: 0.82,
		TargetSignalDBM: -61, CurrentSignalDBM: &current, TargetCell: "8a283082a677fff",
	}

	w := api.do(http.MethodGet, "/api/v1/navigate/vector?lat=37.7749&lon=-122.4194", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 500.0, api.nav.lastRadius, "default radius")

	var vec protocol.NavigationVector
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &vec))
	assert.Equal(t, 87.5, vec.BearingDegrees)
	assert.Equal(t, 0.82, vec.ConfidenceScore)
	require.NotNil(t, vec.TargetSignalDBM)
	assert.Equal(t, -61, *vec.TargetSignalDBM)
	require.NotNil(t, vec.CurrentSignalDBM)
	assert.Equal(t, -95, *vec.CurrentSignalDBM)

	api.do(http.MethodGet, "/api/v1/navigate/vector?lat=37.7749&lon=-122.4194&radius_meters=2000", nil)
	assert.Equal(t, 2000.0, api.nav.lastRadius)
}

func TestVectorEndpoint_Errors(t *testing.T) {
	api := newTestAPI(t)

	for _, target := range []string{
		"/api/v1/navigate/vector?lon=-122.4194",
		"/api/v1/navigate/vector?lat=91&lon=0",
		"/api/v1/navigate/vector?lat=1&lon=1&radius_meters=99",
		"/api/v1/navigate/vector?lat=1&lon=1&radius_meters=2001",
		"/api/v1/navigate/vector?lat=1&lon=1&radius_meters=abc",
	} {
		w := api.do(http.MethodGet, target, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, target)
	}

	api.nav.err = navigation.ErrNotFound
	w := api.do(http.MethodGet, "/api/v1/navigate/vector?lat=1&lon=1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "cold_start", decodeError(t, w).Error)

	api.nav.err = errors.New("db down")
	w = api.do(http.MethodGet, "/api/v1/navigate/vector?lat=1&lon=1", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHeatmapEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.nav.heat = &model.HeatmapResult{
		Cells:  []model.HeatmapCell{{CellID: "a", Lat: 1, Lon: 2, AvgSignalDBM: -70, ConfidenceScore: 0.4, SampleCount: 9}},
		Bounds: model.Bounds{MinLat: 1, MaxLat: 1, MinLon: 2, MaxLon: 2},
	}

	w := api.do(http.MethodGet, "/api/v1/navigate/heatmap?lat=1&lon=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1000.0, api.nav.lastRadius)
	assert.JSONEq(t, `{
		"cells":[{"h3_index":"a","latitude":1,"longitude":2,"avg_signal_dbm":-70,"confidence_score":0.4,"sample_count":9}],
		"bounds":{"min_lat":1,"max_lat":1,"min_lon":2,"max_lon":2}
	}`, w.Body.String())

	w = api.do(http.MethodGet, "/api/v1/navigate/heatmap?lat=1&lon=2&radius_meters=400", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	api.nav.err = navigation.ErrNotFound
	w = api.do(http.MethodGet, "/api/v1/navigate/heatmap?lat=1&lon=2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAggregateAreaEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.agg.report = &model.AreaReport{CellsProcessed: 10, CellsWritten: 3, ColdStart: 6,
		Failures: []model.CellFailure{{CellID: "x", Error: "timeout"}}}

	w := api.do(http.MethodPost, "/api/v1/navigate/aggregate-area?lat=1&lon=2&radius_meters=500", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Message      string           `json:"message"`
		RadiusMeters int              `json:"radius_meters"`
		Report       model.AreaReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Message, "include cold-start cells")
	assert.Equal(t, 500, resp.RadiusMeters)
	assert.Equal(t, *api.agg.report, resp.Report)

	api.agg.err = errors.New("grid failure")
	w = api.do(http.MethodPost, "/api/v1/navigate/aggregate-area?lat=1&lon=2", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodGet, "/api/v1/ingest/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "signal_ingestion")

	// one ingest so the counters have samples
	api.do(http.MethodPost, "/api/v1/ingest", []byte(`{"readings":[]}`))
	w = api.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "signaltrail_ingest_batches_total")
}

package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// AggregationRequest is the message format for the aggregation topic. One
// message is published per affected cell, keyed by cell id.
type AggregationRequest struct {
	CellID      string    `json:"cell_id"`
	Reason      string    `json:"reason"` // ingest, refresh, manual
	RequestedAt time.Time `json:"requested_at"`
}

const (
	ReasonIngest  = "ingest"
	ReasonRefresh = "refresh"
	ReasonManual  = "manual"
)

// EncodeAggregationRequest encodes an AggregationRequest to JSON
func EncodeAggregationRequest(req *AggregationRequest) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeAggregationRequest decodes JSON to AggregationRequest
func DecodeAggregationRequest(data []byte) (*AggregationRequest, error) {
	var req AggregationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if req.CellID == "" {
		return nil, fmt.Errorf("cell_id is required")
	}
	return &req, nil
}

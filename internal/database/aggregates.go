package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/smukkama/signaltrail/internal/grid"
	"github.com/smukkama/signaltrail/internal/model"
)

const aggregateColumns = `
	cell_id, center_lat, center_lon, avg_signal_dbm, max_signal_dbm, min_signal_dbm,
	sample_count, network_type_distribution, confidence_score, last_updated, data_freshness_hours
`

// UpsertAggregate inserts or replaces the aggregate of a cell
func (db *DB) UpsertAggregate(ctx context.Context, agg *model.CellAggregate) error {
	distribution, err := json.Marshal(agg.NetworkDistribution)
	if err != nil {
		return fmt.Errorf("failed to encode network distribution: %w", err)
	}

	query := `
		INSERT INTO signal_aggregates (
			cell_id, center_location, center_lat, center_lon,
			avg_signal_dbm, max_signal_dbm, min_signal_dbm, sample_count,
			network_type_distribution, confidence_score, last_updated, data_freshness_hours
		) VALUES (
			$1, ST_SetSRID(ST_MakePoint($3, $2), 4326)::geography, $2, $3,
			$4, $5, $6, $7,
			$8::jsonb, $9, $10, $11
		)
		ON CONFLICT (cell_id) DO UPDATE
		SET center_location = EXCLUDED.center_location,
		    center_lat = EXCLUDED.center_lat,
		    center_lon = EXCLUDED.center_lon,
		    avg_signal_dbm = EXCLUDED.avg_signal_dbm,
		    max_signal_dbm = EXCLUDED.max_signal_dbm,
		    min_signal_dbm = EXCLUDED.min_signal_dbm,
		    sample_count = EXCLUDED.sample_count,
		    network_type_distribution = EXCLUDED.network_type_distribution,
		    confidence_score = EXCLUDED.confidence_score,
		    last_updated = EXCLUDED.last_updated,
		    data_freshness_hours = EXCLUDED.data_freshness_hours,
		    computed_at = CURRENT_TIMESTAMP
	`

	_, err = db.ExecContext(ctx, query,
		string(agg.CellID),
		agg.CenterLat,
		agg.CenterLon,
		agg.AvgSignalDBM,
		agg.MaxSignalDBM,
		agg.MinSignalDBM,
		agg.SampleCount,
		string(distribution),
		agg.ConfidenceScore,
		agg.LastUpdated,
		agg.DataFreshnessHours,
	)
	return err
}

// GetAggregate retrieves the aggregate of one cell, or nil if there is none
func (db *DB) GetAggregate(ctx context.Context, id grid.CellID) (*model.CellAggregate, error) {
	query := `SELECT ` + aggregateColumns + ` FROM signal_aggregates WHERE cell_id = $1`

	agg, err := scanAggregate(db.QueryRowContext(ctx, query, string(id)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return agg, nil
}

// GetAggregatesByIDs returns the aggregates of the given cells whose confidence
// is at least minConfidence, strongest average signal first.
func (db *DB) GetAggregatesByIDs(ctx context.Context, ids []grid.CellID, minConfidence float64) ([]*model.CellAggregate, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}

	query := `
		SELECT ` + aggregateColumns + `
		FROM signal_aggregates
		WHERE cell_id = ANY($1) AND confidence_score >= $2
		ORDER BY avg_signal_dbm DESC, cell_id
	`

	rows, err := db.QueryContext(ctx, query, pq.Array(keys), minConfidence)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aggs []*model.CellAggregate
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		aggs = append(aggs, agg)
	}

	return aggs, rows.Err()
}

// ListStaleCells returns cells whose aggregate was last computed before cutoff,
// oldest first.
func (db *DB) ListStaleCells(ctx context.Context, cutoff time.Time, limit int) ([]grid.CellID, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT cell_id
		FROM signal_aggregates
		WHERE computed_at < $1
		ORDER BY computed_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cells []grid.CellID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		cells = append(cells, grid.CellID(id))
	}
	return cells, rows.Err()
}

// MarkRefreshed moves cells to the back of the stale list without touching
// their aggregate values. The refresh sweep calls it for every cell it queued,
// so cold-start cells, which are never rewritten, do not hold the front forever.
func (db *DB) MarkRefreshed(ctx context.Context, ids []grid.CellID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}

	_, err := db.ExecContext(ctx, `
		UPDATE signal_aggregates
		SET computed_at = CURRENT_TIMESTAMP
		WHERE cell_id = ANY($1)
	`, pq.Array(keys))
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAggregate(row rowScanner) (*model.CellAggregate, error) {
	var agg model.CellAggregate
	var id string
	var distribution []byte

	if err := row.Scan(
		&id,
		&agg.CenterLat,
		&agg.CenterLon,
		&agg.AvgSignalDBM,
		&agg.MaxSignalDBM,
		&agg.MinSignalDBM,
		&agg.SampleCount,
		&distribution,
		&agg.ConfidenceScore,
		&agg.LastUpdated,
		&agg.DataFreshnessHours,
	); err != nil {
		return nil, err
	}

	agg.CellID = grid.CellID(id)
	if len(distribution) > 0 {
		if err := json.Unmarshal(distribution, &agg.NetworkDistribution); err != nil {
			return nil, fmt.Errorf("failed to decode network distribution of %s: %w", id, err)
		}
	}
	return &agg, nil
}

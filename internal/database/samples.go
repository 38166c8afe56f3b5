package database

import (
	"context"
	"fmt"
	"time"

	"github.com/smukkama/signaltrail/internal/model"
)

// InsertSamples persists a batch of samples in one transaction. Either every
// sample is stored or none is.
func (db *DB) InsertSamples(ctx context.Context, samples []*model.RawSample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO signal_samples (
			id, location, signal_dbm, network_type, ssid_hash,
			gps_accuracy_meters, device_id_hash, carrier_hash, captured_at, ingested_at
		) VALUES (
			$1, ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography, $4, $5, $6,
			$7, $8, $9, $10, $11
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range samples {
		if _, err := stmt.ExecContext(ctx,
			s.ID,
			s.Lon,
			s.Lat,
			s.SignalDBM,
			string(s.NetworkType),
			s.SSIDHash,
			s.GPSAccuracyMeters,
			s.DeviceIDHash,
			s.CarrierHash,
			s.CapturedAt,
			s.IngestedAt,
		); err != nil {
			return fmt.Errorf("failed to insert sample %s: %w", s.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit samples: %w", err)
	}
	return nil
}

// QueryNear summarizes samples within radiusMeters of (lat, lon) captured at
// or after since, one row per network type.
func (db *DB) QueryNear(ctx context.Context, lat, lon, radiusMeters float64, since time.Time) ([]model.NetworkGroup, error) {
	query := `
		SELECT
			network_type,
			AVG(signal_dbm)::float8 AS avg_signal,
			MAX(signal_dbm) AS max_signal,
			MIN(signal_dbm) AS min_signal,
			COUNT(*) AS sample_count,
			MAX(captured_at) AS last_captured
		FROM
			signal_samples
		WHERE
			ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
			AND captured_at >= $4
		GROUP BY
			network_type
		ORDER BY
			network_type
	`

	rows, err := db.QueryContext(ctx, query, lon, lat, radiusMeters, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []model.NetworkGroup
	for rows.Next() {
		var g model.NetworkGroup
		var networkType string
		if err := rows.Scan(
			&networkType,
			&g.AvgSignal,
			&g.MaxSignal,
			&g.MinSignal,
			&g.Count,
			&g.LastTimestamp,
		); err != nil {
			return nil, err
		}
		g.NetworkType = model.NetworkType(networkType)
		groups = append(groups, g)
	}

	return groups, rows.Err()
}

// DeleteSamplesBefore removes samples captured before cutoff.
func (db *DB) DeleteSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM signal_samples WHERE captured_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired samples: %w", err)
	}
	return result.RowsAffected()
}

package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/speedwagon-io/vmc/internal/model"
)

const insertReading = `
	INSERT INTO sensor_readings (time, snapshot_id, device_id, capteur_id, name, unit, raw, value)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// PostgresArchive stores every reading for long term history queries.
type PostgresArchive struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewPostgresArchive(ctx context.Context, log *slog.Logger, url string) (*PostgresArchive, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to configure archive pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping archive database: %w", err)
	}

	a := &PostgresArchive{log: log, pool: pool}
	if err := a.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate archive: %w", err)
	}

	return a, nil
}

func (a *PostgresArchive) migrate(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sensor_readings (
			time        TIMESTAMPTZ      NOT NULL,
			snapshot_id TEXT             NOT NULL,
			device_id   TEXT             NOT NULL,
			capteur_id  INTEGER          NOT NULL,
			name        TEXT             NOT NULL,
			unit        TEXT             NOT NULL,
			raw         INTEGER          NOT NULL,
			value       DOUBLE PRECISION NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sensor_readings_capteur_time
			ON sensor_readings (capteur_id, time DESC);
	`)
	return err
}

func (a *PostgresArchive) Name() string {
	return "archive"
}

func (a *PostgresArchive) Consume(ctx context.Context, snapshot *model.Snapshot) error {
	if len(snapshot.Readings) == 0 {
		return nil
	}

	results := a.pool.SendBatch(ctx, readingsBatch(snapshot))
	defer results.Close()

	for range snapshot.Readings {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to archive reading: %w", err)
		}
	}

	a.log.Debug("snapshot archived",
		slog.String("snapshot_id", snapshot.ID),
		slog.Int("readings", len(snapshot.Readings)),
	)
	return nil
}

func readingsBatch(snapshot *model.Snapshot) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, r := range snapshot.Readings {
		ts := r.Timestamp
		if ts.IsZero() {
			ts = snapshot.Timestamp
		}
		batch.Queue(insertReading, ts, snapshot.ID, snapshot.DeviceID, r.CapteurID, r.Name, r.Unit, int(r.Raw), r.Value)
	}
	return batch
}

// History returns archived values of one sensor recorded since the given time, oldest first.
func (a *PostgresArchive) History(ctx context.Context, capteurID int, since time.Time) ([]model.Measure, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT capteur_id, value, time
		FROM sensor_readings
		WHERE capteur_id = $1 AND time >= $2
		ORDER BY time ASC`, capteurID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}

	measures, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Measure, error) {
		var m model.Measure
		err := row.Scan(&m.CapteurID, &m.Value, &m.Timestamp)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan archive rows: %w", err)
	}
	return measures, nil
}

func (a *PostgresArchive) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

func (a *PostgresArchive) Close() {
	a.pool.Close()
}

package buffer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/speedwagon-io/vmc/internal/lib/logger/sl"
	"github.com/speedwagon-io/vmc/internal/model"
)

// Buffer keeps snapshots that could not be sent until the sender recovers.
type Buffer interface {
	Store(ctx context.Context, snapshot *model.Snapshot) error
	GetPending(ctx context.Context, limit int) ([]*model.Snapshot, error)
	MarkSent(ctx context.Context, ids []string) error
	Cleanup(ctx context.Context, maxAge time.Duration) error
	Count(ctx context.Context) (int64, error)
	Close() error
}

// createdAtLayout is fixed width so created_at sorts lexically.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteBuffer struct {
	log *slog.Logger
	db  *sql.DB
}

func NewSQLiteBuffer(log *slog.Logger, dbPath string) (*SQLiteBuffer, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create buffer directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	buf := &SQLiteBuffer{
		log: log,
		db:  db,
	}

	if err := buf.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return buf, nil
}

func (b *SQLiteBuffer) migrate() error {
	query := `
		CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			device_name TEXT,
			timestamp TEXT NOT NULL,
			readings_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_created_at ON snapshots(created_at);
	`
	_, err := b.db.Exec(query)
	return err
}

func (b *SQLiteBuffer) Store(ctx context.Context, snapshot *model.Snapshot) error {
	readingsJSON, err := json.Marshal(snapshot.Readings)
	if err != nil {
		return fmt.Errorf("failed to marshal readings: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO snapshots (id, device_id, device_name, timestamp, readings_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = b.db.ExecContext(ctx, query,
		snapshot.ID,
		snapshot.DeviceID,
		snapshot.DeviceName,
		snapshot.Timestamp.Format(time.RFC3339Nano),
		string(readingsJSON),
		time.Now().UTC().Format(createdAtLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}

	b.log.Debug("snapshot stored in buffer", slog.String("id", snapshot.ID))
	return nil
}

func (b *SQLiteBuffer) GetPending(ctx context.Context, limit int) ([]*model.Snapshot, error) {
	query := `
		SELECT id, device_id, device_name, timestamp, readings_json
		FROM snapshots
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := b.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*model.Snapshot
	for rows.Next() {
		var id, deviceID, deviceName, timestampStr, readingsJSON string

		if err := rows.Scan(&id, &deviceID, &deviceName, &timestampStr, &readingsJSON); err != nil {
			b.log.Error("failed to scan row", sl.Err(err))
			continue
		}

		timestamp, err := time.Parse(time.RFC3339Nano, timestampStr)
		if err != nil {
			b.log.Error("failed to parse timestamp", sl.Err(err))
			continue
		}

		var readings []model.Reading
		if err := json.Unmarshal([]byte(readingsJSON), &readings); err != nil {
			b.log.Error("failed to unmarshal readings", sl.Err(err))
			continue
		}

		snapshots = append(snapshots, &model.Snapshot{
			ID:         id,
			DeviceID:   deviceID,
			DeviceName: deviceName,
			Timestamp:  timestamp,
			Readings:   readings,
		})
	}

	return snapshots, rows.Err()
}

func (b *SQLiteBuffer) MarkSent(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM snapshots WHERE id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("failed to delete snapshot %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	b.log.Debug("marked snapshots as sent", slog.Int("count", len(ids)))
	return nil
}

func (b *SQLiteBuffer) Cleanup(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().UTC().Add(-maxAge).Format(createdAtLayout)

	result, err := b.db.ExecContext(ctx, "DELETE FROM snapshots WHERE created_at < ?", cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup old snapshots: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		b.log.Info("cleaned up old buffer entries", slog.Int64("deleted", deleted))
	}

	return nil
}

func (b *SQLiteBuffer) Count(ctx context.Context) (int64, error) {
	var count int64
	err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM snapshots").Scan(&count)
	return count, err
}

func (b *SQLiteBuffer) Close() error {
	return b.db.Close()
}

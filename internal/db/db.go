// Package db is the sqlite persistence sink for sensor and ground-truth
// records.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/agentsim/internal/sensor"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the sqlite handle. It implements sensor.Sink.
type DB struct {
	*sql.DB
	path string
}

var _ sensor.Sink = (*DB)(nil)

// pragmas are applied to every pooled connection.
var pragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(1)",
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

func openSQL(path string) (*sql.DB, error) {
	return sql.Open("sqlite", dsn(path))
}

// NewDB opens (or creates) the database at path and applies all pending
// migrations.
func NewDB(path string) (*DB, error) {
	sqlDB, err := openSQL(path)
	if err != nil {
		return nil, err
	}
	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string { return db.path }

// Write inserts one record.
func (db *DB) Write(ctx context.Context, rec sensor.Record) error {
	return db.WriteMany(ctx, []sensor.Record{rec})
}

// WriteMany inserts recs in a single transaction. Either every record is
// stored or none is.
func (db *DB) WriteMany(ctx context.Context, recs []sensor.Record) (err error) {
	if len(recs) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, rec := range recs {
		switch r := rec.(type) {
		case sensor.Metadata:
			err = insertMetadata(ctx, tx, r)
		case sensor.CellRecord:
			err = insertCell(ctx, tx, r)
		case sensor.AgentRecord:
			err = insertAgent(ctx, tx, r)
		default:
			err = fmt.Errorf("unsupported record type %T", rec)
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertMetadata(ctx context.Context, tx *sql.Tx, m sensor.Metadata) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO metadata (
			timestamp, sensor_id, sensor_type, position_x, position_y,
			width, height, frame_rate, cell_size, max_depth
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Timestamp, m.SensorID, m.SensorType, m.Position.X, m.Position.Y,
		m.Width, m.Height, m.FrameRate, nullFloat(m.CellSize), nullInt(m.MaxDepth),
	)
	if err != nil {
		return fmt.Errorf("insert metadata for %s: %w", m.SensorID, err)
	}
	return nil
}

func insertCell(ctx context.Context, tx *sql.Tx, c sensor.CellRecord) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO cell_records (
			timestamp, sensor_id, data_type, cell_id, cell_x, cell_y,
			cell_size, depth, total_agents, min_group_size, k_anonymous
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Timestamp, c.SensorID, c.Kind, int64(c.CellID), c.CellPosition.X, c.CellPosition.Y,
		c.CellSize, nullInt(c.Depth), c.Total, c.MinGroupSize, c.KAnonymous,
	)
	if err != nil {
		return fmt.Errorf("insert cell %d for %s: %w", c.CellID, c.SensorID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for _, tc := range c.Counts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cell_type_counts (record_id, agent_type, count) VALUES (?, ?, ?)`,
			id, tc.Type, tc.Count,
		); err != nil {
			return fmt.Errorf("insert count %s for cell %d: %w", tc.Type, c.CellID, err)
		}
	}
	return nil
}

func insertAgent(ctx context.Context, tx *sql.Tx, a sensor.AgentRecord) error {
	var vx, vy sql.NullFloat64
	if a.Velocity != nil {
		vx = sql.NullFloat64{Float64: a.Velocity.X, Valid: true}
		vy = sql.NullFloat64{Float64: a.Velocity.Y, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO agent_records (
			timestamp, sensor_id, data_type, agent_id, agent_type,
			position_x, position_y, velocity_x, velocity_y
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Timestamp, a.SensorID, a.Kind, a.AgentID, a.Type,
		a.Position.X, a.Position.Y, vx, vy,
	)
	if err != nil {
		return fmt.Errorf("insert agent %s: %w", a.AgentID, err)
	}
	return nil
}

// Clear deletes every record written for scope.
func (db *DB) Clear(ctx context.Context, scope string) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	stmts := []string{
		`DELETE FROM cell_type_counts WHERE record_id IN (SELECT id FROM cell_records WHERE sensor_id = ?)`,
		`DELETE FROM cell_records WHERE sensor_id = ?`,
		`DELETE FROM agent_records WHERE sensor_id = ?`,
		`DELETE FROM metadata WHERE sensor_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err = tx.ExecContext(ctx, stmt, scope); err != nil {
			return fmt.Errorf("clear %s: %w", scope, err)
		}
	}
	return tx.Commit()
}

func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: v != 0}
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

// ErrNoRecords is returned by queries that found nothing for a sensor.
var ErrNoRecords = errors.New("no records")

package db

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/agentsim/internal/sensor"
)

// CellPoint is the total of one cell at one timestamp.
type CellPoint struct {
	Timestamp string
	CellID    uint64
	Total     int
}

// SensorMetadata returns every metadata record in insertion order.
func (db *DB) SensorMetadata(ctx context.Context) ([]sensor.Metadata, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT timestamp, sensor_id, sensor_type, position_x, position_y,
		       width, height, frame_rate, cell_size, max_depth
		FROM metadata ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sensor.Metadata
	for rows.Next() {
		var m sensor.Metadata
		var cellSize sql.NullFloat64
		var maxDepth sql.NullInt64
		if err := rows.Scan(&m.Timestamp, &m.SensorID, &m.SensorType, &m.Position.X, &m.Position.Y,
			&m.Width, &m.Height, &m.FrameRate, &cellSize, &maxDepth); err != nil {
			return nil, err
		}
		m.CellSize = cellSize.Float64
		m.MaxDepth = int(maxDepth.Int64)
		out = append(out, m)
	}
	return out, rows.Err()
}

// CellSeries returns the per-cell totals of sensorID ordered by time.
func (db *DB) CellSeries(ctx context.Context, sensorID string) ([]CellPoint, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT timestamp, cell_id, total_agents
		FROM cell_records
		WHERE sensor_id = ?
		ORDER BY id`, sensorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CellPoint
	for rows.Next() {
		var p CellPoint
		var id int64
		if err := rows.Scan(&p.Timestamp, &id, &p.Total); err != nil {
			return nil, err
		}
		p.CellID = uint64(id)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b CellPoint) int {
		if c := strings.Compare(a.Timestamp, b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.CellID, b.CellID)
	})
	return out, nil
}

// LatestCells returns the cell records of the most recent batch of
// sensorID, with their per-type counts. It returns ErrNoRecords when the
// sensor has not emitted anything yet.
func (db *DB) LatestCells(ctx context.Context, sensorID string) ([]sensor.CellRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.id, c.timestamp, c.data_type, c.cell_id, c.cell_x, c.cell_y,
		       c.cell_size, c.depth, c.total_agents, c.min_group_size, c.k_anonymous
		FROM cell_records c
		WHERE c.sensor_id = ?
		  AND c.timestamp = (SELECT MAX(timestamp) FROM cell_records WHERE sensor_id = ?)
		ORDER BY c.id`, sensorID, sensorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sensor.CellRecord
	var ids []int64
	for rows.Next() {
		rec := sensor.CellRecord{SensorID: sensorID}
		var rowID, cellID int64
		var depth sql.NullInt64
		var x, y float64
		if err := rows.Scan(&rowID, &rec.Timestamp, &rec.Kind, &cellID, &x, &y,
			&rec.CellSize, &depth, &rec.Total, &rec.MinGroupSize, &rec.KAnonymous); err != nil {
			return nil, err
		}
		rec.CellID = uint64(cellID)
		rec.CellPosition = r2.Vec{X: x, Y: y}
		rec.Depth = int(depth.Int64)
		out = append(out, rec)
		ids = append(ids, rowID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("sensor %s: %w", sensorID, ErrNoRecords)
	}

	for i, id := range ids {
		counts, err := db.typeCounts(ctx, id)
		if err != nil {
			return nil, err
		}
		out[i].Counts = counts
	}
	// cell_id is stored as a signed integer, so deep ids sort negative in SQL.
	slices.SortFunc(out, func(a, b sensor.CellRecord) int { return cmp.Compare(a.CellID, b.CellID) })
	return out, nil
}

func (db *DB) typeCounts(ctx context.Context, recordID int64) ([]sensor.TypeCount, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT agent_type, count FROM cell_type_counts WHERE record_id = ? ORDER BY agent_type`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []sensor.TypeCount
	for rows.Next() {
		var tc sensor.TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// AgentTrack returns the ground-truth or sensed records of one agent in
// time order.
func (db *DB) AgentTrack(ctx context.Context, sensorID, agentID string) ([]sensor.AgentRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT timestamp, data_type, agent_type, position_x, position_y, velocity_x, velocity_y
		FROM agent_records
		WHERE sensor_id = ? AND agent_id = ?
		ORDER BY id`, sensorID, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sensor.AgentRecord
	for rows.Next() {
		rec := sensor.AgentRecord{SensorID: sensorID, AgentID: agentID}
		var vx, vy sql.NullFloat64
		if err := rows.Scan(&rec.Timestamp, &rec.Kind, &rec.Type, &rec.Position.X, &rec.Position.Y, &vx, &vy); err != nil {
			return nil, err
		}
		if vx.Valid && vy.Valid {
			rec.Velocity = &r2.Vec{X: vx.Float64, Y: vy.Float64}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TableCounts returns the row count of each record table.
func (db *DB) TableCounts(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int, 4)
	for _, table := range []string{"metadata", "cell_records", "cell_type_counts", "agent_records"} {
		var n int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}

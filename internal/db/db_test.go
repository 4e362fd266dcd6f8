package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/agentsim/internal/sensor"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func cell(ts, sensorID string, id uint64, counts ...sensor.TypeCount) sensor.CellRecord {
	rec := sensor.CellRecord{
		Timestamp:    ts,
		SensorID:     sensorID,
		Kind:         sensor.DataAdaptiveGrid,
		CellID:       id,
		CellPosition: r2.Vec{X: 25, Y: 0},
		CellSize:     25,
		Depth:        2,
		Counts:       counts,
	}
	for _, c := range counts {
		rec.Total += c.Count
		if rec.MinGroupSize == 0 || c.Count < rec.MinGroupSize {
			rec.MinGroupSize = c.Count
		}
	}
	rec.KAnonymous = rec.MinGroupSize >= 2
	return rec
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}

	var synchronous int
	require.NoError(t, db.QueryRow("PRAGMA synchronous").Scan(&synchronous))
	if synchronous != 1 {
		t.Errorf("Expected synchronous=1 (NORMAL), got %d", synchronous)
	}
}

func TestMigrations_UpDown(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	// min_group_size arrives with version 2.
	_, err = db.Exec("SELECT min_group_size FROM cell_records")
	assert.Error(t, err)

	require.NoError(t, db.MigrateUp())
	require.NoError(t, db.MigrateUp(), "re-running up must be a no-op")
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestWriteMany_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	meta := sensor.Metadata{
		Timestamp: "2024-05-01T08:00:00.000", SensorID: "q", SensorType: "adaptive-grid-based",
		Position: r2.Vec{X: 1, Y: 2}, Width: 100, Height: 50, FrameRate: 2, CellSize: 25, MaxDepth: 3,
	}
	require.NoError(t, db.Write(ctx, meta))

	older := cell("2024-05-01T08:00:00.500", "q", 48, sensor.TypeCount{Type: "Pedestrian", Count: 1})
	latestA := cell("2024-05-01T08:00:01.000", "q", 49,
		sensor.TypeCount{Type: "Cyclist", Count: 2},
		sensor.TypeCount{Type: "Pedestrian", Count: 3},
	)
	// A depth-31 id uses all 64 bits.
	deep := cell("2024-05-01T08:00:01.000", "q", ^uint64(0), sensor.TypeCount{Type: "Drone", Count: 1})
	require.NoError(t, db.WriteMany(ctx, []sensor.Record{older, latestA, deep}))

	gotMeta, err := db.SensorMetadata(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff([]sensor.Metadata{meta}, gotMeta); diff != "" {
		t.Errorf("metadata (-want +got):\n%s", diff)
	}

	latest, err := db.LatestCells(ctx, "q")
	require.NoError(t, err)
	if diff := cmp.Diff([]sensor.CellRecord{latestA, deep}, latest); diff != "" {
		t.Errorf("latest cells (-want +got):\n%s", diff)
	}

	series, err := db.CellSeries(ctx, "q")
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.Equal(t, CellPoint{Timestamp: "2024-05-01T08:00:00.500", CellID: 48, Total: 1}, series[0])
}

func TestWriteMany_AgentVelocityNullable(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	v := r2.Vec{X: 0, Y: 0}
	recs := []sensor.Record{
		sensor.AgentRecord{Timestamp: "t0", SensorID: "ab", Kind: sensor.DataAgentEstimate, AgentID: "a", Type: "Pedestrian", Position: r2.Vec{X: 1, Y: 1}},
		sensor.AgentRecord{Timestamp: "t1", SensorID: "ab", Kind: sensor.DataAgentEstimate, AgentID: "a", Type: "Pedestrian", Position: r2.Vec{X: 1, Y: 1}, Velocity: &v},
	}
	require.NoError(t, db.WriteMany(ctx, recs))

	track, err := db.AgentTrack(ctx, "ab", "a")
	require.NoError(t, err)
	require.Len(t, track, 2)
	assert.Nil(t, track[0].Velocity, "unknown velocity must stay unknown")
	require.NotNil(t, track[1].Velocity)
	assert.Equal(t, r2.Vec{}, *track[1].Velocity)
}

type bogusRecord struct{}

func (bogusRecord) DataType() string { return "bogus" }
func (bogusRecord) Scope() string    { return "x" }

func TestWriteMany_IsAtomic(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	err := db.WriteMany(ctx, []sensor.Record{
		cell("t", "q", 12, sensor.TypeCount{Type: "Pedestrian", Count: 1}),
		bogusRecord{},
	})
	require.Error(t, err)

	counts, err := db.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts["cell_records"])
	assert.Equal(t, 0, counts["cell_type_counts"])
}

func TestClear_ByScope(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	require.NoError(t, db.WriteMany(ctx, []sensor.Record{
		sensor.Metadata{SensorID: "a", SensorType: "grid-based", FrameRate: 1},
		cell("t", "a", 3, sensor.TypeCount{Type: "Pedestrian", Count: 2}),
		cell("t", "b", 3, sensor.TypeCount{Type: "Pedestrian", Count: 4}),
		sensor.AgentRecord{Timestamp: "t", SensorID: "a", Kind: sensor.DataAgent, AgentID: "x", Type: "Drone"},
	}))

	require.NoError(t, db.Clear(ctx, "a"))
	require.NoError(t, db.Clear(ctx, "a"), "clear must be idempotent")

	counts, err := db.TableCounts(ctx)
	require.NoError(t, err)
	want := map[string]int{"metadata": 0, "cell_records": 1, "cell_type_counts": 1, "agent_records": 0}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("table counts (-want +got):\n%s", diff)
	}

	_, err = db.LatestCells(ctx, "a")
	assert.True(t, errors.Is(err, ErrNoRecords), "expected ErrNoRecords, got %v", err)
}

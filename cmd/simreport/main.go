// Command simreport renders PNG charts of the per-cell sensor records of a
// finished run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/agentsim/internal/db"
	"github.com/banshee-data/agentsim/internal/monitor"
	"github.com/banshee-data/agentsim/internal/security"
	"github.com/banshee-data/agentsim/internal/sensor"
)

var (
	dbPath   = flag.String("db", "agentsim.db", "Path to the simulation database")
	sensorID = flag.String("sensor", "", "Sensor id to plot (default: every grid and adaptive sensor)")
	outDir   = flag.String("out", ".", "Output directory for PNG files")
	maxCells = flag.Int("max-cells", 12, "Cells drawn individually per chart, busiest first (0 for all)")
)

// reportable returns the ids of sensors that write cell records.
func reportable(meta []sensor.Metadata) []string {
	var ids []string
	for _, m := range meta {
		if m.SensorType == sensor.GridBased.String() || m.SensorType == sensor.AdaptiveGridBased.String() {
			ids = append(ids, m.SensorID)
		}
	}
	return ids
}

func run(ctx context.Context, store *db.DB, ids []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for _, id := range ids {
		points, err := store.CellSeries(ctx, id)
		if err != nil {
			return fmt.Errorf("load cells for %s: %w", id, err)
		}
		path, err := security.OutputPath(dir, "cells_", id, ".png")
		if err != nil {
			return err
		}
		if err := monitor.PlotCellSeries(points, id, path, limit); err != nil {
			return err
		}
		log.Printf("wrote %s (%d cell records)", path, len(points))
	}
	return nil
}

func main() {
	flag.Parse()

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	ids := []string{*sensorID}
	if *sensorID == "" {
		meta, err := store.SensorMetadata(ctx)
		if err != nil {
			log.Fatalf("failed to read sensor metadata: %v", err)
		}
		ids = reportable(meta)
		if len(ids) == 0 {
			log.Fatalf("no grid or adaptive sensors in %s", *dbPath)
		}
	}

	if err := run(ctx, store, ids, *outDir, *maxCells); err != nil {
		log.Fatalf("report failed: %v", err)
	}
}

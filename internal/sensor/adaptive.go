package sensor

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/agentsim/internal/agent"
	"github.com/banshee-data/agentsim/internal/monitoring"
	"github.com/banshee-data/agentsim/internal/quadtree"
	"github.com/banshee-data/agentsim/internal/timeutil"
)

// ErrAreaNotCovered is returned when an adaptive sensor's root cells would
// leave part of its detection area outside the quadtree.
var ErrAreaNotCovered = errors.New("adaptive grid does not cover the detection area")

// adaptiveSensor re-partitions its quadtree from the visible agent
// positions on every gated tick and counts agents per leaf.
type adaptiveSensor struct {
	base
	tree *quadtree.Tree
}

func newAdaptiveSensor(b base) (*adaptiveSensor, error) {
	if err := CheckAdaptiveCoverage(b.spec.Area.Size(), b.spec.CellSize); err != nil {
		return nil, fmt.Errorf("sensor %s: %w", b.spec.ID, err)
	}
	tree, err := quadtree.New(b.spec.Area.Min, b.spec.CellSize, b.spec.MaxDepth)
	if err != nil {
		return nil, fmt.Errorf("sensor %s: %w", b.spec.ID, err)
	}
	return &adaptiveSensor{base: b, tree: tree}, nil
}

func (s *adaptiveSensor) Consume(f agent.Frame, dt float64) (Batch, bool) {
	if !s.gate.tick(dt) {
		return Batch{}, false
	}
	visible := s.visible(f)
	if len(visible) == 0 {
		return Batch{}, false
	}

	points := make([]r2.Vec, len(visible))
	for i, v := range visible {
		points[i] = v.Position
	}
	s.tree.Reset()
	// The root cells cover the whole area, so a failure here is a bug.
	if err := s.tree.SplitFromPositions(points); err != nil {
		monitoring.Logf("[Sensor] %s: split failed: %v", s.spec.ID, err)
	}

	cells := make(map[uint64]tally)
	for _, v := range visible {
		id, err := s.tree.NearestCell(v.Position)
		if err != nil {
			continue
		}
		if cells[id] == nil {
			cells[id] = make(tally)
		}
		cells[id][v.Type]++
	}
	if len(cells) == 0 {
		return Batch{}, false
	}

	ts := timeutil.Format(f.Timestamp)
	b := Batch{SensorID: s.spec.ID, Timestamp: ts, Records: make([]Record, 0, len(cells))}
	for _, id := range sortedKeys(cells) {
		bounds, err := s.tree.CellBounds(id)
		if err != nil {
			continue
		}
		rec := cells[id].record(s.spec.K)
		rec.Timestamp = ts
		rec.SensorID = s.spec.ID
		rec.Kind = DataAdaptiveGrid
		rec.CellID = id
		rec.CellPosition = bounds.Min
		rec.CellSize = bounds.Size().X
		rec.Depth = quadtree.Depth(id)
		b.Records = append(b.Records, rec)
	}
	return b, true
}

// CheckAdaptiveCoverage reports an error unless the four root cells of side
// cellSize, anchored at the area origin, span an area of the given size.
func CheckAdaptiveCoverage(area r2.Vec, cellSize float64) error {
	if span := 2 * cellSize; span < max(area.X, area.Y) {
		return fmt.Errorf("%w: root cells span %v but the detection area is %vx%v", ErrAreaNotCovered, span, area.X, area.Y)
	}
	return nil
}

func sortedKeys(m map[uint64]tally) []uint64 {
	return slices.Sorted(maps.Keys(m))
}

package sensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/agentsim/internal/agent"
	"github.com/banshee-data/agentsim/internal/timeutil"
)

// gridSensor counts agents in a flat grid laid over the detection area.
// Cell ids are row*cols + col.
type gridSensor struct {
	base
	cols, rows int
}

func newGridSensor(b base) (*gridSensor, error) {
	if b.spec.CellSize <= 0 {
		return nil, fmt.Errorf("sensor %s: cell size must be positive, got %v", b.spec.ID, b.spec.CellSize)
	}
	size := b.spec.Area.Size()
	return &gridSensor{
		base: b,
		cols: int(math.Ceil(size.X / b.spec.CellSize)),
		rows: int(math.Ceil(size.Y / b.spec.CellSize)),
	}, nil
}

// cellIndex returns the column and row of p, which must be inside the
// detection area.
func (s *gridSensor) cellIndex(p r2.Vec) (col, row int) {
	d := r2.Sub(p, s.spec.Area.Min)
	col = min(int(d.X/s.spec.CellSize), s.cols-1)
	row = min(int(d.Y/s.spec.CellSize), s.rows-1)
	return col, row
}

func (s *gridSensor) Consume(f agent.Frame, dt float64) (Batch, bool) {
	if !s.gate.tick(dt) {
		return Batch{}, false
	}
	visible := s.visible(f)
	if len(visible) == 0 {
		return Batch{}, false
	}

	cells := make(map[uint64]tally)
	for _, v := range visible {
		col, row := s.cellIndex(v.Position)
		id := uint64(row*s.cols + col)
		if cells[id] == nil {
			cells[id] = make(tally)
		}
		cells[id][v.Type]++
	}

	ts := timeutil.Format(f.Timestamp)
	b := Batch{SensorID: s.spec.ID, Timestamp: ts, Records: make([]Record, 0, len(cells))}
	for _, id := range sortedKeys(cells) {
		col, row := int(id)%s.cols, int(id)/s.cols
		rec := cells[id].record(s.spec.K)
		rec.Timestamp = ts
		rec.SensorID = s.spec.ID
		rec.Kind = DataGrid
		rec.CellID = id
		rec.CellPosition = r2.Add(s.spec.Area.Min, r2.Vec{
			X: float64(col) * s.spec.CellSize,
			Y: float64(row) * s.spec.CellSize,
		})
		rec.CellSize = s.spec.CellSize
		b.Records = append(b.Records, rec)
	}
	return b, true
}

// Package collision provides the flat, fixed-size grid the simulation uses as
// a coarse proximity index.
package collision

import (
	"fmt"
	"math"

	"github.com/banshee-data/agentsim/internal/agent"
)

// CellKey addresses a grid cell by column and row.
type CellKey struct {
	Col, Row int
}

// Pair is two agents whose buffer zones overlap.
type Pair struct {
	A, B *agent.Agent
}

// Grid buckets agents into square cells of a fixed size. It is rebuilt every
// tick and is not safe for concurrent use.
type Grid struct {
	cellSize   float64
	cols, rows int
	cells      [][]*agent.Agent
}

// NewGrid returns a grid covering width x height with square cells of side
// cellSize.
func NewGrid(cellSize, width, height float64) (*Grid, error) {
	if cellSize <= 0 {
		return nil, fmt.Errorf("collision grid: cell size must be positive, got %v", cellSize)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("collision grid: area %vx%v is empty", width, height)
	}
	cols := int(math.Ceil(width / cellSize))
	rows := int(math.Ceil(height / cellSize))
	return &Grid{
		cellSize: cellSize,
		cols:     cols,
		rows:     rows,
		cells:    make([][]*agent.Agent, cols*rows),
	}, nil
}

// CellSize returns the side of a grid cell.
func (g *Grid) CellSize() float64 { return g.cellSize }

// Dims returns the number of columns and rows.
func (g *Grid) Dims() (cols, rows int) { return g.cols, g.rows }

// KeyFor returns the cell of a position, clamped to the grid edge. Agents
// just outside the world still land in the border cells.
func (g *Grid) KeyFor(x, y float64) CellKey {
	c := int(math.Floor(x / g.cellSize))
	r := int(math.Floor(y / g.cellSize))
	return CellKey{Col: clamp(c, g.cols), Row: clamp(r, g.rows)}
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func (g *Grid) index(k CellKey) int { return k.Row*g.cols + k.Col }

// Clear empties every cell, keeping the bucket storage.
func (g *Grid) Clear() {
	for i := range g.cells {
		clear(g.cells[i])
		g.cells[i] = g.cells[i][:0]
	}
}

// AddAgent buckets a by its current position.
func (g *Grid) AddAgent(a *agent.Agent) {
	i := g.index(g.KeyFor(a.Position.X, a.Position.Y))
	g.cells[i] = append(g.cells[i], a)
}

// Agents returns the agents bucketed in k.
func (g *Grid) Agents(k CellKey) []*agent.Agent {
	if k.Col < 0 || k.Row < 0 || k.Col >= g.cols || k.Row >= g.rows {
		return nil
	}
	return g.cells[g.index(k)]
}

// CalculateDensity returns, for every occupied cell, the number of agents
// per square unit.
func (g *Grid) CalculateDensity() map[CellKey]float64 {
	area := g.cellSize * g.cellSize
	out := make(map[CellKey]float64)
	for i, bucket := range g.cells {
		if len(bucket) == 0 {
			continue
		}
		out[CellKey{Col: i % g.cols, Row: i / g.cols}] = float64(len(bucket)) / area
	}
	return out
}

// Nearby returns the agents in a's cell and the eight cells around it,
// excluding a itself.
func (g *Grid) Nearby(a *agent.Agent) []*agent.Agent {
	k := g.KeyFor(a.Position.X, a.Position.Y)
	var out []*agent.Agent
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			for _, o := range g.Agents(CellKey{Col: k.Col + dc, Row: k.Row + dr}) {
				if o != a {
					out = append(out, o)
				}
			}
		}
	}
	return out
}

// CheckCollisions flags every pair of agents whose buffer zones overlap,
// comparing each agent only against its own and the adjacent cells. Each
// pair is reported once.
func (g *Grid) CheckCollisions() []Pair {
	var pairs []Pair
	for i, bucket := range g.cells {
		col, row := i%g.cols, i/g.cols
		for ai, a := range bucket {
			// later agents in the same cell
			for _, b := range bucket[ai+1:] {
				pairs = g.test(pairs, a, b)
			}
			// forward half of the neighbourhood, so each cell pair is seen once
			for _, d := range forward {
				for _, b := range g.Agents(CellKey{Col: col + d.Col, Row: row + d.Row}) {
					pairs = g.test(pairs, a, b)
				}
			}
		}
	}
	return pairs
}

var forward = [...]CellKey{{Col: 1, Row: 0}, {Col: -1, Row: 1}, {Col: 0, Row: 1}, {Col: 1, Row: 1}}

func (g *Grid) test(pairs []Pair, a, b *agent.Agent) []Pair {
	if !agent.Overlaps(a, b) {
		return pairs
	}
	a.CollisionPredicted = true
	b.CollisionPredicted = true
	return append(pairs, Pair{A: a, B: b})
}

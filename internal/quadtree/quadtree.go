// Package quadtree implements the adaptive spatial index used by the
// adaptive-grid sensors.
//
// The indexed area is a square of side 2*cellSize anchored at the tree
// origin, divided into four fixed root cells of side cellSize. Cells are
// identified by Morton-style ids: the two-bit prefix 0b11 followed by one
// (row, col) bit pair per level, so a root id is 0b11rc (12..15) and a child
// id is parent<<2 | (row<<1 | col). Row 0 is the north row (smallest y) and
// column 0 the west column. Depth counts from 1 at the root cells; leaves
// produced by SplitFromPositions sit at maxDepth.
//
// Nodes are kept in an arena. The four roots are pinned at indexes 0..3 and
// split appends four contiguous children. Reset truncates the arena back to
// the roots and keeps its capacity so the steady-state tick loop does not
// allocate; Clear releases it.
package quadtree

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"slices"

	"gonum.org/v1/gonum/spatial/r2"
)

var (
	// ErrInvalidPath is returned when a split path is empty or names a
	// quadrant outside 0..3.
	ErrInvalidPath = errors.New("quadtree: invalid split path")
	// ErrDepthExceeded is returned when a split would create cells deeper
	// than the configured max depth.
	ErrDepthExceeded = errors.New("quadtree: max depth exceeded")
	// ErrOutOfBounds is returned for points outside the root cells.
	ErrOutOfBounds = errors.New("quadtree: point outside root bounds")
	// ErrInvalidID is returned for ids that do not decode to a cell.
	ErrInvalidID = errors.New("quadtree: invalid cell id")
	// ErrUnknownCell is returned for well-formed ids with no node in the tree.
	ErrUnknownCell = errors.New("quadtree: unknown cell")
)

const (
	rootPrefix = 0b11
	numRoots   = 4
	// MaxSupportedDepth is the deepest level a uint64 id can encode.
	MaxSupportedDepth = 31
	leaf              = int32(-1)
)

type node struct {
	id     uint64
	min    r2.Vec
	size   float64
	depth  int
	parent int32
	child  int32 // arena index of the first of four children, or leaf
}

// Tree is an adaptive quadtree over a fixed square area. It is not safe for
// concurrent use.
type Tree struct {
	origin   r2.Vec
	cellSize float64
	maxDepth int

	nodes []node
	index map[uint64]int32
}

// New builds a tree whose four root cells of side cellSize start at origin.
func New(origin r2.Vec, cellSize float64, maxDepth int) (*Tree, error) {
	if !(cellSize > 0) || math.IsInf(cellSize, 0) {
		return nil, fmt.Errorf("quadtree: cell size must be positive, got %v", cellSize)
	}
	if maxDepth < 1 || maxDepth > MaxSupportedDepth {
		return nil, fmt.Errorf("quadtree: max depth must be in [1, %d], got %d", MaxSupportedDepth, maxDepth)
	}
	t := &Tree{origin: origin, cellSize: cellSize, maxDepth: maxDepth}
	t.init()
	return t, nil
}

func (t *Tree) init() {
	t.nodes = make([]node, 0, numRoots*5)
	t.index = make(map[uint64]int32, numRoots*5)
	for q := 0; q < numRoots; q++ {
		row, col := q>>1, q&1
		id := uint64(rootPrefix<<2 | q)
		t.nodes = append(t.nodes, node{
			id:     id,
			min:    r2.Vec{X: t.origin.X + float64(col)*t.cellSize, Y: t.origin.Y + float64(row)*t.cellSize},
			size:   t.cellSize,
			depth:  1,
			parent: leaf,
			child:  leaf,
		})
		t.index[id] = int32(q)
	}
}

// MaxDepth returns the configured leaf depth.
func (t *Tree) MaxDepth() int { return t.maxDepth }

// CellSize returns the side of a root cell.
func (t *Tree) CellSize() float64 { return t.cellSize }

// Bounds returns the area covered by the four root cells.
func (t *Tree) Bounds() r2.Box {
	return r2.Box{Min: t.origin, Max: r2.Add(t.origin, r2.Vec{X: 2 * t.cellSize, Y: 2 * t.cellSize})}
}

// Len returns the number of live nodes, roots included.
func (t *Tree) Len() int { return len(t.nodes) }

// Contains reports whether p lies inside the root cells. The far edges are
// exclusive.
func (t *Tree) Contains(p r2.Vec) bool {
	b := t.Bounds()
	return p.X >= b.Min.X && p.X < b.Max.X && p.Y >= b.Min.Y && p.Y < b.Max.Y
}

// Split splits every node along path. path[0] selects the root cell and each
// following entry the child quadrant (row<<1 | col) of the previous node.
// Every node on the path is split, so the deepest cells created sit at
// depth len(path)+1. Nodes already split are left untouched.
func (t *Tree) Split(path []int) error {
	if len(path) == 0 {
		return ErrInvalidPath
	}
	if len(path)+1 > t.maxDepth {
		return fmt.Errorf("split path of length %d with max depth %d: %w", len(path), t.maxDepth, ErrDepthExceeded)
	}
	for i, q := range path {
		if q < 0 || q > 3 {
			return fmt.Errorf("quadrant %d at position %d: %w", q, i, ErrInvalidPath)
		}
	}

	idx := int32(path[0])
	for i, q := range path {
		if i > 0 {
			idx = t.nodes[idx].child + int32(q)
		}
		t.split(idx)
	}
	return nil
}

func (t *Tree) split(idx int32) {
	if t.nodes[idx].child != leaf {
		return
	}
	n := t.nodes[idx]
	half := n.size / 2
	first := int32(len(t.nodes))
	for q := 0; q < 4; q++ {
		row, col := q>>1, q&1
		id := n.id<<2 | uint64(q)
		t.nodes = append(t.nodes, node{
			id:     id,
			min:    r2.Vec{X: n.min.X + float64(col)*half, Y: n.min.Y + float64(row)*half},
			size:   half,
			depth:  n.depth + 1,
			parent: idx,
			child:  leaf,
		})
		t.index[id] = first + int32(q)
	}
	t.nodes[idx].child = first
}

// SplitFromPositions splits the tree so that every position in points ends
// up in a leaf at max depth. Shared path prefixes are applied once. Points
// outside the root cells are skipped and reported through the returned
// error, which wraps ErrOutOfBounds; all other points are still applied.
func (t *Tree) SplitFromPositions(points []r2.Vec) error {
	if t.maxDepth == 1 {
		return t.checkBounds(points)
	}

	// Each path is identified by the id of the last node it splits.
	ends := make([]uint64, 0, len(points))
	skipped := 0
	for _, p := range points {
		id, err := t.cellAt(p, t.maxDepth-1)
		if err != nil {
			skipped++
			continue
		}
		ends = append(ends, id)
	}
	slices.Sort(ends)
	ends = slices.Compact(ends)

	for _, id := range ends {
		if err := t.Split(PathOf(id)); err != nil {
			return err
		}
	}
	if skipped > 0 {
		return fmt.Errorf("%d of %d positions skipped: %w", skipped, len(points), ErrOutOfBounds)
	}
	return nil
}

func (t *Tree) checkBounds(points []r2.Vec) error {
	skipped := 0
	for _, p := range points {
		if !t.Contains(p) {
			skipped++
		}
	}
	if skipped > 0 {
		return fmt.Errorf("%d of %d positions skipped: %w", skipped, len(points), ErrOutOfBounds)
	}
	return nil
}

// cellAt returns the id of the cell at depth that contains p, whether or not
// that cell currently exists in the tree. It descends by the same midpoint
// comparisons as NearestCell so both agree on boundary points.
func (t *Tree) cellAt(p r2.Vec, depth int) (uint64, error) {
	if !t.Contains(p) {
		return 0, ErrOutOfBounds
	}
	lo := t.origin
	side := t.cellSize
	id := uint64(rootPrefix)
	for d := 1; d <= depth; d++ {
		q := uint64(0)
		if p.Y >= lo.Y+side {
			q |= 2
			lo.Y += side
		}
		if p.X >= lo.X+side {
			q |= 1
			lo.X += side
		}
		id = id<<2 | q
		side /= 2
	}
	return id, nil
}

// NearestCell descends from the root cell containing p to the leaf that
// contains it and returns the leaf id.
func (t *Tree) NearestCell(p r2.Vec) (uint64, error) {
	if !t.Contains(p) {
		return 0, fmt.Errorf("point (%.3f, %.3f): %w", p.X, p.Y, ErrOutOfBounds)
	}
	q := 0
	if p.Y >= t.origin.Y+t.cellSize {
		q |= 2
	}
	if p.X >= t.origin.X+t.cellSize {
		q |= 1
	}
	idx := int32(q)
	for t.nodes[idx].child != leaf {
		n := t.nodes[idx]
		half := n.size / 2
		q = 0
		if p.Y >= n.min.Y+half {
			q |= 2
		}
		if p.X >= n.min.X+half {
			q |= 1
		}
		idx = n.child + int32(q)
	}
	return t.nodes[idx].id, nil
}

// IsLeaf reports whether id names an existing, unsplit node.
func (t *Tree) IsLeaf(id uint64) bool {
	idx, ok := t.index[id]
	return ok && t.nodes[idx].child == leaf
}

// NeighboringCells returns the cells adjacent to id in the eight compass
// directions. For each direction the neighbour at the same depth is returned
// when it exists, otherwise the unsplit ancestor that covers it. The result
// is sorted and free of duplicates.
func (t *Tree) NeighboringCells(id uint64) ([]uint64, error) {
	c, err := Decode(id)
	if err != nil {
		return nil, err
	}
	if _, ok := t.index[id]; !ok {
		return nil, fmt.Errorf("cell %d: %w", id, ErrUnknownCell)
	}

	n := 1 << c.Depth
	out := make([]uint64, 0, 8)
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			row, col := c.Row+dr, c.Col+dc
			if row < 0 || col < 0 || row >= n || col >= n {
				continue
			}
			if nid, ok := t.covering(Encode(row, col, c.Depth)); ok && nid != id {
				out = append(out, nid)
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// covering walks up from id to the closest ancestor present in the tree.
func (t *Tree) covering(id uint64) (uint64, bool) {
	for id > rootPrefix {
		if _, ok := t.index[id]; ok {
			return id, true
		}
		id >>= 2
	}
	return 0, false
}

// CellBounds returns the area covered by the cell with the given id. The id
// does not have to exist in the tree.
func (t *Tree) CellBounds(id uint64) (r2.Box, error) {
	c, err := Decode(id)
	if err != nil {
		return r2.Box{}, err
	}
	side := t.CellSideAt(c.Depth)
	lo := r2.Vec{X: t.origin.X + float64(c.Col)*side, Y: t.origin.Y + float64(c.Row)*side}
	return r2.Box{Min: lo, Max: r2.Add(lo, r2.Vec{X: side, Y: side})}, nil
}

// CellSideAt returns the side length of cells at depth.
func (t *Tree) CellSideAt(depth int) float64 {
	return t.cellSize / float64(uint64(1)<<(depth-1))
}

// Leaves returns the ids of all unsplit nodes in ascending order.
func (t *Tree) Leaves() []uint64 {
	out := make([]uint64, 0, len(t.nodes))
	for _, n := range t.nodes {
		if n.child == leaf {
			out = append(out, n.id)
		}
	}
	slices.Sort(out)
	return out
}

// Reset un-splits every node below the roots. The arena keeps its capacity
// so the next round of splits reuses the same storage.
func (t *Tree) Reset() {
	for id, idx := range t.index {
		if idx >= numRoots {
			delete(t.index, id)
		}
	}
	t.nodes = t.nodes[:numRoots]
	for i := range t.nodes {
		t.nodes[i].child = leaf
	}
}

// Clear releases all non-root nodes and their storage.
func (t *Tree) Clear() {
	t.init()
}

// Cell is a decoded cell id.
type Cell struct {
	Row, Col int
	Depth    int
}

// Encode returns the id of the cell at (row, col) on the grid of depth d,
// which has 2^d cells per side.
func Encode(row, col, depth int) uint64 {
	id := uint64(rootPrefix)
	for level := depth - 1; level >= 0; level-- {
		r := uint64(row>>level) & 1
		c := uint64(col>>level) & 1
		id = id<<2 | r<<1 | c
	}
	return id
}

// Decode recovers the row, column and depth encoded by id.
func Decode(id uint64) (Cell, error) {
	n := bits.Len64(id)
	if n < 4 || n%2 != 0 || id>>(n-2) != rootPrefix {
		return Cell{}, fmt.Errorf("id %d: %w", id, ErrInvalidID)
	}
	depth := n/2 - 1
	if depth > MaxSupportedDepth {
		return Cell{}, fmt.Errorf("id %d: %w", id, ErrInvalidID)
	}
	var c Cell
	c.Depth = depth
	for level := depth - 1; level >= 0; level-- {
		pair := (id >> (2 * level)) & 0b11
		c.Row = c.Row<<1 | int(pair>>1)
		c.Col = c.Col<<1 | int(pair&1)
	}
	return c, nil
}

// Depth returns the depth encoded by id, or -1 if id is malformed.
func Depth(id uint64) int {
	c, err := Decode(id)
	if err != nil {
		return -1
	}
	return c.Depth
}

// Parent returns the id of the enclosing cell. Root ids have no parent and
// return false.
func Parent(id uint64) (uint64, bool) {
	if Depth(id) <= 1 {
		return 0, false
	}
	return id >> 2, true
}

// PathOf returns the split path from the root cell down to id: the root
// quadrant followed by one child quadrant per level.
func PathOf(id uint64) []int {
	d := Depth(id)
	if d < 1 {
		return nil
	}
	path := make([]int, d)
	for i := 0; i < d; i++ {
		path[i] = int((id >> (2 * (d - 1 - i))) & 0b11)
	}
	return path
}

package quadtree

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
)

func mustTree(t *testing.T, origin r2.Vec, cellSize float64, maxDepth int) *Tree {
	t.Helper()
	tr, err := New(origin, cellSize, maxDepth)
	require.NoError(t, err)
	return tr
}

func TestNew_RejectsBadParameters(t *testing.T) {
	cases := []struct {
		name     string
		cellSize float64
		maxDepth int
	}{
		{"zero cell size", 0, 3},
		{"negative cell size", -1, 3},
		{"zero depth", 10, 0},
		{"too deep", 10, MaxSupportedDepth + 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(r2.Vec{}, tc.cellSize, tc.maxDepth); err == nil {
				t.Errorf("expected error for cellSize=%v maxDepth=%d", tc.cellSize, tc.maxDepth)
			}
		})
	}
}

func TestRootIDs(t *testing.T) {
	tr := mustTree(t, r2.Vec{}, 50, 3)
	got := tr.Leaves()
	want := []uint64{12, 13, 14, 15}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("root leaves mismatch (-want +got):\n%s", diff)
	}
}

// Detection area 100x100 at the origin, max depth 2, agent at (10,10).
func TestNearestCell_NorthWestAtDepthTwo(t *testing.T) {
	tr := mustTree(t, r2.Vec{}, 50, 2)
	p := r2.Vec{X: 10, Y: 10}
	require.NoError(t, tr.SplitFromPositions([]r2.Vec{p}))

	id, err := tr.NearestCell(p)
	require.NoError(t, err)

	if id != 0b110000 {
		t.Errorf("expected leaf id 48, got %d", id)
	}
	if d := Depth(id); d != 2 {
		t.Errorf("expected depth 2, got %d", d)
	}
	parent, ok := Parent(id)
	if !ok || parent != 12 {
		t.Errorf("expected parent 12 (north-west root), got %d (ok=%v)", parent, ok)
	}
}

func TestSplit_Errors(t *testing.T) {
	tr := mustTree(t, r2.Vec{}, 50, 3)

	if err := tr.Split(nil); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath for empty path, got %v", err)
	}
	if err := tr.Split([]int{0, 4}); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath for bad quadrant, got %v", err)
	}
	if err := tr.Split([]int{-1}); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath for negative quadrant, got %v", err)
	}
	if err := tr.Split([]int{0, 1, 2}); !errors.Is(err, ErrDepthExceeded) {
		t.Errorf("expected ErrDepthExceeded, got %v", err)
	}
	if tr.Len() != numRoots {
		t.Errorf("failed splits must not modify the tree, got %d nodes", tr.Len())
	}

	require.NoError(t, tr.Split([]int{3, 1}))
	// root + child each split into four
	if tr.Len() != numRoots+8 {
		t.Errorf("expected %d nodes, got %d", numRoots+8, tr.Len())
	}
}

func TestSplit_NoPartialSplits(t *testing.T) {
	tr := mustTree(t, r2.Vec{}, 64, 5)
	rng := rand.New(rand.NewPCG(1, 2))
	pts := randomPoints(rng, 200, 128)
	require.NoError(t, tr.SplitFromPositions(pts))

	children := map[uint64]int{}
	for _, n := range tr.nodes {
		if n.depth > tr.MaxDepth() {
			t.Fatalf("node %d at depth %d exceeds max depth %d", n.id, n.depth, tr.MaxDepth())
		}
		if n.parent != leaf {
			children[tr.nodes[n.parent].id]++
			if n.id>>2 != tr.nodes[n.parent].id {
				t.Errorf("child %d does not extend parent %d", n.id, tr.nodes[n.parent].id)
			}
		}
	}
	for id, c := range children {
		if c != 4 {
			t.Errorf("node %d has %d children, expected 4", id, c)
		}
	}
}

func TestSplitFromPositions_DeduplicatesSharedPaths(t *testing.T) {
	tr := mustTree(t, r2.Vec{}, 50, 3)
	pts := []r2.Vec{{X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}}
	require.NoError(t, tr.SplitFromPositions(pts))

	// one root split and one child split
	if tr.Len() != numRoots+8 {
		t.Errorf("expected %d nodes, got %d", numRoots+8, tr.Len())
	}
}

func TestSplitFromPositions_SkipsOutOfBounds(t *testing.T) {
	tr := mustTree(t, r2.Vec{}, 50, 3)
	pts := []r2.Vec{{X: 10, Y: 10}, {X: -5, Y: 10}, {X: 100, Y: 10}}
	err := tr.SplitFromPositions(pts)
	if !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	id, err := tr.NearestCell(r2.Vec{X: 10, Y: 10})
	require.NoError(t, err)
	if Depth(id) != 3 {
		t.Errorf("in-bounds point should still be split to depth 3, got %d", Depth(id))
	}
}

func TestNearestCell_OutOfBounds(t *testing.T) {
	tr := mustTree(t, r2.Vec{X: 10, Y: 10}, 5, 2)
	for _, p := range []r2.Vec{{X: 9.99, Y: 12}, {X: 20, Y: 12}, {X: 12, Y: 20}, {X: 12, Y: -1}} {
		if _, err := tr.NearestCell(p); !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("point %v: expected ErrOutOfBounds, got %v", p, err)
		}
	}
}

func TestNearestCell_Containment(t *testing.T) {
	origin := r2.Vec{X: -20, Y: 35}
	tr := mustTree(t, origin, 40, 6)
	rng := rand.New(rand.NewPCG(7, 11))
	pts := randomPoints(rng, 300, 80)
	for i := range pts {
		pts[i] = r2.Add(pts[i], origin)
	}
	require.NoError(t, tr.SplitFromPositions(pts[:150]))

	for _, p := range pts {
		id, err := tr.NearestCell(p)
		require.NoError(t, err)
		if !tr.IsLeaf(id) {
			t.Fatalf("NearestCell(%v) = %d is not a leaf", p, id)
		}
		b, err := tr.CellBounds(id)
		require.NoError(t, err)
		if p.X < b.Min.X || p.X >= b.Max.X || p.Y < b.Min.Y || p.Y >= b.Max.Y {
			t.Errorf("leaf %d bounds %v do not contain %v", id, b, p)
		}
	}
	for _, p := range pts[:150] {
		id, _ := tr.NearestCell(p)
		if Depth(id) != 6 {
			t.Errorf("split point %v should resolve to depth 6, got %d", p, Depth(id))
		}
	}
}

func TestDecode_UniqueAndConsistent(t *testing.T) {
	tr := mustTree(t, r2.Vec{}, 32, 6)
	rng := rand.New(rand.NewPCG(3, 5))
	require.NoError(t, tr.SplitFromPositions(randomPoints(rng, 120, 64)))

	seen := map[Cell]uint64{}
	for _, n := range tr.nodes {
		c, err := Decode(n.id)
		require.NoError(t, err)
		if prev, dup := seen[c]; dup {
			t.Errorf("ids %d and %d both decode to %+v", prev, n.id, c)
		}
		seen[c] = n.id
		if c.Depth != n.depth {
			t.Errorf("id %d: expected depth %d, got %d", n.id, n.depth, c.Depth)
		}
		if got := Encode(c.Row, c.Col, c.Depth); got != n.id {
			t.Errorf("Encode(Decode(%d)) = %d", n.id, got)
		}
		if len(PathOf(n.id)) != n.depth {
			t.Errorf("id %d: path length %d, depth %d", n.id, len(PathOf(n.id)), n.depth)
		}
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, id := range []uint64{0, 1, 3, 0b1000, 0b10_00, 0b111} {
		if _, err := Decode(id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("id %b: expected ErrInvalidID, got %v", id, err)
		}
		if Depth(id) != -1 {
			t.Errorf("id %b: expected depth -1, got %d", id, Depth(id))
		}
	}
}

func TestReset_KeepsStorageAndIsDeterministic(t *testing.T) {
	tr := mustTree(t, r2.Vec{}, 50, 4)
	rng := rand.New(rand.NewPCG(9, 9))
	pts := randomPoints(rng, 60, 100)

	require.NoError(t, tr.SplitFromPositions(pts))
	first := tr.Leaves()
	capBefore := cap(tr.nodes)

	tr.Reset()
	if tr.Len() != numRoots {
		t.Fatalf("expected %d nodes after reset, got %d", numRoots, tr.Len())
	}
	if cap(tr.nodes) != capBefore {
		t.Errorf("reset should keep arena capacity %d, got %d", capBefore, cap(tr.nodes))
	}
	if diff := cmp.Diff([]uint64{12, 13, 14, 15}, tr.Leaves()); diff != "" {
		t.Errorf("leaves after reset (-want +got):\n%s", diff)
	}

	require.NoError(t, tr.SplitFromPositions(pts))
	if diff := cmp.Diff(first, tr.Leaves()); diff != "" {
		t.Errorf("re-split leaves differ (-first +second):\n%s", diff)
	}
}

func TestClear_ReleasesStorage(t *testing.T) {
	tr := mustTree(t, r2.Vec{}, 50, 6)
	rng := rand.New(rand.NewPCG(4, 4))
	require.NoError(t, tr.SplitFromPositions(randomPoints(rng, 200, 100)))
	big := cap(tr.nodes)

	tr.Clear()
	if tr.Len() != numRoots {
		t.Fatalf("expected %d nodes after clear, got %d", numRoots, tr.Len())
	}
	if cap(tr.nodes) >= big {
		t.Errorf("clear should release arena storage, cap still %d", cap(tr.nodes))
	}
}

func TestNeighboringCells(t *testing.T) {
	tr := mustTree(t, r2.Vec{}, 50, 3)
	// split the north-west root and its south-east child
	require.NoError(t, tr.Split([]int{0, 3}))

	// 51 is the south-east child of 12. Its siblings are returned directly;
	// the other roots were never split, so they cover the remaining
	// neighbours.
	got, err := tr.NeighboringCells(51)
	require.NoError(t, err)
	want := []uint64{13, 14, 15, 48, 49, 50}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("neighbours of 51 (-want +got):\n%s", diff)
	}

	// 204 is the north-west child of 51; its west and north neighbours are
	// depth-2 leaves, the rest are depth-3 siblings.
	got, err = tr.NeighboringCells(204)
	require.NoError(t, err)
	want = []uint64{48, 49, 50, 205, 206, 207}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("neighbours of 204 (-want +got):\n%s", diff)
	}

	if _, err := tr.NeighboringCells(Encode(7, 7, 3)); !errors.Is(err, ErrUnknownCell) {
		t.Errorf("expected ErrUnknownCell, got %v", err)
	}
}

func TestCellBounds(t *testing.T) {
	tr := mustTree(t, r2.Vec{X: 100, Y: 200}, 50, 3)
	b, err := tr.CellBounds(Encode(3, 2, 3))
	require.NoError(t, err)
	want := r2.Box{Min: r2.Vec{X: 125, Y: 237.5}, Max: r2.Vec{X: 137.5, Y: 250}}
	if diff := cmp.Diff(want, b); diff != "" {
		t.Errorf("bounds (-want +got):\n%s", diff)
	}
}

func randomPoints(rng *rand.Rand, n int, extent float64) []r2.Vec {
	pts := make([]r2.Vec, n)
	for i := range pts {
		pts[i] = r2.Vec{X: rng.Float64() * extent, Y: rng.Float64() * extent}
	}
	return pts
}

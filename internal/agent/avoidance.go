package agent

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

const (
	lookAheadStep    = 0.2
	defaultLookAhead = 2.0
)

// Obstacle is a static axis-aligned rectangle agents must not enter.
type Obstacle struct {
	Bounds r2.Box
	Color  string
}

// Intersects reports whether the obstacle overlaps b.
func (o Obstacle) Intersects(b r2.Box) bool {
	return o.Bounds.Min.X < b.Max.X && b.Min.X < o.Bounds.Max.X &&
		o.Bounds.Min.Y < b.Max.Y && b.Min.Y < o.Bounds.Max.Y
}

// DistanceTo returns the distance from p to the closest point of the
// obstacle, zero when p is inside.
func (o Obstacle) DistanceTo(p r2.Vec) float64 {
	cx := math.Max(o.Bounds.Min.X, math.Min(p.X, o.Bounds.Max.X))
	cy := math.Max(o.Bounds.Min.Y, math.Min(p.Y, o.Bounds.Max.Y))
	return math.Hypot(p.X-cx, p.Y-cy)
}

func lookAhead(a, b *Agent) float64 {
	t := math.Max(a.LookAheadTime, b.LookAheadTime)
	if t <= 0 {
		return defaultLookAhead
	}
	return t
}

// PredictCollision samples both agents' future positions every 0.2 s up to
// the look-ahead time. If their buffer zones would overlap, both are flagged
// and one of them stops: the one with the higher priority number, or the
// slower one when priorities are equal.
func PredictCollision(a, b *Agent) bool {
	horizon := lookAhead(a, b)
	limit := a.BufferZoneRadius + b.BufferZoneRadius
	steps := int(math.Floor(horizon/lookAheadStep + 1e-9))
	for i := 0; i <= steps; i++ {
		t := float64(i) * lookAheadStep
		if r2.Norm(r2.Sub(a.FuturePosition(t), b.FuturePosition(t))) >= limit {
			continue
		}
		a.CollisionPredicted = true
		b.CollisionPredicted = true
		yielder(a, b).Stop()
		return true
	}
	return false
}

func yielder(a, b *Agent) *Agent {
	switch {
	case a.Priority < b.Priority:
		return b
	case a.Priority > b.Priority:
		return a
	case a.Speed() < b.Speed():
		return a
	default:
		return b
	}
}

// PredictObstacle stops a when its buffer zone would intersect one of the
// obstacles within the default look-ahead horizon.
func PredictObstacle(a *Agent, obstacles []Obstacle) bool {
	if len(obstacles) == 0 {
		return false
	}
	r := a.BufferZoneRadius
	steps := int(math.Floor(defaultLookAhead/lookAheadStep + 1e-9))
	for i := 0; i <= steps; i++ {
		p := a.FuturePosition(float64(i) * lookAheadStep)
		box := r2.Box{Min: r2.Vec{X: p.X - r, Y: p.Y - r}, Max: r2.Vec{X: p.X + r, Y: p.Y + r}}
		for _, o := range obstacles {
			if o.Intersects(box) {
				a.CollisionPredicted = true
				a.Stop()
				return true
			}
		}
	}
	return false
}

// Overlaps reports whether the buffer zones of a and b currently overlap.
func Overlaps(a, b *Agent) bool {
	return r2.Norm(r2.Sub(a.Position, b.Position)) < a.BufferZoneRadius+b.BufferZoneRadius
}

// OutOfBounds reports whether a has left the world rectangle by more than
// its body radius.
func OutOfBounds(a *Agent, width, height float64) bool {
	p := a.Position
	r := a.BodyRadius
	return p.X > width+r || p.X < -r || p.Y > height+r || p.Y < -r
}

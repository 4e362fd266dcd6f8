package agent

import (
	"time"

	"gonum.org/v1/gonum/spatial/r2"
)

// View is the immutable per-agent part of a Frame.
type View struct {
	ID                 string
	Type               string
	Position           r2.Vec
	Velocity           r2.Vec
	BodyRadius         float64
	BufferZoneRadius   float64
	State              State
	CollisionPredicted bool
}

// Frame is a snapshot of every agent at one simulation tick. Frames are
// never mutated after Snapshot returns them.
type Frame struct {
	Index uint64
	// Elapsed is the simulated time since the start of the run.
	Elapsed   time.Duration
	Timestamp time.Time
	Agents    []View
}

// Snapshot copies the published state of agents into a new Frame.
func Snapshot(index uint64, elapsed time.Duration, ts time.Time, agents []*Agent) Frame {
	views := make([]View, len(agents))
	for i, a := range agents {
		views[i] = View{
			ID:                 a.ID,
			Type:               a.Type,
			Position:           a.Position,
			Velocity:           a.Velocity,
			BodyRadius:         a.BodyRadius,
			BufferZoneRadius:   a.BufferZoneRadius,
			State:              a.State,
			CollisionPredicted: a.CollisionPredicted,
		}
	}
	return Frame{Index: index, Elapsed: elapsed, Timestamp: ts, Agents: views}
}

// Positions returns the agent positions of f in order.
func (f Frame) Positions() []r2.Vec {
	out := make([]r2.Vec, len(f.Agents))
	for i, v := range f.Agents {
		out[i] = v.Position
	}
	return out
}

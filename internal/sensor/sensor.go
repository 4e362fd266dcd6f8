// Package sensor turns simulation frames into periodic, per-cell aggregate
// records. A sensor observes a rectangular detection area and works at its
// own cadence, independent of the simulation tick rate.
package sensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/agentsim/internal/agent"
)

// Kind enumerates the sensor variants.
type Kind int

const (
	AgentBased Kind = iota + 1
	GridBased
	AdaptiveGridBased
)

func (k Kind) String() string {
	switch k {
	case AgentBased:
		return "agent-based"
	case GridBased:
		return "grid-based"
	case AdaptiveGridBased:
		return "adaptive-grid-based"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a configured sensor type onto a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{AgentBased, GridBased, AdaptiveGridBased} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown sensor type %q", s)
}

// Spec describes one sensor.
type Spec struct {
	ID        string
	Kind      Kind
	FrameRate float64 // cadence in Hz
	Area      r2.Box
	// CellSize is the flat cell side for grid sensors and the root cell
	// side for adaptive sensors.
	CellSize float64
	MaxDepth int
	// K is the group size a cell needs to be flagged k-anonymous. Zero
	// disables the check.
	K int
}

// Sensor consumes frames and emits at most one batch per gated tick.
type Sensor interface {
	ID() string
	Kind() Kind
	// Metadata describes the sensor geometry and cadence. It is written once
	// at start-up.
	Metadata(timestamp string) Metadata
	// Consume advances the cadence gate by dt simulated seconds. On a gated
	// tick with at least one agent in the detection area it returns the
	// aggregate batch and true.
	Consume(f agent.Frame, dt float64) (Batch, bool)
}

// New builds the sensor described by spec.
func New(spec Spec) (Sensor, error) {
	if spec.FrameRate <= 0 {
		return nil, fmt.Errorf("sensor %s: frame rate must be positive, got %v", spec.ID, spec.FrameRate)
	}
	if spec.Area.Size().X <= 0 || spec.Area.Size().Y <= 0 {
		return nil, fmt.Errorf("sensor %s: detection area is empty", spec.ID)
	}
	base := base{spec: spec, gate: gate{period: 1 / spec.FrameRate}}
	switch spec.Kind {
	case AgentBased:
		return &agentSensor{base: base, previous: make(map[string]r2.Vec)}, nil
	case GridBased:
		return newGridSensor(base)
	case AdaptiveGridBased:
		return newAdaptiveSensor(base)
	default:
		return nil, fmt.Errorf("sensor %s: unknown kind %v", spec.ID, spec.Kind)
	}
}

// gateEpsilon absorbs float drift when dt does not divide the period
// exactly.
const gateEpsilon = 1e-9

// gate accumulates simulated time and fires once per period.
type gate struct {
	period float64
	since  float64
}

// tick adds dt and reports whether the period has elapsed. The accumulator
// resets on every firing.
func (g *gate) tick(dt float64) bool {
	g.since += dt
	if g.since+gateEpsilon < g.period {
		return false
	}
	g.since = 0
	return true
}

type base struct {
	spec Spec
	gate gate
}

func (b *base) ID() string { return b.spec.ID }
func (b *base) Kind() Kind { return b.spec.Kind }

func (b *base) Metadata(timestamp string) Metadata {
	size := b.spec.Area.Size()
	return Metadata{
		Timestamp:  timestamp,
		SensorID:   b.spec.ID,
		SensorType: b.spec.Kind.String(),
		Position:   b.spec.Area.Min,
		Width:      size.X,
		Height:     size.Y,
		FrameRate:  b.spec.FrameRate,
		CellSize:   b.spec.CellSize,
		MaxDepth:   b.spec.MaxDepth,
	}
}

// inside reports whether p is in the detection area. The far edges are
// exclusive.
func (b *base) inside(p r2.Vec) bool {
	a := b.spec.Area
	return p.X >= a.Min.X && p.X < a.Max.X && p.Y >= a.Min.Y && p.Y < a.Max.Y
}

// visible returns the agents of f inside the detection area.
func (b *base) visible(f agent.Frame) []agent.View {
	var out []agent.View
	for _, v := range f.Agents {
		if b.inside(v.Position) {
			out = append(out, v)
		}
	}
	return out
}

// finite reports whether v has no NaN or infinite component.
func finite(v r2.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}

package sensor

import (
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/agentsim/internal/agent"
	"github.com/banshee-data/agentsim/internal/timeutil"
)

// agentSensor reports every visible agent with a velocity estimated from
// its position on the previous gated tick.
type agentSensor struct {
	base
	previous map[string]r2.Vec
}

func (s *agentSensor) Consume(f agent.Frame, dt float64) (Batch, bool) {
	if !s.gate.tick(dt) {
		return Batch{}, false
	}
	visible := s.visible(f)
	current := make(map[string]r2.Vec, len(visible))
	if len(visible) == 0 {
		s.previous = current
		return Batch{}, false
	}

	ts := timeutil.Format(f.Timestamp)
	b := Batch{SensorID: s.spec.ID, Timestamp: ts, Records: make([]Record, 0, len(visible))}
	for _, v := range visible {
		rec := AgentRecord{
			Timestamp: ts,
			SensorID:  s.spec.ID,
			Kind:      DataAgentEstimate,
			AgentID:   v.ID,
			Type:      v.Type,
			Position:  v.Position,
		}
		if prev, ok := s.previous[v.ID]; ok {
			vel := r2.Scale(s.spec.FrameRate, r2.Sub(v.Position, prev))
			if finite(vel) {
				rec.Velocity = &vel
			}
		}
		current[v.ID] = v.Position
		b.Records = append(b.Records, rec)
	}
	s.previous = current
	return b, true
}

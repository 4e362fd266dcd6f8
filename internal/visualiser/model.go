// Package visualiser streams simulation frames to live viewers.
//
// The Consumer drains the frame buffer and hands every frame to the
// Publisher, which fans it out to gRPC streams and websocket clients. Slow
// viewers lose frames; the simulation never waits for them.
package visualiser

import (
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/agentsim/internal/agent"
	"github.com/banshee-data/agentsim/internal/timeutil"
)

// AgentState is one agent as sent to viewers.
type AgentState struct {
	ID        string  `msgpack:"id" json:"id"`
	Type      string  `msgpack:"type" json:"type"`
	X         float64 `msgpack:"x" json:"x"`
	Y         float64 `msgpack:"y" json:"y"`
	VX        float64 `msgpack:"vx" json:"vx"`
	VY        float64 `msgpack:"vy" json:"vy"`
	Body      float64 `msgpack:"body" json:"body"`
	Buffer    float64 `msgpack:"buffer" json:"buffer"`
	State     string  `msgpack:"state" json:"state"`
	Collision bool    `msgpack:"collision" json:"collision"`
}

// FrameMessage is the wire form of an agent.Frame.
type FrameMessage struct {
	Index     uint64       `msgpack:"index" json:"index"`
	Timestamp string       `msgpack:"timestamp" json:"timestamp"`
	Elapsed   float64      `msgpack:"elapsed" json:"elapsed"` // seconds
	Agents    []AgentState `msgpack:"agents" json:"agents"`
}

// FromFrame converts f to its wire form.
func FromFrame(f agent.Frame) FrameMessage {
	msg := FrameMessage{
		Index:     f.Index,
		Timestamp: timeutil.Format(f.Timestamp),
		Elapsed:   f.Elapsed.Seconds(),
		Agents:    make([]AgentState, len(f.Agents)),
	}
	for i, v := range f.Agents {
		msg.Agents[i] = AgentState{
			ID:        v.ID,
			Type:      v.Type,
			X:         v.Position.X,
			Y:         v.Position.Y,
			VX:        v.Velocity.X,
			VY:        v.Velocity.Y,
			Body:      v.BodyRadius,
			Buffer:    v.BufferZoneRadius,
			State:     v.State.String(),
			Collision: v.CollisionPredicted,
		}
	}
	return msg
}

// Filter keeps the agents whose type is in types. An empty types keeps all.
func (m FrameMessage) Filter(types map[string]bool) FrameMessage {
	if len(types) == 0 {
		return m
	}
	out := m
	out.Agents = make([]AgentState, 0, len(m.Agents))
	for _, a := range m.Agents {
		if types[a.Type] {
			out.Agents = append(out.Agents, a)
		}
	}
	return out
}

// ToStruct converts m to a protobuf Struct for the gRPC stream.
func (m FrameMessage) ToStruct() (*structpb.Struct, error) {
	agents := make([]any, len(m.Agents))
	for i, a := range m.Agents {
		agents[i] = map[string]any{
			"id":        a.ID,
			"type":      a.Type,
			"x":         a.X,
			"y":         a.Y,
			"vx":        a.VX,
			"vy":        a.VY,
			"body":      a.Body,
			"buffer":    a.Buffer,
			"state":     a.State,
			"collision": a.Collision,
		}
	}
	return structpb.NewStruct(map[string]any{
		"index":     float64(m.Index),
		"timestamp": m.Timestamp,
		"elapsed":   m.Elapsed,
		"agents":    agents,
	})
}

// FrameFromStruct is the inverse of ToStruct. Missing fields are left zero.
func FrameFromStruct(s *structpb.Struct) FrameMessage {
	fields := s.GetFields()
	msg := FrameMessage{
		Index:     uint64(fields["index"].GetNumberValue()),
		Timestamp: fields["timestamp"].GetStringValue(),
		Elapsed:   fields["elapsed"].GetNumberValue(),
	}
	for _, v := range fields["agents"].GetListValue().GetValues() {
		a := v.GetStructValue().GetFields()
		msg.Agents = append(msg.Agents, AgentState{
			ID:        a["id"].GetStringValue(),
			Type:      a["type"].GetStringValue(),
			X:         a["x"].GetNumberValue(),
			Y:         a["y"].GetNumberValue(),
			VX:        a["vx"].GetNumberValue(),
			VY:        a["vy"].GetNumberValue(),
			Body:      a["body"].GetNumberValue(),
			Buffer:    a["buffer"].GetNumberValue(),
			State:     a["state"].GetStringValue(),
			Collision: a["collision"].GetBoolValue(),
		})
	}
	return msg
}

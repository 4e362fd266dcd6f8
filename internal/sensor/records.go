package sensor

import (
	"slices"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"
)

// Data types carried in the data_type field of every record.
const (
	DataMetadata      = "metadata"
	DataAgent         = "agent_data"
	DataAgentEstimate = "agent_based_data"
	DataGrid          = "grid_data"
	DataAdaptiveGrid  = "adaptive_grid_data"
)

// Record is anything a sink can persist.
type Record interface {
	// DataType returns one of the Data* constants.
	DataType() string
	// Scope returns the sensor id the record belongs to; Sink.Clear wipes
	// by scope.
	Scope() string
}

// Metadata describes a sensor, or the simulation itself, once per run.
type Metadata struct {
	Timestamp  string  `json:"timestamp"`
	SensorID   string  `json:"sensor_id"`
	SensorType string  `json:"sensor_type"`
	Position   r2.Vec  `json:"position"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	FrameRate  float64 `json:"frame_rate"`
	CellSize   float64 `json:"cell_size,omitempty"`
	MaxDepth   int     `json:"max_depth,omitempty"`
}

func (Metadata) DataType() string { return DataMetadata }
func (m Metadata) Scope() string  { return m.SensorID }

// TypeCount is the number of agents of one type in a cell.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// CellRecord is the aggregate of one cell on one gated tick.
type CellRecord struct {
	Timestamp string `json:"timestamp"`
	SensorID  string `json:"sensor_id"`
	Kind      string `json:"data_type"`
	CellID    uint64 `json:"cell_id"`
	// CellPosition is the north-west corner of the cell.
	CellPosition r2.Vec      `json:"cell_position"`
	CellSize     float64     `json:"cell_size"`
	Depth        int         `json:"depth,omitempty"`
	Counts       []TypeCount `json:"agent_type_count"`
	Total        int         `json:"total_agents"`
	MinGroupSize int         `json:"min_group_size"`
	KAnonymous   bool        `json:"k_anonymous"`
}

func (r CellRecord) DataType() string { return r.Kind }
func (r CellRecord) Scope() string    { return r.SensorID }

// AgentRecord is one observed agent. Velocity is nil when it could not be
// estimated, which is distinct from a stationary agent.
type AgentRecord struct {
	Timestamp string  `json:"timestamp"`
	SensorID  string  `json:"sensor_id"`
	Kind      string  `json:"data_type"`
	AgentID   string  `json:"agent_id"`
	Type      string  `json:"type"`
	Position  r2.Vec  `json:"position"`
	Velocity  *r2.Vec `json:"velocity,omitempty"`
}

func (r AgentRecord) DataType() string { return r.Kind }
func (r AgentRecord) Scope() string    { return r.SensorID }

// Batch is the output of one gated tick of one sensor.
type Batch struct {
	SensorID  string
	Timestamp string
	Records   []Record
}

// Cells returns the cell records of b.
func (b Batch) Cells() []CellRecord {
	var out []CellRecord
	for _, r := range b.Records {
		if c, ok := r.(CellRecord); ok {
			out = append(out, c)
		}
	}
	return out
}

// tally accumulates per-type counts for a cell.
type tally map[string]int

// record finalises t into a CellRecord with privacy metrics for k.
func (t tally) record(k int) CellRecord {
	rec := CellRecord{Counts: make([]TypeCount, 0, len(t))}
	for typ, n := range t {
		rec.Counts = append(rec.Counts, TypeCount{Type: typ, Count: n})
		rec.Total += n
		if rec.MinGroupSize == 0 || n < rec.MinGroupSize {
			rec.MinGroupSize = n
		}
	}
	slices.SortFunc(rec.Counts, func(a, b TypeCount) int { return strings.Compare(a.Type, b.Type) })
	rec.KAnonymous = k <= 0 || rec.MinGroupSize >= k
	return rec
}

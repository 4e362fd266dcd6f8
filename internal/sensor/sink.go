package sensor

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/banshee-data/agentsim/internal/monitoring"
)

// Sink persists records. Implementations must be safe for concurrent use.
type Sink interface {
	// Write inserts one record.
	Write(ctx context.Context, rec Record) error
	// WriteMany inserts the records of one batch.
	WriteMany(ctx context.Context, recs []Record) error
	// Clear deletes every record previously written for scope. Clearing an
	// empty scope is not an error.
	Clear(ctx context.Context, scope string) error
}

const (
	opLabel     = "op"
	sensorLabel = "sensor_id"
)

var (
	sinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentsim_sink_errors",
		Help: "The errors returned by the persistence sink.",
	}, []string{
		opLabel,
	})

	sensorBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentsim_sensor_batches",
		Help: "The number of aggregate batches delivered per sensor.",
	}, []string{
		sensorLabel,
	})

	sensorRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentsim_sensor_records",
		Help: "The number of records delivered per sensor.",
	}, []string{
		sensorLabel,
	})
)

func instrumentSinkError(op string) {
	sinkErrors.With(prometheus.Labels{opLabel: op}).Inc()
}

// Deliver hands b to sink. Errors are logged and dropped so that the
// simulation loop never stops on a persistence failure.
func Deliver(ctx context.Context, sink Sink, b Batch) {
	if sink == nil || len(b.Records) == 0 {
		return
	}
	sensorBatches.With(prometheus.Labels{sensorLabel: b.SensorID}).Inc()
	sensorRecords.With(prometheus.Labels{sensorLabel: b.SensorID}).Add(float64(len(b.Records)))
	if err := sink.WriteMany(ctx, b.Records); err != nil {
		instrumentSinkError("write_many")
		monitoring.Logf("[Sink] %s: dropped batch of %d records at %s: %v", b.SensorID, len(b.Records), b.Timestamp, err)
	}
}

// DeliverOne writes a single record with the same error policy as Deliver.
func DeliverOne(ctx context.Context, sink Sink, rec Record) {
	if sink == nil {
		return
	}
	if err := sink.Write(ctx, rec); err != nil {
		instrumentSinkError("write")
		monitoring.Logf("[Sink] %s: dropped %s record: %v", rec.Scope(), rec.DataType(), err)
	}
}

// ClearScopes wipes every scope, logging failures.
func ClearScopes(ctx context.Context, sink Sink, scopes ...string) {
	if sink == nil {
		return
	}
	for _, scope := range scopes {
		if err := sink.Clear(ctx, scope); err != nil {
			instrumentSinkError("clear")
			monitoring.Logf("[Sink] failed to clear %s: %v", scope, err)
		}
	}
}

// MemorySink keeps every record in memory, for tests and short runs.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Write(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *MemorySink) WriteMany(_ context.Context, recs []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, recs...)
	return nil
}

func (m *MemorySink) Clear(_ context.Context, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	for _, r := range m.records {
		if r.Scope() != scope {
			kept = append(kept, r)
		}
	}
	clear(m.records[len(kept):])
	m.records = kept
	return nil
}

// Records returns a copy of everything written so far.
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

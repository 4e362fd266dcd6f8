// Package simulation runs the tick loop: it moves agents, resolves
// predicted collisions, feeds sensors and publishes one frame per tick to
// the frame buffer.
package simulation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/agentsim/internal/agent"
	"github.com/banshee-data/agentsim/internal/collision"
	"github.com/banshee-data/agentsim/internal/framebuf"
	"github.com/banshee-data/agentsim/internal/monitoring"
	"github.com/banshee-data/agentsim/internal/sensor"
	"github.com/banshee-data/agentsim/internal/timeutil"
)

// Scopes of the records the simulation writes itself.
const (
	ScopeSimulation  = "simulation"
	ScopeGroundTruth = "ground_truth"
)

// Stats summarises a finished run.
type Stats struct {
	RunID       string
	Frames      uint64
	WallTime    time.Duration
	SimTime     time.Duration
	Speedup     float64
	FrameRate   float64 // frames per wall-clock second
	MeanUpdate  time.Duration
	StdUpdate   time.Duration
	Agents      int // remaining at the end
	Removed     int
	StoppedPeak int
}

// Simulation owns every agent. All methods except Stop, Stopped and
// RunID must be called from the goroutine running Run.
type Simulation struct {
	opts    Options
	runID   string
	agents  []*agent.Agent
	grid    *collision.Grid
	sensors []sensor.Sensor
	sink    sensor.Sink
	frames  *framebuf.DoubleBuffer[agent.Frame]
	clock   timeutil.Clock
	simTime *timeutil.SimTime

	stop        atomic.Bool
	frame       uint64
	updates     []float64 // seconds per tick
	removed     int
	stoppedPeak int
}

// New builds a simulation and spawns its population. sink may be nil, in
// which case nothing is persisted.
func New(opts Options, sink sensor.Sink, frames *framebuf.DoubleBuffer[agent.Frame], clock timeutil.Clock) (*Simulation, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("simulation: %w", err)
	}
	grid, err := collision.NewGrid(opts.CollisionCellSize, opts.Width, opts.Height)
	if err != nil {
		return nil, fmt.Errorf("simulation: %w", err)
	}
	sensors := make([]sensor.Sensor, 0, len(opts.Sensors))
	for _, spec := range opts.Sensors {
		s, err := sensor.New(spec)
		if err != nil {
			return nil, fmt.Errorf("simulation: %w", err)
		}
		sensors = append(sensors, s)
	}
	spawner := agent.NewSpawner(opts.Width, opts.Height, opts.WaypointDistance, opts.Seed)
	agents, err := spawner.Populate(opts.Taxonomy, opts.NumAgents, opts.Scenario)
	if err != nil {
		return nil, fmt.Errorf("simulation: %w", err)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Simulation{
		opts:    opts,
		runID:   uuid.NewString(),
		agents:  agents,
		grid:    grid,
		sensors: sensors,
		sink:    sink,
		frames:  frames,
		clock:   clock,
		simTime: timeutil.NewSimTime(opts.StartTime),
	}, nil
}

// RunID identifies this run in logs.
func (s *Simulation) RunID() string { return s.runID }

// Stop asks the loop to finish after the current tick. Safe for concurrent
// use.
func (s *Simulation) Stop() { s.stop.Store(true) }

// Stopped reports whether Stop was called or the run has finished.
func (s *Simulation) Stopped() bool { return s.stop.Load() }

// Agents returns the live agents. Only valid on the simulation goroutine.
func (s *Simulation) Agents() []*agent.Agent { return s.agents }

// Run executes ticks until MaxFrames is reached, Stop is called or ctx is
// done. It then marks the frame stream as ended, wakes the consumer and
// returns run statistics.
func (s *Simulation) Run(ctx context.Context) Stats {
	start := s.clock.Now()
	s.initialise(ctx)

	for (s.opts.MaxFrames == 0 || s.frame < uint64(s.opts.MaxFrames)) && !s.stop.Load() && ctx.Err() == nil {
		tickStart := s.clock.Now()

		f := agent.Snapshot(s.frame, s.simTime.Elapsed(), s.simTime.Now(), s.agents)
		if s.frames != nil {
			s.frames.Write(f)
			s.frames.Swap()
		}
		framesWritten.Inc()
		s.frame++
		s.simTime.Advance(s.opts.TimeStep)

		s.update(ctx, f)

		took := s.clock.Since(tickStart)
		s.updates = append(s.updates, took.Seconds())
		tickDuration.Observe(took.Seconds())
		if s.opts.Realtime {
			if rest := timeutil.Seconds(s.opts.TimeStep) - took; rest > 0 {
				s.clock.Sleep(rest)
			}
		}
	}

	s.stop.Store(true)
	if s.frames != nil {
		s.frames.End()
		s.frames.Swap()
	}
	stats := s.stats(s.clock.Since(start))
	s.logStats(stats)
	return stats
}

// initialise clears previous records when configured and writes the
// metadata of the run and of every sensor.
func (s *Simulation) initialise(ctx context.Context) {
	if s.opts.ClearDatabase {
		scopes := []string{ScopeSimulation, ScopeGroundTruth}
		for _, sn := range s.sensors {
			scopes = append(scopes, sn.ID())
		}
		sensor.ClearScopes(ctx, s.sink, scopes...)
	}
	ts := s.simTime.Timestamp()
	sensor.DeliverOne(ctx, s.sink, sensor.Metadata{
		Timestamp:  ts,
		SensorID:   ScopeSimulation,
		SensorType: ScopeSimulation,
		Width:      s.opts.Width,
		Height:     s.opts.Height,
		FrameRate:  1 / s.opts.TimeStep,
		CellSize:   s.opts.CollisionCellSize,
	})
	for _, sn := range s.sensors {
		sensor.DeliverOne(ctx, s.sink, sn.Metadata(ts))
	}
	monitoring.Logf("[Simulation] run %s: %d agents, %d sensors, %d frames at %.3fs",
		s.runID, len(s.agents), len(s.sensors), s.opts.MaxFrames, s.opts.TimeStep)
}

// update advances the world by one time step. f is the frame published at
// the start of the tick.
func (s *Simulation) update(ctx context.Context, f agent.Frame) {
	if s.opts.RecordAgents {
		s.postGroundTruth(ctx, f)
	}

	dt := s.opts.TimeStep
	elapsed := s.simTime.Elapsed().Seconds()
	s.grid.Clear()

	kept := make([]*agent.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		if agent.OutOfBounds(a, s.opts.Width, s.opts.Height) {
			s.removed++
			agentsRemoved.Inc()
			continue
		}
		kept = append(kept, a)
	}
	s.agents = kept

	for _, a := range s.agents {
		s.grid.AddAgent(a)
		a.ResetCollisionState()
		a.UpdatePosition(dt)
		if a.State == agent.Stopped {
			a.Resume(s.agents)
		} else {
			a.UpdateVelocity(dt, elapsed)
		}
	}

	post := agent.Snapshot(s.frame, s.simTime.Elapsed(), s.simTime.Now(), s.agents)
	for _, b := range s.consume(post, dt) {
		sensor.Deliver(ctx, s.sink, b)
	}

	s.resolveCollisions()

	stopped := 0
	for _, a := range s.agents {
		if a.State == agent.Stopped {
			stopped++
		}
	}
	s.stoppedPeak = max(s.stoppedPeak, stopped)
	activeAgents.Set(float64(len(s.agents)))
	stoppedAgents.Set(float64(stopped))
}

// consume feeds f to every sensor, running up to NumThreads sensors at
// once, and returns the emitted batches in sensor order.
func (s *Simulation) consume(f agent.Frame, dt float64) []sensor.Batch {
	results := make([]sensor.Batch, len(s.sensors))
	emitted := make([]bool, len(s.sensors))

	if s.opts.NumThreads <= 1 || len(s.sensors) <= 1 {
		for i, sn := range s.sensors {
			results[i], emitted[i] = sn.Consume(f, dt)
		}
	} else {
		sem := make(chan struct{}, s.opts.NumThreads)
		var wg sync.WaitGroup
		for i, sn := range s.sensors {
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				results[i], emitted[i] = sn.Consume(f, dt)
			}()
		}
		wg.Wait()
	}

	out := results[:0]
	for i, b := range results {
		if emitted[i] {
			out = append(out, b)
		}
	}
	return out
}

// resolveCollisions flags overlapping buffer zones through the grid, then
// predicts collisions between neighbours and against obstacles, stopping
// the agent that has to yield.
func (s *Simulation) resolveCollisions() {
	s.grid.Clear()
	for _, a := range s.agents {
		s.grid.AddAgent(a)
	}
	if pairs := s.grid.CheckCollisions(); len(pairs) > 0 {
		collisionsDetected.Add(float64(len(pairs)))
	}
	for _, a := range s.agents {
		for _, b := range s.grid.Nearby(a) {
			if a.ID < b.ID {
				agent.PredictCollision(a, b)
			}
		}
		if len(s.opts.Obstacles) > 0 {
			agent.PredictObstacle(a, s.opts.Obstacles)
		}
	}
}

func (s *Simulation) postGroundTruth(ctx context.Context, f agent.Frame) {
	if s.sink == nil || len(f.Agents) == 0 {
		return
	}
	ts := timeutil.Format(f.Timestamp)
	recs := make([]sensor.Record, len(f.Agents))
	for i, v := range f.Agents {
		vel := v.Velocity
		recs[i] = sensor.AgentRecord{
			Timestamp: ts,
			SensorID:  ScopeGroundTruth,
			Kind:      sensor.DataAgent,
			AgentID:   v.ID,
			Type:      v.Type,
			Position:  v.Position,
			Velocity:  &vel,
		}
	}
	sensor.Deliver(ctx, s.sink, sensor.Batch{SensorID: ScopeGroundTruth, Timestamp: ts, Records: recs})
}

func (s *Simulation) stats(wall time.Duration) Stats {
	st := Stats{
		RunID:       s.runID,
		Frames:      s.frame,
		WallTime:    wall,
		SimTime:     s.simTime.Elapsed(),
		Agents:      len(s.agents),
		Removed:     s.removed,
		StoppedPeak: s.stoppedPeak,
	}
	if wall > 0 {
		st.Speedup = st.SimTime.Seconds() / wall.Seconds()
		st.FrameRate = float64(st.Frames) / wall.Seconds()
	}
	if len(s.updates) > 0 {
		mean, std := stat.MeanStdDev(s.updates, nil)
		st.MeanUpdate = timeutil.Seconds(mean)
		if len(s.updates) > 1 {
			st.StdUpdate = timeutil.Seconds(std)
		}
	}
	return st
}

func (s *Simulation) logStats(st Stats) {
	monitoring.Logf("[Simulation] run %s finished: %d frames, wall %v, simulated %v, speedup %.2fx, %.1f fps",
		st.RunID, st.Frames, st.WallTime.Round(time.Millisecond), st.SimTime, st.Speedup, st.FrameRate)
	monitoring.Logf("[Simulation] update time mean %v (sd %v); %d agents left, %d removed, peak %d stopped",
		st.MeanUpdate, st.StdUpdate, st.Agents, st.Removed, st.StoppedPeak)
}

// Centroid returns the mean agent position, or the world centre when there
// are no agents.
func Centroid(f agent.Frame, width, height float64) r2.Vec {
	if len(f.Agents) == 0 {
		return r2.Vec{X: width / 2, Y: height / 2}
	}
	xs := make([]float64, len(f.Agents))
	ys := make([]float64, len(f.Agents))
	for i, v := range f.Agents {
		xs[i], ys[i] = v.Position.X, v.Position.Y
	}
	return r2.Vec{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil)}
}

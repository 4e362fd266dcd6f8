package simulation

import (
	"fmt"
	"time"

	"github.com/banshee-data/agentsim/internal/agent"
	"github.com/banshee-data/agentsim/internal/config"
	"github.com/banshee-data/agentsim/internal/sensor"
)

// Options is the immutable run configuration of a Simulation.
type Options struct {
	Width, Height float64
	TimeStep      float64
	MaxFrames     int

	Taxonomy         agent.Taxonomy
	NumAgents        int
	Scenario         string
	WaypointDistance float64
	Seed             uint64

	CollisionCellSize float64
	Obstacles         []agent.Obstacle
	Sensors           []sensor.Spec
	// NumThreads bounds how many sensors consume a frame concurrently.
	NumThreads int

	StartTime     time.Time
	RecordAgents  bool
	ClearDatabase bool
	// Realtime paces ticks to the wall clock instead of running flat out.
	Realtime bool
}

// OptionsFromConfig resolves cfg into Options. now seeds the clock-based
// defaults: the start time when no datetime is set and the random seed when
// seed is 0.
func OptionsFromConfig(cfg *config.Config, now time.Time) Options {
	seed := cfg.GetSeed()
	if seed == 0 {
		seed = uint64(now.UnixNano())
	}
	return Options{
		Width:             cfg.GetWidth(),
		Height:            cfg.GetHeight(),
		TimeStep:          cfg.GetTimeStep(),
		MaxFrames:         cfg.GetMaxFrames(),
		Taxonomy:          cfg.Taxonomy(),
		NumAgents:         cfg.GetNumAgents(),
		Scenario:          cfg.GetScenario(),
		WaypointDistance:  cfg.GetWaypointDistance(),
		Seed:              seed,
		CollisionCellSize: cfg.GetCollisionCellSize(),
		Obstacles:         cfg.ObstacleList(),
		Sensors:           cfg.SensorSpecs(),
		NumThreads:        cfg.GetNumThreads(),
		StartTime:         cfg.GetStartTime(now),
		RecordAgents:      cfg.GetRecordAgents(),
		ClearDatabase:     cfg.GetClearDatabase(),
		Realtime:          cfg.GetRealtime(),
	}
}

func (o Options) validate() error {
	switch {
	case o.TimeStep <= 0:
		return fmt.Errorf("time step must be positive, got %v", o.TimeStep)
	case o.Width <= 0 || o.Height <= 0:
		return fmt.Errorf("world %vx%v is empty", o.Width, o.Height)
	case o.MaxFrames < 0:
		return fmt.Errorf("max frames must not be negative, got %d", o.MaxFrames)
	}
	return nil
}

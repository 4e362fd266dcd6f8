package config

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/agentsim/internal/agent"
	"github.com/banshee-data/agentsim/internal/quadtree"
	"github.com/banshee-data/agentsim/internal/sensor"
)

// Validate checks the configuration and reports every problem found.
// The returned error wraps ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.GetTimeStep() <= 0 {
		add("simulation.time_step must be positive, got %v", c.GetTimeStep())
	}
	if d := c.Simulation.DurationSeconds; d != nil && *d <= 0 {
		add("simulation.duration_seconds must be positive, got %v", *d)
	}
	if m := c.Simulation.MaximumFrames; m != nil && *m <= 0 {
		add("simulation.maximum_frames must be positive, got %d", *m)
	}
	if c.GetWidth() <= 0 || c.GetHeight() <= 0 {
		add("simulation world %vx%v must be non-empty", c.GetWidth(), c.GetHeight())
	}
	if dt := c.Simulation.Datetime; dt != nil && *dt != "" {
		if _, err := parseDatetime(*dt); err != nil {
			add("simulation.datetime: %w", err)
		}
	}
	if !agent.KnownScenario(c.GetScenario()) {
		add("simulation.scenario %q is not recognised", c.GetScenario())
	}

	if c.GetWaypointDistance() <= 0 {
		add("agents.waypoint_distance must be positive, got %v", c.GetWaypointDistance())
	}
	if c.GetNumAgents() < 0 {
		add("agents.num_agents must not be negative, got %d", c.GetNumAgents())
	}
	if err := c.Taxonomy().Validate(); err != nil {
		add("agents.road_user_taxonomy: %w", err)
	}

	if c.GetCollisionCellSize() <= 0 {
		add("collision.grid.cell_size must be positive, got %v", c.GetCollisionCellSize())
	}

	for i, o := range c.Obstacles {
		if o.Type != "" && o.Type != "rectangle" {
			add("obstacles[%d]: unsupported type %q", i, o.Type)
		}
		if len(o.Position) != 2 || len(o.Size) != 2 {
			add("obstacles[%d]: position and size need two values each", i)
			continue
		}
		if o.Size[0] <= 0 || o.Size[1] <= 0 {
			add("obstacles[%d]: size must be positive", i)
		}
	}

	ids := make(map[string]bool, len(c.Sensors))
	for i, s := range c.Sensors {
		if err := s.validate(); err != nil {
			add("sensors[%d]: %w", i, err)
		}
		id := c.SensorID(i)
		if ids[id] {
			add("sensors[%d]: duplicate id %q", i, id)
		}
		ids[id] = true
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func (s SensorConfig) validate() error {
	kind, err := sensor.ParseKind(s.Type)
	if err != nil {
		return err
	}
	var errs []error
	if s.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("frame_rate must be positive, got %v", s.FrameRate))
	}
	if s.DetectionArea.Width <= 0 || s.DetectionArea.Height <= 0 {
		errs = append(errs, fmt.Errorf("detection_area %vx%v must be non-empty", s.DetectionArea.Width, s.DetectionArea.Height))
	}
	if s.Privacy.K < 0 {
		errs = append(errs, fmt.Errorf("privacy.k must not be negative, got %d", s.Privacy.K))
	}
	switch kind {
	case sensor.GridBased:
		if s.Grid.CellSize <= 0 {
			errs = append(errs, fmt.Errorf("grid.cell_size must be positive, got %v", s.Grid.CellSize))
		}
	case sensor.AdaptiveGridBased:
		if s.Grid.CellSize <= 0 {
			errs = append(errs, fmt.Errorf("grid.cell_size must be positive, got %v", s.Grid.CellSize))
		}
		if s.Grid.MaxDepth < 1 || s.Grid.MaxDepth > quadtree.MaxSupportedDepth {
			errs = append(errs, fmt.Errorf("grid.max_depth must be in [1, %d], got %d", quadtree.MaxSupportedDepth, s.Grid.MaxDepth))
		}
		if s.Grid.CellSize > 0 {
			area := r2.Vec{X: s.DetectionArea.Width, Y: s.DetectionArea.Height}
			if err := sensor.CheckAdaptiveCoverage(area, s.Grid.CellSize); err != nil {
				errs = append(errs, fmt.Errorf("grid.cell_size: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

// SensorID returns the configured id of sensor i, or a positional default.
func (c *Config) SensorID(i int) string {
	if id := c.Sensors[i].ID; id != "" {
		return id
	}
	return fmt.Sprintf("sensor-%d", i)
}

// Taxonomy converts the road-user entries into agent type attributes,
// filling noise defaults.
func (c *Config) Taxonomy() agent.Taxonomy {
	out := make(agent.Taxonomy, 0, len(c.Agents.RoadUserTaxonomy))
	for _, r := range c.Agents.RoadUserTaxonomy {
		noiseScale := 0.1 // default
		if r.Velocity.NoiseScale != nil {
			noiseScale = *r.Velocity.NoiseScale
		}
		noiseFactor := 0.5 // default
		if r.Velocity.NoiseFactor != nil {
			noiseFactor = *r.Velocity.NoiseFactor
		}
		out = append(out, agent.TypeAttributes{
			Type:        r.Type,
			Probability: r.Probability,
			Priority:    r.Priority,
			BodyRadius:  r.Radius,
			Color:       r.Color,
			Velocity: agent.VelocityAttributes{
				Min:         r.Velocity.Min,
				Max:         r.Velocity.Max,
				Mu:          r.Velocity.Mu,
				Sigma:       r.Velocity.Sigma,
				NoiseScale:  noiseScale,
				NoiseFactor: noiseFactor,
			},
			Acceleration: agent.AccelerationAttributes{
				Min: r.Acceleration.Min,
				Max: r.Acceleration.Max,
			},
			LookAheadTime: r.LookAheadTime,
		})
	}
	return out
}

// ObstacleList converts the obstacle entries. Malformed entries are
// rejected by Validate and skipped here.
func (c *Config) ObstacleList() []agent.Obstacle {
	out := make([]agent.Obstacle, 0, len(c.Obstacles))
	for _, o := range c.Obstacles {
		if len(o.Position) != 2 || len(o.Size) != 2 {
			continue
		}
		lo := r2.Vec{X: o.Position[0], Y: o.Position[1]}
		out = append(out, agent.Obstacle{
			Bounds: r2.Box{Min: lo, Max: r2.Add(lo, r2.Vec{X: o.Size[0], Y: o.Size[1]})},
			Color:  o.Color,
		})
	}
	return out
}

// SensorSpecs converts the sensor entries for sensor.New.
func (c *Config) SensorSpecs() []sensor.Spec {
	out := make([]sensor.Spec, 0, len(c.Sensors))
	for i, s := range c.Sensors {
		kind, _ := sensor.ParseKind(s.Type)
		out = append(out, sensor.Spec{
			ID:        c.SensorID(i),
			Kind:      kind,
			FrameRate: s.FrameRate,
			Area: r2.Box{
				Min: r2.Vec{X: s.DetectionArea.X, Y: s.DetectionArea.Y},
				Max: r2.Vec{X: s.DetectionArea.X + s.DetectionArea.Width, Y: s.DetectionArea.Y + s.DetectionArea.Height},
			},
			CellSize: s.Grid.CellSize,
			MaxDepth: s.Grid.MaxDepth,
			K:        s.Privacy.K,
		})
	}
	return out
}

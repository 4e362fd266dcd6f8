package agent

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/stat/distuv"
)

// Scenario names accepted by Spawner.Populate.
const (
	ScenarioDefault    = "default"
	ScenarioRandom     = "random"
	ScenarioCrossing   = "crossing"
	ScenarioContinuous = "continuous"
)

// KnownScenario reports whether Populate accepts name.
func KnownScenario(name string) bool {
	switch name {
	case "", ScenarioDefault, ScenarioRandom, ScenarioCrossing, ScenarioContinuous:
		return true
	}
	return false
}

// Spawner creates agents with random origins and destinations inside the
// world rectangle.
type Spawner struct {
	Width            float64
	Height           float64
	WaypointDistance float64
	SensorID         string

	rng   *rand.Rand
	noise *PerlinNoise
}

// NewSpawner returns a spawner seeded with seed. All agents it creates share
// one noise field.
func NewSpawner(width, height, waypointDistance float64, seed uint64) *Spawner {
	return &Spawner{
		Width:            width,
		Height:           height,
		WaypointDistance: waypointDistance,
		SensorID:         "0",
		rng:              rand.New(rand.NewPCG(seed, seed+1)),
		noise:            NewPerlinNoise(seed),
	}
}

// TruncatedNormal draws from N(mu, sigma) restricted to [lo, hi] by inverse
// transform sampling.
func TruncatedNormal(rng *rand.Rand, mu, sigma, lo, hi float64) float64 {
	if sigma <= 0 {
		return min(max(mu, lo), hi)
	}
	n := distuv.Normal{Mu: mu, Sigma: sigma}
	a, b := n.CDF(lo), n.CDF(hi)
	if b <= a {
		return min(max(mu, lo), hi)
	}
	x := n.Quantile(a + rng.Float64()*(b-a))
	return min(max(x, lo), hi)
}

func (s *Spawner) randomPoint() r2.Vec {
	return r2.Vec{X: s.rng.Float64() * s.Width, Y: s.rng.Float64() * s.Height}
}

// Spawn creates one agent of the given type with a fresh trajectory and a
// speed drawn from the type's truncated normal.
func (s *Spawner) Spawn(attrs TypeAttributes) *Agent {
	a := New(uuid.NewString(), attrs, s.randomPoint(), s.randomPoint(), s.noise)
	a.SensorID = s.SensorID
	a.CalculateTrajectory(s.WaypointDistance)
	v := attrs.Velocity
	a.VelocityMagnitude = TruncatedNormal(s.rng, v.Mu, v.Sigma, v.Min, v.Max)
	a.CalculateVelocity(a.Trajectory[1])
	a.InitialVelocity = a.Velocity
	a.UpdateBufferZone()
	return a
}

// Populate creates n agents for scenario. The default scenario splits n by
// the taxonomy probabilities; random spawns every agent from the first type.
// Crossing and continuous have no dedicated layout yet and use the default.
func (s *Spawner) Populate(tax Taxonomy, n int, scenario string) ([]*Agent, error) {
	if len(tax) == 0 {
		return nil, fmt.Errorf("populate: empty taxonomy")
	}
	switch scenario {
	case ScenarioRandom:
		out := make([]*Agent, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, s.Spawn(tax[0]))
		}
		return out, nil
	case "", ScenarioDefault, ScenarioCrossing, ScenarioContinuous:
		if err := tax.Validate(); err != nil {
			return nil, fmt.Errorf("populate: %w", err)
		}
		counts := tax.Counts(n)
		out := make([]*Agent, 0, n)
		for i, attrs := range tax {
			for j := 0; j < counts[i]; j++ {
				out = append(out, s.Spawn(attrs))
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("populate: unknown scenario %q", scenario)
	}
}

package agent

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
)

func cyclist() TypeAttributes {
	return TypeAttributes{
		Type:        "Adult Cyclist",
		Probability: 1,
		Priority:    2,
		BodyRadius:  0.8,
		Color:       "blue",
		Velocity: VelocityAttributes{
			Min: 2, Max: 8, Mu: 5, Sigma: 1, NoiseScale: 0.05, NoiseFactor: 0.5,
		},
		Acceleration:  AccelerationAttributes{Min: -2, Max: 2},
		LookAheadTime: 2,
	}
}

func TestCalculateTrajectory_Degenerate(t *testing.T) {
	origin := r2.Vec{X: 1, Y: 1}
	dest := r2.Vec{X: 4, Y: 1}
	a := New("a", cyclist(), origin, dest, nil)
	a.CalculateTrajectory(10)

	if diff := cmp.Diff([]r2.Vec{origin, dest}, a.Trajectory); diff != "" {
		t.Errorf("trajectory (-want +got):\n%s", diff)
	}
}

func TestCalculateTrajectory_Spacing(t *testing.T) {
	a := New("a", cyclist(), r2.Vec{}, r2.Vec{X: 0, Y: 25}, nil)
	a.CalculateTrajectory(10)

	want := []r2.Vec{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 0, Y: 20}, {X: 0, Y: 25}}
	opt := cmpopts.EquateApprox(0, 1e-9)
	if diff := cmp.Diff(want, a.Trajectory, opt); diff != "" {
		t.Errorf("trajectory (-want +got):\n%s", diff)
	}
	if a.Waypoint != 1 {
		t.Errorf("expected waypoint cursor 1, got %d", a.Waypoint)
	}
}

func TestCalculateTrajectory_ExactMultiple(t *testing.T) {
	tests := []struct {
		name string
		dest r2.Vec
		want []r2.Vec
	}{
		{"two spacings", r2.Vec{X: 10}, []r2.Vec{{}, {X: 5}, {X: 10}}},
		{"one spacing", r2.Vec{X: 5}, []r2.Vec{{}, {X: 5}}},
		{"diagonal", r2.Vec{X: 6, Y: 8}, []r2.Vec{{}, {X: 3, Y: 4}, {X: 6, Y: 8}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New("a", cyclist(), r2.Vec{}, tt.dest, nil)
			a.CalculateTrajectory(5)
			if diff := cmp.Diff(tt.want, a.Trajectory, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
				t.Errorf("trajectory (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCalculateVelocity(t *testing.T) {
	a := New("a", cyclist(), r2.Vec{}, r2.Vec{X: 3, Y: 4}, nil)
	a.VelocityMagnitude = 5
	a.CalculateVelocity(r2.Vec{X: 3, Y: 4})

	assert.InDelta(t, 3.0, a.Velocity.X, 1e-9)
	assert.InDelta(t, 4.0, a.Velocity.Y, 1e-9)
	assert.InDelta(t, 1.0, r2.Norm(a.Heading), 1e-9)
}

func TestUpdatePosition(t *testing.T) {
	a := New("a", cyclist(), r2.Vec{}, r2.Vec{X: 100}, nil)
	a.CalculateTrajectory(10)
	a.VelocityMagnitude = 4
	a.CalculateVelocity(a.Trajectory[1])
	a.InitialVelocity = a.Velocity

	a.UpdatePosition(0.5)
	assert.InDelta(t, 2.0, a.Position.X, 1e-9)
	assert.Equal(t, 1, a.Waypoint)

	for i := 0; i < 4; i++ {
		a.UpdatePosition(0.5)
	}
	// within one step of x=10 the cursor moves on
	assert.Equal(t, 2, a.Waypoint)
}

func TestBufferZoneGrowsWithSpeed(t *testing.T) {
	attrs := cyclist()
	a := New("a", attrs, r2.Vec{}, r2.Vec{X: 10}, nil)
	if got, want := a.BufferZoneRadius, MinBufferClearance+attrs.BodyRadius; got != want {
		t.Errorf("expected stationary buffer zone %v, got %v", want, got)
	}
	a.Velocity = r2.Vec{X: attrs.Velocity.Max}
	a.UpdateBufferZone()
	if got, want := a.BufferZoneRadius, MinBufferClearance+2*attrs.BodyRadius; math.Abs(got-want) > 1e-9 {
		t.Errorf("expected buffer zone %v at max speed, got %v", want, got)
	}
}

func TestUpdateVelocity_ClampedAndSmooth(t *testing.T) {
	attrs := cyclist()
	attrs.Velocity.NoiseFactor = 10
	noise := NewPerlinNoise(7)
	a := New("a", attrs, r2.Vec{X: 5, Y: 5}, r2.Vec{X: 500, Y: 5}, noise)
	a.VelocityMagnitude = 5
	a.CalculateVelocity(a.Destination)
	a.InitialVelocity = a.Velocity

	prev := a.Velocity
	for i := 0; i < 200; i++ {
		elapsed := float64(i) * 0.01
		a.UpdateVelocity(0.01, elapsed)
		s := a.Speed()
		if s < attrs.Velocity.Min-1e-9 || s > attrs.Velocity.Max+1e-9 {
			t.Fatalf("tick %d: speed %v outside [%v, %v]", i, s, attrs.Velocity.Min, attrs.Velocity.Max)
		}
		if i > 0 && r2.Norm(r2.Sub(a.Velocity, prev)) > 2 {
			t.Fatalf("tick %d: velocity jumped from %v to %v", i, prev, a.Velocity)
		}
		prev = a.Velocity
		a.UpdatePosition(0.01)
	}
}

func TestUpdateVelocity_AccelerationLimited(t *testing.T) {
	attrs := cyclist()
	a := New("a", attrs, r2.Vec{}, r2.Vec{X: 100}, nil)
	a.Velocity = r2.Vec{X: 4}
	a.InitialVelocity = r2.Vec{X: 8}

	// max acceleration 2 m/s^2 over half a second
	a.UpdateVelocity(0.5, 0)
	assert.InDelta(t, 5.0, a.Velocity.X, 1e-9)
	assert.InDelta(t, 2.0, a.Acceleration, 1e-9)

	a.InitialVelocity = r2.Vec{X: 2}
	a.UpdateVelocity(0.5, 0)
	assert.InDelta(t, 4.0, a.Velocity.X, 1e-9)
	assert.InDelta(t, -2.0, a.Acceleration, 1e-9)

	// within the band the target is reached in one step
	a.InitialVelocity = r2.Vec{X: 4.5}
	a.UpdateVelocity(0.5, 0)
	assert.InDelta(t, 4.5, a.Velocity.X, 1e-9)
	assert.InDelta(t, 1.0, a.Acceleration, 1e-9)

	// an unbounded type jumps straight to the target
	attrs.Acceleration = AccelerationAttributes{}
	b := New("b", attrs, r2.Vec{}, r2.Vec{X: 100}, nil)
	b.Velocity = r2.Vec{X: 2}
	b.InitialVelocity = r2.Vec{X: 8}
	b.UpdateVelocity(0.1, 0)
	assert.InDelta(t, 8.0, b.Velocity.X, 1e-9)
	assert.Zero(t, b.Acceleration)
}

func TestPerlinNoise_RangeAndContinuity(t *testing.T) {
	n := NewPerlinNoise(1)
	rng := rand.New(rand.NewPCG(1, 1))
	for i := 0; i < 1000; i++ {
		x, y, z := rng.Float64()*50, rng.Float64()*50, rng.Float64()*10
		v := n.Noise(x, y, z)
		if v < 0 || v > 1 {
			t.Fatalf("noise(%v,%v,%v) = %v outside [0,1]", x, y, z, v)
		}
		if d := math.Abs(n.Noise(x+1e-4, y, z) - v); d > 1e-2 {
			t.Fatalf("noise not continuous at (%v,%v,%v): delta %v", x, y, z, d)
		}
	}
	if NewPerlinNoise(3).Noise(1.5, 2.5, 3.5) != NewPerlinNoise(3).Noise(1.5, 2.5, 3.5) {
		t.Error("expected noise to be deterministic for a seed")
	}
	if NewPerlinNoise(3).Noise(1.5, 2.5, 3.5) == NewPerlinNoise(4).Noise(1.5, 2.5, 3.5) {
		t.Error("expected different seeds to give different noise")
	}
}

func TestStopAndResume(t *testing.T) {
	a := New("a", cyclist(), r2.Vec{}, r2.Vec{X: 100}, nil)
	a.Velocity = r2.Vec{X: 3}

	a.Stop()
	require.Equal(t, Stopped, a.State)
	assert.Equal(t, r2.Vec{}, a.Velocity)

	// stopping again must not overwrite the cached velocity
	a.Stop()

	require.True(t, a.Resume(nil))
	assert.Equal(t, Resuming, a.State)
	assert.Equal(t, r2.Vec{X: 3}, a.Velocity)

	a.UpdateVelocity(0.1, 0)
	assert.Equal(t, Moving, a.State)
}

// Two stopped agents whose buffer zones sum to 5 stay stopped until they are
// at least 5 apart.
func TestResume_BlockedWhileBufferZonesOverlap(t *testing.T) {
	attrs := cyclist()
	attrs.BodyRadius = 2 // stationary buffer zone 2.5
	a := New("a", attrs, r2.Vec{}, r2.Vec{X: -100}, nil)
	b := New("b", attrs, r2.Vec{X: 4}, r2.Vec{X: 100}, nil)
	a.Velocity = r2.Vec{X: -1}
	b.Velocity = r2.Vec{X: 1}
	a.Stop()
	b.Stop()
	require.InDelta(t, 5.0, a.BufferZoneRadius+b.BufferZoneRadius, 1e-9)

	agents := []*Agent{a, b}
	for _, d := range []float64{4, 4.5, 4.999} {
		b.Position = r2.Vec{X: d}
		if a.CanResume(agents) || b.CanResume(agents) {
			t.Fatalf("distance %v: expected neither agent to be able to resume", d)
		}
		if a.Resume(agents) || b.Resume(agents) {
			t.Fatalf("distance %v: resume must be refused", d)
		}
	}
	assert.Equal(t, 3, a.StoppedTicks())

	b.Position = r2.Vec{X: 5}
	assert.True(t, a.Resume(agents))
	// a is moving again, so its buffer zone grew past b's
	assert.False(t, b.Resume(agents))
}

func TestResumeSafety_Random(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	attrs := cyclist()
	agents := make([]*Agent, 40)
	for i := range agents {
		p := r2.Vec{X: rng.Float64() * 30, Y: rng.Float64() * 30}
		agents[i] = New("x", attrs, p, p, nil)
		agents[i].Velocity = r2.Vec{X: 1}
		agents[i].Stop()
	}
	for _, a := range agents {
		overlapping := false
		for _, o := range agents {
			if o != a && Overlaps(a, o) {
				overlapping = true
			}
		}
		resumed := a.Resume(agents)
		if resumed && overlapping {
			t.Fatalf("agent at %v resumed while overlapping another buffer zone", a.Position)
		}
		if resumed {
			// put it back so the next check sees the stopped radius
			a.Stop()
		}
	}
}

func TestPredictCollision_PriorityAndSpeed(t *testing.T) {
	attrs := cyclist()
	mk := func(x, vx float64, prio int) *Agent {
		a := New("x", attrs, r2.Vec{X: x}, r2.Vec{X: x + vx*100}, nil)
		a.Velocity = r2.Vec{X: vx}
		a.Priority = prio
		a.UpdateBufferZone()
		return a
	}

	// head-on, equal priority: the slower one stops
	slow, fast := mk(0, 1, 1), mk(8, -4, 1)
	require.True(t, PredictCollision(slow, fast))
	assert.Equal(t, Stopped, slow.State)
	assert.Equal(t, Moving, fast.State)
	assert.True(t, slow.CollisionPredicted && fast.CollisionPredicted)

	// lower priority number wins regardless of speed
	a, b := mk(0, 1, 1), mk(8, -4, 3)
	require.True(t, PredictCollision(a, b))
	assert.Equal(t, Moving, a.State)
	assert.Equal(t, Stopped, b.State)

	// diverging agents never meet
	c, d := mk(0, -1, 1), mk(10, 1, 1)
	assert.False(t, PredictCollision(c, d))
}

func TestPredictObstacle(t *testing.T) {
	a := New("a", cyclist(), r2.Vec{}, r2.Vec{X: 100}, nil)
	a.Velocity = r2.Vec{X: 5}
	a.UpdateBufferZone()

	wall := Obstacle{Bounds: r2.Box{Min: r2.Vec{X: 6, Y: -5}, Max: r2.Vec{X: 7, Y: 5}}}
	require.True(t, PredictObstacle(a, []Obstacle{wall}))
	assert.Equal(t, Stopped, a.State)

	far := Obstacle{Bounds: r2.Box{Min: r2.Vec{X: 60, Y: -5}, Max: r2.Vec{X: 61, Y: 5}}}
	b := New("b", cyclist(), r2.Vec{}, r2.Vec{X: 100}, nil)
	b.Velocity = r2.Vec{X: 5}
	assert.False(t, PredictObstacle(b, []Obstacle{far}))
	assert.InDelta(t, 59.0, far.DistanceTo(r2.Vec{X: 1}), 1e-9)
}

func TestOutOfBounds(t *testing.T) {
	a := New("a", cyclist(), r2.Vec{X: -0.5}, r2.Vec{}, nil)
	assert.False(t, OutOfBounds(a, 10, 10))
	a.Position = r2.Vec{X: -0.9}
	assert.True(t, OutOfBounds(a, 10, 10))
	a.Position = r2.Vec{X: 5, Y: 10.9}
	assert.True(t, OutOfBounds(a, 10, 10))
}

func TestTaxonomyValidate(t *testing.T) {
	ped := cyclist()
	ped.Type = "Pedestrian"
	ped.Probability = 0.4
	cyc := cyclist()
	cyc.Probability = 0.6

	require.NoError(t, Taxonomy{ped, cyc}.Validate())

	cyc.Probability = 0.5
	assert.Error(t, Taxonomy{ped, cyc}.Validate())
	assert.Error(t, Taxonomy{}.Validate())
	assert.Error(t, Taxonomy{cyclist(), cyclist()}.Validate())
}

func TestPopulate(t *testing.T) {
	ped := cyclist()
	ped.Type = "Pedestrian"
	ped.Probability = 0.25
	cyc := cyclist()
	cyc.Probability = 0.75
	tax := Taxonomy{ped, cyc}

	s := NewSpawner(100, 50, 5, 42)
	agents, err := s.Populate(tax, 20, ScenarioDefault)
	require.NoError(t, err)
	require.Len(t, agents, 20)

	counts := map[string]int{}
	ids := map[string]bool{}
	for _, a := range agents {
		counts[a.Type]++
		ids[a.ID] = true
		assert.GreaterOrEqual(t, a.VelocityMagnitude, a.Attributes().Velocity.Min)
		assert.LessOrEqual(t, a.VelocityMagnitude, a.Attributes().Velocity.Max)
		assert.True(t, a.Position.X >= 0 && a.Position.X <= 100 && a.Position.Y >= 0 && a.Position.Y <= 50)
		assert.GreaterOrEqual(t, len(a.Trajectory), 2)
	}
	assert.Equal(t, map[string]int{"Pedestrian": 5, "Adult Cyclist": 15}, counts)
	assert.Len(t, ids, 20)

	_, err = s.Populate(tax, 5, "stampede")
	assert.Error(t, err)

	rnd, err := s.Populate(tax, 3, ScenarioRandom)
	require.NoError(t, err)
	for _, a := range rnd {
		assert.Equal(t, "Pedestrian", a.Type)
	}
}

func TestTruncatedNormal_Bounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(8, 8))
	for i := 0; i < 500; i++ {
		v := TruncatedNormal(rng, 5, 3, 4, 6)
		if v < 4 || v > 6 {
			t.Fatalf("sample %v outside [4, 6]", v)
		}
	}
	if v := TruncatedNormal(rng, 10, 0, 0, 3); v != 3 {
		t.Errorf("expected degenerate draw clamped to 3, got %v", v)
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	a := New("a", cyclist(), r2.Vec{X: 1, Y: 2}, r2.Vec{X: 9}, nil)
	f := Snapshot(3, 0, time.Time{}, []*Agent{a})
	a.Position = r2.Vec{X: 50}
	assert.Equal(t, r2.Vec{X: 1, Y: 2}, f.Agents[0].Position)
	assert.Equal(t, []r2.Vec{{X: 1, Y: 2}}, f.Positions())
}

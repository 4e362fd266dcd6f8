// Package agent models the simulated road users: their kinematic state,
// precomputed trajectories, smooth velocity noise and the stop/resume state
// machine used for collision avoidance.
package agent

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// MinBufferClearance is the clearance added around every body radius.
const MinBufferClearance = 0.5

const trajectoryEpsilon = 1e-9

// State is the motion state of an agent.
type State int

const (
	// Moving agents follow their trajectory.
	Moving State = iota
	// Stopped agents hold position until CanResume holds.
	Stopped
	// Resuming agents left Stopped on this tick and become Moving on the
	// next velocity update.
	Resuming
)

func (s State) String() string {
	switch s {
	case Moving:
		return "moving"
	case Stopped:
		return "stopped"
	case Resuming:
		return "resuming"
	default:
		return "unknown"
	}
}

// Agent is one simulated road user. It is owned and mutated by the
// simulation goroutine only; other goroutines see it through a Frame.
type Agent struct {
	ID       string
	Type     string
	SensorID string

	Origin      r2.Vec
	Destination r2.Vec
	Position    r2.Vec
	Velocity    r2.Vec
	// InitialVelocity is the unperturbed velocity the noise is added to.
	InitialVelocity r2.Vec
	// Heading is a unit vector.
	Heading r2.Vec
	// Acceleration is the speed change per second applied by the last
	// velocity update.
	Acceleration      float64
	VelocityMagnitude float64

	Trajectory []r2.Vec
	// Waypoint indexes the trajectory point the agent is heading for.
	Waypoint int

	BodyRadius       float64
	BufferZoneRadius float64
	Priority         int
	LookAheadTime    float64

	State              State
	CollisionPredicted bool

	attrs   TypeAttributes
	cached  r2.Vec
	noise   *PerlinNoise
	stopped int // ticks spent in Stopped
}

// New returns an agent of the given type at origin heading for destination.
// The trajectory and velocity are not computed yet.
func New(id string, attrs TypeAttributes, origin, destination r2.Vec, noise *PerlinNoise) *Agent {
	a := &Agent{
		ID:            id,
		Type:          attrs.Type,
		Origin:        origin,
		Destination:   destination,
		Position:      origin,
		BodyRadius:    attrs.BodyRadius,
		Priority:      attrs.Priority,
		LookAheadTime: attrs.LookAheadTime,
		attrs:         attrs,
		noise:         noise,
	}
	a.UpdateBufferZone()
	return a
}

// Attributes returns the type attributes the agent was built from.
func (a *Agent) Attributes() TypeAttributes { return a.attrs }

// Speed returns the current velocity magnitude.
func (a *Agent) Speed() float64 { return r2.Norm(a.Velocity) }

// UpdateBufferZone recomputes the buffer-zone radius: body radius plus the
// minimum clearance plus a term growing with speed.
func (a *Agent) UpdateBufferZone() {
	r := MinBufferClearance + a.BodyRadius
	if a.attrs.Velocity.Max > 0 {
		r += a.Speed() / a.attrs.Velocity.Max * a.BodyRadius
	}
	a.BufferZoneRadius = r
}

// CalculateTrajectory lays out waypoints from origin to destination every
// spacing units. When the two are closer than spacing the trajectory is just
// [origin, destination].
func (a *Agent) CalculateTrajectory(spacing float64) {
	a.Trajectory = a.Trajectory[:0]
	a.Trajectory = append(a.Trajectory, a.Origin)
	a.Waypoint = 1

	delta := r2.Sub(a.Destination, a.Origin)
	dist := r2.Norm(delta)
	n := 0
	if spacing > 0 {
		n = int(math.Floor(dist / spacing))
		// a point landing on the destination is the destination itself
		if n > 0 && float64(n)*spacing >= dist-trajectoryEpsilon {
			n--
		}
	}
	if n < 1 {
		a.Trajectory = append(a.Trajectory, a.Destination)
		return
	}

	step := r2.Scale(spacing/dist, delta)
	cur := a.Origin
	for i := 0; i < n; i++ {
		cur = r2.Add(cur, step)
		a.Trajectory = append(a.Trajectory, cur)
	}
	a.Trajectory = append(a.Trajectory, a.Destination)
}

// NextWaypoint returns the waypoint the agent is heading for and whether the
// trajectory still has one.
func (a *Agent) NextWaypoint() (r2.Vec, bool) {
	if a.Waypoint < 0 || a.Waypoint >= len(a.Trajectory) {
		return r2.Vec{}, false
	}
	return a.Trajectory[a.Waypoint], true
}

// CalculateVelocity points the velocity at next with the agent's configured
// magnitude.
func (a *Agent) CalculateVelocity(next r2.Vec) {
	angle := math.Atan2(next.Y-a.Position.Y, next.X-a.Position.X)
	a.Heading = r2.Vec{X: math.Cos(angle), Y: math.Sin(angle)}
	a.Velocity = r2.Scale(a.VelocityMagnitude, a.Heading)
}

// FuturePosition extrapolates the position t seconds ahead at the current
// velocity.
func (a *Agent) FuturePosition(t float64) r2.Vec {
	return r2.Add(a.Position, r2.Scale(t, a.Velocity))
}

// UpdatePosition advances the position by velocity*dt. When the step reaches
// the current waypoint the cursor moves on and the velocity is re-aimed at
// the next one. Past the destination the agent keeps its heading.
func (a *Agent) UpdatePosition(dt float64) {
	step := r2.Scale(dt, a.Velocity)
	a.Position = r2.Add(a.Position, step)

	next, ok := a.NextWaypoint()
	if !ok || a.State == Stopped {
		return
	}
	if r2.Norm(r2.Sub(next, a.Position)) > r2.Norm(step) {
		return
	}
	a.Waypoint++
	if following, ok := a.NextWaypoint(); ok {
		a.CalculateVelocity(following)
		a.InitialVelocity = a.Velocity
	}
}

// UpdateVelocity perturbs the unperturbed velocity with smooth noise sampled
// at the agent position and elapsed simulation time, then clamps the speed
// to the type's [min, max] band and its change to the acceleration band.
func (a *Agent) UpdateVelocity(dt, elapsed float64) {
	if a.State == Stopped {
		return
	}
	a.State = Moving
	v := a.InitialVelocity
	if a.noise != nil && a.attrs.Velocity.NoiseFactor != 0 {
		scale := a.attrs.Velocity.NoiseScale
		px, py := a.Position.X*scale, a.Position.Y*scale
		nx := a.noise.Noise(px, py, elapsed)*2 - 1
		ny := a.noise.Noise(px, py, elapsed+1000)*2 - 1
		// noise is expressed in km/h, velocities in m/s
		v.X += nx / 3.6 * a.attrs.Velocity.NoiseFactor
		v.Y += ny / 3.6 * a.attrs.Velocity.NoiseFactor
	}
	v = clampSpeed(v, a.attrs.Velocity.Min, a.attrs.Velocity.Max)
	v = a.limitAcceleration(v, dt)
	a.Velocity = clampSpeed(v, a.attrs.Velocity.Min, a.attrs.Velocity.Max)
	a.UpdateBufferZone()
}

// limitAcceleration bounds the speed change from the current velocity to
// target by the type's acceleration band over dt, keeping target's
// direction, and records the resulting acceleration. A zero band, a zero
// speed on either side or a non-positive dt leave target unchanged.
func (a *Agent) limitAcceleration(target r2.Vec, dt float64) r2.Vec {
	acc := a.attrs.Acceleration
	from, to := a.Speed(), r2.Norm(target)
	if dt <= 0 || from == 0 || to == 0 || (acc.Min == 0 && acc.Max == 0) {
		a.Acceleration = 0
		return target
	}
	change := math.Max(acc.Min*dt, math.Min(acc.Max*dt, to-from))
	a.Acceleration = change / dt
	return r2.Scale((from+change)/to, target)
}

func clampSpeed(v r2.Vec, lo, hi float64) r2.Vec {
	s := r2.Norm(v)
	switch {
	case s == 0:
		return v
	case hi > 0 && s > hi:
		return r2.Scale(hi/s, v)
	case s < lo:
		return r2.Scale(lo/s, v)
	}
	return v
}

// ResetCollisionState clears the per-tick collision flag.
func (a *Agent) ResetCollisionState() {
	a.CollisionPredicted = false
}

// Stop caches the current velocity and halts the agent. Stopping a stopped
// agent does nothing.
func (a *Agent) Stop() {
	if a.State == Stopped {
		return
	}
	a.cached = a.Velocity
	a.Velocity = r2.Vec{}
	a.State = Stopped
	a.stopped = 0
	a.UpdateBufferZone()
}

// StoppedTicks returns how many resume attempts the agent has been stopped
// for.
func (a *Agent) StoppedTicks() int { return a.stopped }

// CanResume reports whether no other agent's buffer zone overlaps this one.
// It checks every agent in others, so calling it for each stopped agent is
// quadratic in the agent count.
func (a *Agent) CanResume(others []*Agent) bool {
	for _, o := range others {
		if o == a {
			continue
		}
		if r2.Norm(r2.Sub(a.Position, o.Position)) < a.BufferZoneRadius+o.BufferZoneRadius {
			return false
		}
	}
	return true
}

// Resume restores the cached velocity if CanResume holds and reports
// whether the agent left Stopped.
func (a *Agent) Resume(others []*Agent) bool {
	if a.State != Stopped {
		return false
	}
	if !a.CanResume(others) {
		a.stopped++
		return false
	}
	a.Velocity = a.cached
	a.State = Resuming
	a.UpdateBufferZone()
	return true
}

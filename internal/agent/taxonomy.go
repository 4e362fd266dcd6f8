package agent

import (
	"errors"
	"fmt"
	"math"
)

// probabilityTolerance bounds how far the taxonomy probabilities may sum
// away from 1.
const probabilityTolerance = 1e-7

// VelocityAttributes describes the speed distribution of a road-user type.
type VelocityAttributes struct {
	Min   float64
	Max   float64
	Mu    float64
	Sigma float64
	// NoiseScale scales positions before sampling the noise field.
	NoiseScale float64
	// NoiseFactor scales the noise added to the velocity.
	NoiseFactor float64
}

// AccelerationAttributes bounds acceleration for a road-user type.
type AccelerationAttributes struct {
	Min float64
	Max float64
}

// TypeAttributes are the per-type tunables shared by every agent of a type.
type TypeAttributes struct {
	Type        string
	Probability float64
	// Priority decides who yields on a predicted collision: the higher
	// number stops.
	Priority      int
	BodyRadius    float64
	Color         string
	Velocity      VelocityAttributes
	Acceleration  AccelerationAttributes
	LookAheadTime float64
}

// Validate checks a single type's parameters.
func (a TypeAttributes) Validate() error {
	var errs []error
	if a.Type == "" {
		errs = append(errs, errors.New("type name is required"))
	}
	if a.Probability < 0 || a.Probability > 1 {
		errs = append(errs, fmt.Errorf("%s: probability %v outside [0, 1]", a.Type, a.Probability))
	}
	if a.BodyRadius <= 0 {
		errs = append(errs, fmt.Errorf("%s: body radius must be positive", a.Type))
	}
	if a.Velocity.Max <= 0 || a.Velocity.Min < 0 || a.Velocity.Min > a.Velocity.Max {
		errs = append(errs, fmt.Errorf("%s: velocity bounds [%v, %v] are invalid", a.Type, a.Velocity.Min, a.Velocity.Max))
	}
	if a.Velocity.Sigma < 0 {
		errs = append(errs, fmt.Errorf("%s: velocity sigma must not be negative", a.Type))
	}
	if a.Acceleration.Min > a.Acceleration.Max {
		errs = append(errs, fmt.Errorf("%s: acceleration min exceeds max", a.Type))
	}
	if a.LookAheadTime < 0 {
		errs = append(errs, fmt.Errorf("%s: look-ahead time must not be negative", a.Type))
	}
	return errors.Join(errs...)
}

// Taxonomy is the ordered set of road-user types in a run.
type Taxonomy []TypeAttributes

// Validate checks every type and that the spawn probabilities sum to 1.
func (t Taxonomy) Validate() error {
	if len(t) == 0 {
		return errors.New("road user taxonomy is empty")
	}
	var errs []error
	seen := make(map[string]bool, len(t))
	sum := 0.0
	for _, a := range t {
		if err := a.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[a.Type] {
			errs = append(errs, fmt.Errorf("duplicate road user type %q", a.Type))
		}
		seen[a.Type] = true
		sum += a.Probability
	}
	if math.Abs(sum-1) > probabilityTolerance {
		errs = append(errs, fmt.Errorf("sum of road user probabilities is %v, expected 1", sum))
	}
	return errors.Join(errs...)
}

// Lookup returns the attributes of the named type.
func (t Taxonomy) Lookup(name string) (TypeAttributes, bool) {
	for _, a := range t {
		if a.Type == name {
			return a, true
		}
	}
	return TypeAttributes{}, false
}

// Counts splits n agents across the types by probability, truncating each
// share.
func (t Taxonomy) Counts(n int) []int {
	out := make([]int, len(t))
	for i, a := range t {
		out[i] = int(float64(n) * a.Probability)
	}
	return out
}

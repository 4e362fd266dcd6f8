package agent

import (
	"math"

	"github.com/aquilax/go-perlin"
)

const (
	// noiseAlpha is the amplitude divisor between octaves.
	noiseAlpha = 2
	// noiseBeta is the frequency multiplier between octaves.
	noiseBeta = 2
	// noiseOctaves is the number of summed noise layers.
	noiseOctaves = 2
)

// PerlinNoise is a seeded three-dimensional gradient noise source. Nearby
// inputs give nearby outputs, which keeps velocity perturbations smooth from
// one tick to the next. It is read-only after construction and safe to
// share between agents.
type PerlinNoise struct {
	p *perlin.Perlin
}

// NewPerlinNoise builds a noise source whose gradient tables are drawn
// from seed.
func NewPerlinNoise(seed uint64) *PerlinNoise {
	return &PerlinNoise{p: perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOctaves, int64(seed))}
}

// Noise returns a value in [0, 1].
func (n *PerlinNoise) Noise(x, y, z float64) float64 {
	v := (n.p.Noise3D(x, y, z) + 1) / 2
	return math.Max(0, math.Min(1, v))
}

package problem

import (
	"math"
	"math/rand/v2"

	"github.com/copyleftdev/gaeval/internal/experiment"
)

// Sample draws a uniformly random candidate for the encoding in cfg. It lets
// tools exercise a problem without running the evolutionary loop.
func Sample(cfg experiment.Config, rng *rand.Rand) Chromosome {
	dim := cfg.Pop.Dim
	c := make(Chromosome, dim)

	switch cfg.Pop.Type {
	case experiment.Binary:
		for i := range c {
			c[i] = float64(rng.IntN(2))
		}
	case experiment.Real:
		lo, hi := bounds(cfg)
		for i := range c {
			c[i] = lo + rng.Float64()*(hi-lo)
		}
	case experiment.Integer:
		lo, hi := bounds(cfg)
		l, h := math.Ceil(lo), math.Floor(hi)
		span := int(h-l) + 1
		for i := range c {
			if span <= 0 {
				c[i] = l
				continue
			}
			c[i] = l + float64(rng.IntN(span))
		}
	case experiment.Permuted:
		for i, v := range rng.Perm(dim) {
			c[i] = float64(v)
		}
	}
	return c
}

func bounds(cfg experiment.Config) (float64, float64) {
	if cfg.Pop.Bounds == nil {
		return 0, 1
	}
	return cfg.Pop.Bounds.Lower, cfg.Pop.Bounds.Upper
}

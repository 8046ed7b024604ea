package kinematics

import (
	"math/rand"

	"armctl/pkg/types"
)

// EstimateReachability samples random Cartesian targets inside the bounding
// box of the nominal workspace and returns the fraction the analytic inverse
// can reach. Diagnostic only; the controller may call it opportunistically
// during idle cycles since the engine is stateless.
func (e *Engine) EstimateReachability(samples int, rng *rand.Rand) float64 {
	if samples <= 0 {
		return 0
	}

	reach := e.Reach()
	base := e.links[0].D

	reached := 0
	for i := 0; i < samples; i++ {
		target := types.CartesianPose{
			X: (rng.Float64()*2 - 1) * reach,
			Y: (rng.Float64()*2 - 1) * reach,
			Z: base + (rng.Float64()*2-1)*reach,
		}
		if _, err := e.Inverse(target); err == nil {
			reached++
		}
	}

	return float64(reached) / float64(samples)
}

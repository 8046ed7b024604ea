package kinematics

import (
	"fmt"
	"math"

	"armctl/pkg/types"
)

// NumericalInverse solves inverse kinematics iteratively from the given seed
// configuration. Each iteration builds a finite-difference position Jacobian
// (epsilon per joint), applies the scaled transpose as a pseudo-inverse
// approximation, steps the joint angles by stepSize × Jᵗ·error and clamps
// them to their limits. It terminates when the position error drops below
// tolerance, or fails with ErrConvergenceFailure after the iteration budget.
func (e *Engine) NumericalInverse(target types.CartesianPose, seed types.JointConfiguration) (types.JointConfiguration, error) {
	if len(seed.Angles) != len(e.links) {
		return types.JointConfiguration{}, fmt.Errorf("seed has %d joints, link table has %d",
			len(seed.Angles), len(e.links))
	}

	current := types.NewJointConfiguration(seed.Angles, e.limits)
	current.ClampToLimits()
	n := len(current.Angles)

	for iter := 0; iter < e.opts.MaxIterations; iter++ {
		fk, err := e.Forward(current)
		if err != nil {
			return types.JointConfiguration{}, err
		}

		ex := target.X - fk.X
		ey := target.Y - fk.Y
		ez := target.Z - fk.Z
		if math.Sqrt(ex*ex+ey*ey+ez*ez) < e.opts.PositionTolerance {
			return current, nil
		}

		jac, err := e.positionJacobian(current, fk)
		if err != nil {
			return types.JointConfiguration{}, err
		}

		// dq = stepSize × Jᵗ·e, clamped to joint limits.
		for j := 0; j < n; j++ {
			dq := e.opts.StepSize * (jac[0][j]*ex + jac[1][j]*ey + jac[2][j]*ez)
			current.Angles[j] = e.limits[j].Clamp(current.Angles[j] + dq)
		}
	}

	return types.JointConfiguration{}, fmt.Errorf(
		"no solution within %d iterations for target (%.3f, %.3f, %.3f): %w",
		e.opts.MaxIterations, target.X, target.Y, target.Z, types.ErrConvergenceFailure)
}

// positionJacobian approximates the 3×n position Jacobian by forward
// differences of epsilon radians per joint.
func (e *Engine) positionJacobian(jc types.JointConfiguration, at types.CartesianPose) ([3][]float64, error) {
	n := len(jc.Angles)
	jac := [3][]float64{make([]float64, n), make([]float64, n), make([]float64, n)}

	perturbed := jc.Clone()
	eps := e.opts.JacobianEpsilon
	for j := 0; j < n; j++ {
		perturbed.Angles[j] = jc.Angles[j] + eps
		fk, err := e.Forward(perturbed)
		if err != nil {
			return jac, err
		}
		jac[0][j] = (fk.X - at.X) / eps
		jac[1][j] = (fk.Y - at.Y) / eps
		jac[2][j] = (fk.Z - at.Z) / eps
		perturbed.Angles[j] = jc.Angles[j]
	}

	return jac, nil
}

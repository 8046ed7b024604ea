package kinematics

import (
	"errors"
	"fmt"
	"math"

	"armctl/pkg/types"
)

// Inverse solves the closed-form inverse kinematics for the target pose:
// base rotation by atan2, shoulder and elbow by the law of cosines with the
// elbow-up branch when two solutions exist, and the wrist joints assigned
// directly from the target orientation.
//
// The wrist assignment is a documented approximation, not a spherical-wrist
// decoupling: only the position residual is validated against the forward
// solution. Callers needing tighter orientation tracking should fall back to
// NumericalInverse.
//
// Returns an error wrapping ErrUnreachable when the target lies outside the
// workspace, the solution violates joint limits, or the forward-kinematics
// residual exceeds tolerance.
func (e *Engine) Inverse(target types.CartesianPose) (types.JointConfiguration, error) {
	shoulderHeight := e.links[0].D
	upper := e.links[1].A
	fore := e.links[2].A

	// Radial distance in the base plane and height above the shoulder.
	r := math.Hypot(target.X, target.Y)
	zp := target.Z - shoulderHeight
	dist := math.Hypot(r, zp)

	if dist > e.Reach() {
		return types.JointConfiguration{}, fmt.Errorf(
			"target distance %.4f m exceeds reach %.4f m: %w",
			dist, e.Reach(), types.ErrUnreachable)
	}
	if dist < math.Abs(upper-fore) {
		return types.JointConfiguration{}, fmt.Errorf(
			"target distance %.4f m inside inner workspace boundary %.4f m: %w",
			dist, math.Abs(upper-fore), types.ErrUnreachable)
	}

	q1 := math.Atan2(target.Y, target.X)

	// Law of cosines for the elbow. Numerical noise can push the cosine a
	// hair outside [-1, 1] at the workspace boundary.
	d := (r*r + zp*zp - upper*upper - fore*fore) / (2 * upper * fore)
	d = math.Max(-1, math.Min(1, d))

	// Elbow-up branch: of the two mirror solutions, take the negative elbow
	// angle so the elbow sits above the shoulder-to-target line.
	s3 := -math.Sqrt(1 - d*d)
	q3 := math.Atan2(s3, d)
	q2 := math.Atan2(zp, r) - math.Atan2(fore*s3, upper+fore*d)

	angles := make([]float64, len(e.links))
	angles[0] = q1
	angles[1] = q2
	angles[2] = q3

	// Wrist joints track the target orientation directly (approximate).
	if len(angles) > 3 {
		angles[3] = target.Roll
	}
	if len(angles) > 4 {
		angles[4] = target.Pitch
	}
	if len(angles) > 5 {
		angles[5] = target.Yaw
	}

	solution := types.NewJointConfiguration(angles, e.limits)
	if err := solution.CheckLimits(); err != nil {
		return types.JointConfiguration{}, errors.Join(types.ErrUnreachable, err)
	}

	// Never hand back a solution the forward model disagrees with.
	fk, err := e.Forward(solution)
	if err != nil {
		return types.JointConfiguration{}, err
	}
	if residual := fk.PositionDistance(target); residual > e.opts.PositionTolerance {
		return types.JointConfiguration{}, fmt.Errorf(
			"forward residual %.5f m exceeds tolerance %.5f m: %w",
			residual, e.opts.PositionTolerance, types.ErrUnreachable)
	}

	return solution, nil
}

package kinematics

import (
	"fmt"
	"math"

	"armctl/pkg/types"
)

// Forward composes the per-link homogeneous transforms for the given joint
// configuration and extracts the end-effector position and ZYX Euler angles.
// It is pure: identical input always yields the identical pose.
func (e *Engine) Forward(jc types.JointConfiguration) (types.CartesianPose, error) {
	if len(jc.Angles) != len(e.links) {
		return types.CartesianPose{}, fmt.Errorf("configuration has %d joints, link table has %d",
			len(jc.Angles), len(e.links))
	}

	t := identity()
	for i, link := range e.links {
		t = t.mul(linkTransform(link, jc.Angles[i]+link.Offset))
	}

	roll, pitch, yaw := eulerZYX(t)
	return types.CartesianPose{
		X:     t[0][3],
		Y:     t[1][3],
		Z:     t[2][3],
		Roll:  roll,
		Pitch: pitch,
		Yaw:   yaw,
	}, nil
}

// eulerZYX extracts roll/pitch/yaw from the rotation block of t assuming
// R = Rz(yaw)·Ry(pitch)·Rx(roll).
//
// Gimbal lock policy: when |r31| >= 1 the yaw and roll axes align, so yaw is
// fixed at 0 and roll is recovered from the r12/r13 column. This is a
// deliberate edge-case convention, not a general singularity treatment.
func eulerZYX(t mat4) (roll, pitch, yaw float64) {
	r31 := t[2][0]

	if r31 <= -1 {
		pitch = math.Pi / 2
		yaw = 0
		roll = math.Atan2(t[0][1], t[0][2])
		return
	}
	if r31 >= 1 {
		pitch = -math.Pi / 2
		yaw = 0
		roll = math.Atan2(-t[0][1], -t[0][2])
		return
	}

	pitch = -math.Asin(r31)
	roll = math.Atan2(t[2][1], t[2][2])
	yaw = math.Atan2(t[1][0], t[0][0])
	return
}

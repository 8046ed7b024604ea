// Package kinematics implements the geometric core of the arm controller:
// forward kinematics over a Denavit-Hartenberg link table, an analytic
// closed-form inverse, an iterative Jacobian-transpose inverse, and a
// Monte-Carlo workspace reachability estimate. All functions are pure over
// the immutable link table, so an Engine may be shared across goroutines.
package kinematics

import (
	"fmt"
	"math"

	"armctl/pkg/types"
)

// mat4 is a homogeneous transform in row-major order.
type mat4 [4][4]float64

func identity() mat4 {
	return mat4{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

func (m mat4) mul(other mat4) mat4 {
	var out mat4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += m[i][k] * other[k][j]
			}
			out[i][j] = sum
		}
	}
	return out
}

// linkTransform builds the classic DH transform Rz(theta)·Tz(d)·Tx(a)·Rx(alpha)
// for one link at the given joint angle (offset already applied by the caller).
func linkTransform(link types.DHLink, theta float64) mat4 {
	ct, st := math.Cos(theta), math.Sin(theta)
	ca, sa := math.Cos(link.Alpha), math.Sin(link.Alpha)

	return mat4{
		{ct, -st * ca, st * sa, link.A * ct},
		{st, ct * ca, -ct * sa, link.A * st},
		{0, sa, ca, link.D},
		{0, 0, 0, 1},
	}
}

// Options tunes the solvers. Zero values select the documented defaults.
type Options struct {
	PositionTolerance    float64 // m, default 1e-3
	OrientationTolerance float64 // rad, default 1e-2
	MaxIterations        int     // numerical IK budget, default 100
	StepSize             float64 // Jacobian-transpose gain, default 0.1
	JacobianEpsilon      float64 // finite-difference step, default 1e-3 rad
}

func (o *Options) applyDefaults() {
	if o.PositionTolerance <= 0 {
		o.PositionTolerance = 1e-3
	}
	if o.OrientationTolerance <= 0 {
		o.OrientationTolerance = 1e-2
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = 100
	}
	if o.StepSize <= 0 {
		o.StepSize = 0.1
	}
	if o.JacobianEpsilon <= 0 {
		o.JacobianEpsilon = 1e-3
	}
}

// Engine evaluates kinematics over a fixed link table. It owns no mutable
// state and is safe for concurrent use.
type Engine struct {
	links  []types.DHLink
	limits []types.JointLimit
	opts   Options
}

// New validates the geometry and builds an engine. The analytic inverse
// assumes the base-lift arm family: joint 1 is the base rotation, links 2 and
// 3 carry the arm lengths, and the remaining joints form a zero-length wrist.
func New(links []types.DHLink, limits []types.JointLimit, opts Options) (*Engine, error) {
	if len(links) < 3 {
		return nil, fmt.Errorf("link table needs at least 3 links, got %d", len(links))
	}
	if len(limits) != len(links) {
		return nil, fmt.Errorf("joint limit count %d does not match link count %d", len(limits), len(links))
	}
	for i, l := range limits {
		if l.Min >= l.Max {
			return nil, fmt.Errorf("joint %d limit [%.4f, %.4f] is empty", i, l.Min, l.Max)
		}
	}

	opts.applyDefaults()
	return &Engine{
		links:  append([]types.DHLink(nil), links...),
		limits: append([]types.JointLimit(nil), limits...),
		opts:   opts,
	}, nil
}

// Joints returns the number of joints.
func (e *Engine) Joints() int {
	return len(e.links)
}

// Limits returns the configured joint limits.
func (e *Engine) Limits() []types.JointLimit {
	return e.limits
}

// Reach returns the workspace radius of the analytic solver: the extended
// shoulder-plane distance carried by the two arm links. Wrist offsets do not
// extend it; the solver places the wrist center, not the flange.
func (e *Engine) Reach() float64 {
	return math.Abs(e.links[1].A) + math.Abs(e.links[2].A)
}

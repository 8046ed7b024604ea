// Package trajectory blends two validated joint configurations into a smooth
// sequence of intermediate configurations for the motion controller to step
// through, one per control tick.
package trajectory

import (
	"fmt"
	"time"

	"armctl/pkg/types"
)

// StepError reports the first interpolation step that would violate a joint
// limit. Interpolation aborts at that step rather than forwarding it.
type StepError struct {
	Step  int
	Cause error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("trajectory aborted at step %d: %v", e.Step, e.Cause)
}

func (e *StepError) Unwrap() error {
	return e.Cause
}

// Trajectory is a precomputed sequence of joint configurations over a fixed
// duration. Step 0 is exactly the start configuration and the final step is
// exactly the end configuration; velocity is zero at both endpoints.
type Trajectory struct {
	Steps    []types.JointConfiguration
	Duration time.Duration
}

// ease is the cubic blend s(t) = 3t^2 - 2t^3. Its derivative vanishes at
// t=0 and t=1, guaranteeing zero endpoint velocity.
func ease(t float64) float64 {
	return t * t * (3 - 2*t)
}

// Plan interpolates from start to end over the given duration in steps
// discrete configurations (endpoints included). Every intermediate
// configuration is revalidated against joint limits; the first violation
// aborts planning with a StepError naming the step and joint.
func Plan(start, end types.JointConfiguration, steps int, duration time.Duration) (*Trajectory, error) {
	if len(start.Angles) != len(end.Angles) {
		return nil, fmt.Errorf("start has %d joints, end has %d", len(start.Angles), len(end.Angles))
	}
	if steps < 2 {
		return nil, fmt.Errorf("need at least 2 steps, got %d", steps)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %v", duration)
	}
	if err := start.CheckLimits(); err != nil {
		return nil, fmt.Errorf("start configuration invalid: %w", err)
	}
	if err := end.CheckLimits(); err != nil {
		return nil, fmt.Errorf("end configuration invalid: %w", err)
	}

	n := len(start.Angles)
	out := make([]types.JointConfiguration, 0, steps)

	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps-1)
		s := ease(t)
		// Derivative of the ease curve scaled to real time gives the
		// per-joint velocity at this step.
		dsdt := 6 * t * (1 - t) / duration.Seconds()

		step := types.JointConfiguration{
			Angles:     make([]float64, n),
			Velocities: make([]float64, n),
			Limits:     start.Limits,
		}
		for j := 0; j < n; j++ {
			delta := end.Angles[j] - start.Angles[j]
			step.Angles[j] = start.Angles[j] + delta*s
			step.Velocities[j] = delta * dsdt
		}

		if err := step.CheckLimits(); err != nil {
			return nil, &StepError{Step: i, Cause: err}
		}
		out = append(out, step)
	}

	// Endpoints are forwarded exactly, not through the blend arithmetic.
	copy(out[0].Angles, start.Angles)
	copy(out[steps-1].Angles, end.Angles)

	return &Trajectory{Steps: out, Duration: duration}, nil
}

// At returns the configuration for normalized time u in [0, 1].
func (tr *Trajectory) At(u float64) types.JointConfiguration {
	if u <= 0 {
		return tr.Steps[0]
	}
	if u >= 1 {
		return tr.Steps[len(tr.Steps)-1]
	}
	idx := int(u * float64(len(tr.Steps)-1))
	return tr.Steps[idx]
}

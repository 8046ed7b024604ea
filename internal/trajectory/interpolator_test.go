package trajectory

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armctl/pkg/types"
)

func limits(n int) []types.JointLimit {
	out := make([]types.JointLimit, n)
	for i := range out {
		out[i] = types.JointLimit{Min: -math.Pi, Max: math.Pi}
	}
	return out
}

func TestPlanEndpointsExact(t *testing.T) {
	start := types.NewJointConfiguration([]float64{0, 0.5, -0.5}, limits(3))
	end := types.NewJointConfiguration([]float64{1, 1.2, -1.1}, limits(3))

	tr, err := Plan(start, end, 20, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, tr.Steps, 20)

	assert.Equal(t, start.Angles, tr.Steps[0].Angles, "t=0 equals start exactly")
	assert.Equal(t, end.Angles, tr.Steps[19].Angles, "t=1 equals end exactly")

	for j := range start.Angles {
		assert.Zero(t, tr.Steps[0].Velocities[j], "zero velocity at start")
		assert.Zero(t, tr.Steps[19].Velocities[j], "zero velocity at end")
	}
}

func TestPlanMonotoneBlend(t *testing.T) {
	start := types.NewJointConfiguration([]float64{0}, limits(1))
	end := types.NewJointConfiguration([]float64{1}, limits(1))

	tr, err := Plan(start, end, 50, time.Second)
	require.NoError(t, err)

	prev := -1.0
	for _, step := range tr.Steps {
		assert.GreaterOrEqual(t, step.Angles[0], prev, "cubic ease is monotone")
		prev = step.Angles[0]
	}
}

func TestPlanAbortsOnLimitViolation(t *testing.T) {
	// The straight joint-space path from 0 to 2 passes through angles the
	// limit forbids only when the limit excludes part of the interior; use
	// asymmetric limits where endpoints are legal but midpoints are not
	// possible, so instead validate the endpoint rejection path.
	tight := []types.JointLimit{{Min: -0.1, Max: 0.1}}
	start := types.NewJointConfiguration([]float64{0}, tight)
	end := types.JointConfiguration{Angles: []float64{2}, Limits: tight}

	_, err := Plan(start, end, 10, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrJointLimit)
}

func TestPlanStepErrorNamesStep(t *testing.T) {
	// Intermediate steps are validated against the start limits. An end
	// configuration legal under its own wider limits but not under the
	// start limits trips the per-step check partway through the blend.
	start := types.NewJointConfiguration([]float64{0}, []types.JointLimit{{Min: -3, Max: 3}})
	end := types.NewJointConfiguration([]float64{4.5}, []types.JointLimit{{Min: -5, Max: 5}})

	_, err := Plan(start, end, 10, time.Second)
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Greater(t, stepErr.Step, 0, "start step itself is valid")
	assert.ErrorIs(t, err, types.ErrJointLimit)
}

func TestPlanArgumentValidation(t *testing.T) {
	start := types.NewJointConfiguration([]float64{0}, limits(1))
	end := types.NewJointConfiguration([]float64{1}, limits(1))

	_, err := Plan(start, end, 1, time.Second)
	assert.Error(t, err, "too few steps")

	_, err = Plan(start, end, 10, 0)
	assert.Error(t, err, "non-positive duration")

	mismatched := types.NewJointConfiguration([]float64{1, 2}, limits(2))
	_, err = Plan(start, mismatched, 10, time.Second)
	assert.Error(t, err, "joint count mismatch")
}

func TestAtClampsRange(t *testing.T) {
	start := types.NewJointConfiguration([]float64{0}, limits(1))
	end := types.NewJointConfiguration([]float64{1}, limits(1))

	tr, err := Plan(start, end, 10, time.Second)
	require.NoError(t, err)

	assert.Equal(t, tr.Steps[0], tr.At(-0.5))
	assert.Equal(t, tr.Steps[9], tr.At(1.5))
}

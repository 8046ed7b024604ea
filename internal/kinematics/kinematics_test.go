package kinematics

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armctl/pkg/types"
)

func testLinks() []types.DHLink {
	return []types.DHLink{
		{A: 0, Alpha: math.Pi / 2, D: 0.1655},
		{A: 0.425},
		{A: 0.392},
		{A: 0, Alpha: math.Pi / 2},
		{A: 0, Alpha: -math.Pi / 2},
		{},
	}
}

func testLimits() []types.JointLimit {
	return []types.JointLimit{
		{Min: -math.Pi, Max: math.Pi},
		{Min: -2.2, Max: 2.2},
		{Min: -2.8, Max: 2.8},
		{Min: -math.Pi, Max: math.Pi},
		{Min: -math.Pi, Max: math.Pi},
		{Min: -math.Pi, Max: math.Pi},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(testLinks(), testLimits(), Options{})
	require.NoError(t, err)
	return e
}

func deg(d float64) float64 { return d * math.Pi / 180 }

func TestNewRejectsBadGeometry(t *testing.T) {
	_, err := New(testLinks()[:2], testLimits()[:2], Options{})
	assert.Error(t, err, "fewer than 3 links")

	_, err = New(testLinks(), testLimits()[:3], Options{})
	assert.Error(t, err, "limit count mismatch")

	badLimits := testLimits()
	badLimits[1] = types.JointLimit{Min: 1, Max: -1}
	_, err = New(testLinks(), badLimits, Options{})
	assert.Error(t, err, "empty limit range")
}

func TestForwardDeterministic(t *testing.T) {
	e := newTestEngine(t)

	jc := types.NewJointConfiguration(
		[]float64{deg(45), deg(30), deg(-45), 0, 0, 0}, testLimits())

	first, err := e.Forward(jc)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := e.Forward(jc)
		require.NoError(t, err)
		assert.Equal(t, first, again, "pure function must repeat exactly")
	}

	// Base rotation of 45 degrees puts the arm on the x=y diagonal.
	assert.InDelta(t, first.X, first.Y, 1e-12)
	assert.Greater(t, first.Z, 0.0)
}

func TestForwardJointCountMismatch(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Forward(types.JointConfiguration{Angles: []float64{0, 0}})
	assert.Error(t, err)
}

func TestInverseForwardRoundTrip(t *testing.T) {
	e := newTestEngine(t)

	target := types.CartesianPose{X: 0.4, Y: 0.2, Z: 0.3, Yaw: deg(45)}
	solution, err := e.Inverse(target)
	require.NoError(t, err)

	fk, err := e.Forward(solution)
	require.NoError(t, err)
	assert.Less(t, fk.PositionDistance(target), 1e-3,
		"round-trip position error must stay under 1 mm")
}

func TestInverseRandomizedRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	rng := rand.New(rand.NewSource(7))

	solved := 0
	for i := 0; i < 200; i++ {
		target := types.CartesianPose{
			X: (rng.Float64()*2 - 1) * 0.7,
			Y: (rng.Float64()*2 - 1) * 0.7,
			Z: rng.Float64() * 0.8,
		}
		solution, err := e.Inverse(target)
		if err != nil {
			continue
		}
		solved++

		fk, err := e.Forward(solution)
		require.NoError(t, err)
		assert.Less(t, fk.PositionDistance(target), 1e-3)
	}
	assert.Greater(t, solved, 50, "a healthy share of in-box targets should be reachable")
}

func TestInverseUnreachable(t *testing.T) {
	e := newTestEngine(t)

	// Beyond total reach: must fail, never return a "closest" solution.
	_, err := e.Inverse(types.CartesianPose{X: 5, Y: 0, Z: 0.2})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnreachable)

	// Inside the inner boundary near the shoulder.
	_, err = e.Inverse(types.CartesianPose{X: 0.005, Y: 0, Z: 0.1655})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnreachable)
}

func TestInverseJointLimitViolation(t *testing.T) {
	limits := testLimits()
	limits[2] = types.JointLimit{Min: -0.1, Max: 0.1} // elbow nearly frozen
	e, err := New(testLinks(), limits, Options{})
	require.NoError(t, err)

	// Reachable in distance, but needs a large elbow bend.
	_, err = e.Inverse(types.CartesianPose{X: 0.3, Y: 0, Z: 0.3})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnreachable)
	assert.ErrorIs(t, err, types.ErrJointLimit)
}

func TestEulerGimbalPolicy(t *testing.T) {
	// Rotation with pitch at exactly -90 degrees: r31 = 1.
	var m mat4
	m[0][2] = -1
	m[1][1] = 1
	m[2][0] = 1
	m[3][3] = 1

	roll, pitch, yaw := eulerZYX(m)
	assert.Equal(t, 0.0, yaw, "yaw pinned to zero at gimbal lock")
	assert.InDelta(t, -math.Pi/2, pitch, 1e-12)
	assert.False(t, math.IsNaN(roll))
}

func TestNumericalInverseConverges(t *testing.T) {
	e := newTestEngine(t)

	goal := types.NewJointConfiguration(
		[]float64{0.3, 0.7, -0.9, 0, 0, 0}, testLimits())
	target, err := e.Forward(goal)
	require.NoError(t, err)

	seed := types.NewJointConfiguration(
		[]float64{0.1, 0.5, -0.5, 0, 0, 0}, testLimits())
	solution, err := e.NumericalInverse(target, seed)
	require.NoError(t, err)

	fk, err := e.Forward(solution)
	require.NoError(t, err)
	assert.Less(t, fk.PositionDistance(target), 1e-3)
}

func TestNumericalInverseFailure(t *testing.T) {
	e := newTestEngine(t)

	seed := types.NewJointConfiguration(
		[]float64{0, 0.5, -0.5, 0, 0, 0}, testLimits())

	// A target far outside the workspace can never satisfy tolerance.
	_, err := e.NumericalInverse(types.CartesianPose{X: 3, Y: 3, Z: 3}, seed)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConvergenceFailure)
}

func TestEstimateReachability(t *testing.T) {
	e := newTestEngine(t)
	rng := rand.New(rand.NewSource(42))

	frac := e.EstimateReachability(500, rng)
	assert.Greater(t, frac, 0.0)
	assert.Less(t, frac, 1.0, "bounding-box sampling always includes unreachable corners")
}

func TestReach(t *testing.T) {
	e := newTestEngine(t)
	assert.InDelta(t, 0.425+0.392, e.Reach(), 1e-12)
}

func TestReachMatchesInverseWorkspace(t *testing.T) {
	// A wrist D offset must not inflate Reach beyond what Inverse accepts.
	links := testLinks()
	links[3].D = 0.1
	e, err := New(links, testLimits(), Options{})
	require.NoError(t, err)

	assert.InDelta(t, 0.425+0.392, e.Reach(), 1e-12)

	beyond := types.CartesianPose{X: e.Reach() + 0.01, Z: links[0].D}
	_, err = e.Inverse(beyond)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnreachable)
}

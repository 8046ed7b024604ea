package safety

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armctl/pkg/types"
)

func testEnvelope() types.SafetyEnvelope {
	return types.SafetyEnvelope{
		MaxVelocity:     2.0,
		MaxAcceleration: 50.0,
		MaxReach:        10.0,
		SafetyDistance:  0.5,
	}
}

func cmdAt(linear float64) types.ActuatorCommand {
	return types.ActuatorCommand{
		Wheels:    types.Velocity{LinearX: linear},
		Timestamp: time.Now(),
	}
}

func clearSnap() types.SensorSnapshot {
	return types.SensorSnapshot{Timestamp: time.Now(), Ranges: []float64{5.0, 5.0}}
}

func TestReviewClampsOverspeed(t *testing.T) {
	s := NewSupervisor(testEnvelope(), nil)

	d := s.Review(cmdAt(3.5), types.RobotPose{}, clearSnap(), 0.02)

	assert.False(t, d.EmergencyStop, "over-speed must clamp, not stop")
	assert.InDelta(t, 2.0, d.Command.Wheels.LinearX, 1e-9)
	require.Len(t, d.Violations, 1)
	assert.Equal(t, "max_velocity", d.Violations[0].Check)
	assert.InDelta(t, 3.5, d.Violations[0].Value, 1e-9)
	assert.True(t, errors.Is(d.Violations[0], types.ErrSafetyViolation))
	assert.False(t, s.Latched())
}

func TestReviewClampPreservesDirection(t *testing.T) {
	s := NewSupervisor(testEnvelope(), nil)

	d := s.Review(cmdAt(-3.5), types.RobotPose{}, clearSnap(), 0.02)

	assert.InDelta(t, -2.0, d.Command.Wheels.LinearX, 1e-9)
}

func TestReviewLimitsAcceleration(t *testing.T) {
	s := NewSupervisor(testEnvelope(), nil)

	// First tick establishes the speed baseline at rest.
	d := s.Review(cmdAt(0), types.RobotPose{}, clearSnap(), 0.02)
	require.Empty(t, d.Violations)

	// 0 -> 1.8 m/s in 20 ms is 90 m/s^2, past the 50 m/s^2 bound.
	d = s.Review(cmdAt(1.8), types.RobotPose{}, clearSnap(), 0.02)

	assert.False(t, d.EmergencyStop)
	require.Len(t, d.Violations, 1)
	assert.Equal(t, "max_acceleration", d.Violations[0].Check)
	assert.InDelta(t, 50.0*0.02, d.Command.Wheels.LinearX, 1e-9)
}

func TestReviewHardwareEStopLatches(t *testing.T) {
	pressed := true
	s := NewSupervisor(testEnvelope(), func() bool { return pressed })

	d := s.Review(cmdAt(1.0), types.RobotPose{}, clearSnap(), 0.02)

	assert.True(t, d.EmergencyStop)
	assert.Zero(t, d.Command.Wheels.LinearX)
	require.Len(t, d.Violations, 1)
	assert.Equal(t, "emergency_stop", d.Violations[0].Check)
	assert.True(t, s.Latched())

	// Latched reviews stay stopped even after the line releases; repeated
	// reviews do not stack further violations.
	pressed = false
	before := len(s.Violations())
	for i := 0; i < 3; i++ {
		d = s.Review(cmdAt(1.0), types.RobotPose{}, clearSnap(), 0.02)
		assert.True(t, d.EmergencyStop)
		assert.Zero(t, d.Command.Wheels.LinearX)
	}
	assert.Equal(t, before, len(s.Violations()))
}

func TestResetRequiresReleasedEStop(t *testing.T) {
	pressed := true
	s := NewSupervisor(testEnvelope(), func() bool { return pressed })

	s.Review(cmdAt(0.5), types.RobotPose{}, clearSnap(), 0.02)
	require.True(t, s.Latched())

	err := s.Reset()
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrSafetyViolation))
	assert.True(t, s.Latched())

	pressed = false
	require.NoError(t, s.Reset())
	assert.False(t, s.Latched())

	d := s.Review(cmdAt(0.5), types.RobotPose{}, clearSnap(), 0.02)
	assert.False(t, d.EmergencyStop)
	assert.InDelta(t, 0.5, d.Command.Wheels.LinearX, 1e-9)
}

func TestReviewReachViolationStops(t *testing.T) {
	s := NewSupervisor(testEnvelope(), nil)

	pose := types.RobotPose{Position: types.Point{X: 11.0}}
	d := s.Review(cmdAt(1.0), pose, clearSnap(), 0.02)

	assert.True(t, d.EmergencyStop)
	assert.Zero(t, d.Command.Wheels.LinearX)
	require.Len(t, d.Violations, 1)
	assert.Equal(t, "max_reach", d.Violations[0].Check)
	assert.True(t, s.Latched())
}

func TestReviewObstacleInsideSafetyDistance(t *testing.T) {
	s := NewSupervisor(testEnvelope(), nil)

	snap := clearSnap()
	snap.Ranges = []float64{5.0, 0.3}
	d := s.Review(cmdAt(1.0), types.RobotPose{}, snap, 0.02)

	assert.True(t, d.EmergencyStop)
	require.Len(t, d.Violations, 1)
	assert.Equal(t, "safety_distance", d.Violations[0].Check)
}

func TestReviewZeroesJointVelocitiesOnStop(t *testing.T) {
	s := NewSupervisor(testEnvelope(), func() bool { return true })

	cmd := cmdAt(1.0)
	cmd.Joints = types.JointCommand{
		Angles:     []float64{0.1, 0.2, 0.3},
		Velocities: []float64{1.0, 1.0, 1.0},
	}
	d := s.Review(cmd, types.RobotPose{}, clearSnap(), 0.02)

	require.True(t, d.EmergencyStop)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, d.Command.Joints.Angles, "held, not dropped")
	assert.Equal(t, []float64{0, 0, 0}, d.Command.Joints.Velocities)
}

func TestViolationHistoryBounded(t *testing.T) {
	s := NewSupervisor(testEnvelope(), nil)

	for i := 0; i < maxViolationHistory+20; i++ {
		s.Review(cmdAt(3.0), types.RobotPose{}, clearSnap(), 0) // dt 0 skips accel check
	}
	assert.Len(t, s.Violations(), maxViolationHistory)
}

package control

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armctl/internal/actuator"
	"armctl/internal/kinematics"
	"armctl/internal/mission"
	"armctl/internal/safety"
	"armctl/pkg/types"
)

// stubSource feeds a fixed snapshot; ok=false simulates a dead sensor bus.
type stubSource struct {
	snap types.SensorSnapshot
	ok   bool
}

func (s *stubSource) Latest() (types.SensorSnapshot, bool) {
	return s.snap, s.ok
}

func levelSnapshot(joints int) types.SensorSnapshot {
	return types.SensorSnapshot{
		Timestamp:   time.Now(),
		Accel:       [3]float64{0, 0, 9.81},
		JointAngles: make([]float64, joints),
		Ranges:      []float64{5.0, 5.0},
	}
}

func testArm(t *testing.T) *kinematics.Engine {
	t.Helper()
	links := []types.DHLink{
		{A: 0, Alpha: math.Pi / 2, D: 0.1655},
		{A: 0.425},
		{A: 0.392},
		{A: 0, Alpha: math.Pi / 2},
		{A: 0, Alpha: -math.Pi / 2},
		{},
	}
	limits := []types.JointLimit{
		{Min: -math.Pi, Max: math.Pi},
		{Min: -2.2, Max: 2.2},
		{Min: -2.8, Max: 2.8},
		{Min: -math.Pi, Max: math.Pi},
		{Min: -math.Pi, Max: math.Pi},
		{Min: -math.Pi, Max: math.Pi},
	}
	e, err := kinematics.New(links, limits, kinematics.Options{})
	require.NoError(t, err)
	return e
}

type harness struct {
	controller *Controller
	supervisor *safety.Supervisor
	missions   *mission.Manager
	driver     *actuator.Mock
	source     *stubSource
	estop      *bool
	dt         float64
}

func newHarness(t *testing.T, cfg Config) *harness {
	return newHarnessWithEnvelope(t, cfg, types.SafetyEnvelope{
		MaxVelocity:     2.0,
		MaxAcceleration: 1000.0,
		MaxReach:        100.0,
		SafetyDistance:  0.2,
	})
}

func newHarnessWithEnvelope(t *testing.T, cfg Config, envelope types.SafetyEnvelope) *harness {
	t.Helper()

	engine := testArm(t)
	estop := false
	sup := safety.NewSupervisor(envelope, func() bool { return estop })
	missions := mission.NewManager()
	driver := actuator.NewMock()
	source := &stubSource{snap: levelSnapshot(engine.Joints()), ok: true}

	c := NewController(cfg, engine, sup, missions, driver, source)
	return &harness{
		controller: c,
		supervisor: sup,
		missions:   missions,
		driver:     driver,
		source:     source,
		estop:      &estop,
		dt:         0.02,
	}
}

// tick refreshes the snapshot timestamp and advances one cycle.
func (h *harness) tick(t *testing.T) error {
	t.Helper()
	h.source.snap.Timestamp = time.Now()
	return h.controller.Tick(time.Now(), h.dt)
}

func TestTickInitializesToIdle(t *testing.T) {
	h := newHarness(t, Config{})

	assert.Equal(t, types.StateInitializing, h.controller.State())
	require.NoError(t, h.tick(t))
	assert.Equal(t, types.StateIdle, h.controller.State())
	assert.Equal(t, 1, h.driver.Applied())
}

func TestNavigationMissionDrivesTowardTarget(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.tick(t))

	_, err := h.missions.Assign(types.MissionRequest{
		Target:   types.CartesianPose{X: 1.0, Y: 0},
		Type:     "navigation",
		Priority: types.PriorityMedium,
	})
	require.NoError(t, err)

	require.NoError(t, h.tick(t))
	assert.Equal(t, types.StateNavigation, h.controller.State())

	cmd := h.driver.Last()
	assert.Greater(t, cmd.Wheels.LinearX, 0.0, "must drive toward +x target")
	assert.LessOrEqual(t, cmd.Wheels.Speed(), 2.0, "reviewed command respects envelope")
}

func TestNavigationArrivalCompletesMission(t *testing.T) {
	h := newHarness(t, Config{GoalTolerance: 0.05})
	require.NoError(t, h.tick(t))

	assigned, err := h.missions.Assign(types.MissionRequest{
		Target:   types.CartesianPose{X: 0.01, Y: 0},
		Type:     "navigation",
		Priority: types.PriorityMedium,
	})
	require.NoError(t, err)

	require.NoError(t, h.tick(t))
	assert.Equal(t, types.StateIdle, h.controller.State())
	assert.Nil(t, h.missions.Active())

	history := h.missions.History()
	require.Len(t, history, 1)
	assert.Equal(t, assigned.ID, history[0].ID)
	assert.Equal(t, types.MissionCompleted, history[0].Status)
	assert.Equal(t, 1.0, history[0].CompletionRatio)
}

func TestManipulationMissionRunsTrajectory(t *testing.T) {
	h := newHarness(t, Config{
		ArmMoveDuration: 100 * time.Millisecond,
		TrajectorySteps: 10,
	})
	require.NoError(t, h.tick(t))

	engine := testArm(t)
	goalJoints := types.NewJointConfiguration(
		[]float64{0.4, 1.0, -1.5, 0, 0, 0}, engine.Limits())
	target, err := engine.Forward(goalJoints)
	require.NoError(t, err)

	_, err = h.missions.Assign(types.MissionRequest{
		Target:   target,
		Type:     "manipulation",
		Priority: types.PriorityMedium,
	})
	require.NoError(t, err)

	var completed bool
	for i := 0; i < 30; i++ {
		require.NoError(t, h.tick(t))
		if h.controller.State() == types.StateIdle && h.missions.Active() == nil && len(h.missions.History()) == 1 {
			completed = true
			break
		}
	}
	require.True(t, completed, "trajectory must finish within the move duration")
	assert.Equal(t, types.MissionCompleted, h.missions.History()[0].Status)

	// The completing tick dispatched the trajectory endpoint.
	got := h.driver.Last().Joints.Angles
	require.Len(t, got, 6)
	for i, want := range goalJoints.Angles {
		assert.InDelta(t, want, got[i], 1e-6, "joint %d", i)
	}
}

func TestInteractionMissionCompletesAfterDwell(t *testing.T) {
	h := newHarness(t, Config{InteractionDwell: 60 * time.Millisecond})
	require.NoError(t, h.tick(t))

	_, err := h.missions.Assign(types.MissionRequest{
		Type:     "interaction",
		Priority: types.PriorityMedium,
	})
	require.NoError(t, err)

	require.NoError(t, h.tick(t))
	assert.Equal(t, types.StateInteraction, h.controller.State())

	for i := 0; i < 10; i++ {
		require.NoError(t, h.tick(t))
	}
	assert.Equal(t, types.StateIdle, h.controller.State())
	require.Len(t, h.missions.History(), 1)
	assert.Equal(t, types.MissionCompleted, h.missions.History()[0].Status)
}

func TestEmergencyStopWithinOneTick(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.tick(t))

	_, err := h.missions.Assign(types.MissionRequest{
		Target:   types.CartesianPose{X: 1.0},
		Type:     "navigation",
		Priority: types.PriorityMedium,
	})
	require.NoError(t, err)
	require.NoError(t, h.tick(t))
	require.Equal(t, types.StateNavigation, h.controller.State())

	*h.estop = true
	stopsBefore := h.driver.Stops()
	require.NoError(t, h.tick(t))

	assert.Equal(t, types.StateEmergencyStop, h.controller.State())
	assert.Equal(t, stopsBefore+1, h.driver.Stops(), "outputs zeroed in the same tick")
	assert.Zero(t, h.controller.Pose().Velocity.LinearX)

	require.Len(t, h.missions.History(), 1)
	assert.Equal(t, types.MissionFailed, h.missions.History()[0].Status)
	assert.True(t, h.controller.Status().EmergencyStop)
}

func TestEmergencyStopReentry(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.tick(t))

	*h.estop = true
	require.NoError(t, h.tick(t))
	require.Equal(t, types.StateEmergencyStop, h.controller.State())

	// Hardware line still asserted: operator reset must fail.
	err := h.controller.ResetEmergencyStop()
	require.Error(t, err)
	assert.Equal(t, types.StateEmergencyStop, h.controller.State())

	// Release alone is not enough either; the state holds until reset.
	*h.estop = false
	require.NoError(t, h.tick(t))
	assert.Equal(t, types.StateEmergencyStop, h.controller.State())

	require.NoError(t, h.controller.ResetEmergencyStop())
	assert.Equal(t, types.StateIdle, h.controller.State())
}

func TestEmergencyStopIssuesSingleStopCommand(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.tick(t))

	*h.estop = true
	require.NoError(t, h.tick(t))
	require.Equal(t, types.StateEmergencyStop, h.controller.State())
	require.Equal(t, 1, h.driver.Stops())
	applied := h.driver.Applied()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.tick(t))
	}
	assert.Equal(t, 1, h.driver.Stops(), "latched ticks must not repeat the stop command")
	assert.Equal(t, applied, h.driver.Applied(), "no motion commands while stopped")
}

func TestResetAfterReachBreachReinitializesPose(t *testing.T) {
	h := newHarnessWithEnvelope(t, Config{}, types.SafetyEnvelope{
		MaxVelocity:     2.0,
		MaxAcceleration: 1000.0,
		MaxReach:        0.5,
		SafetyDistance:  0.2,
	})
	require.NoError(t, h.tick(t))

	_, err := h.missions.Assign(types.MissionRequest{
		Target:   types.CartesianPose{X: 5.0},
		Type:     "navigation",
		Priority: types.PriorityMedium,
	})
	require.NoError(t, err)

	for i := 0; i < 50 && h.controller.State() != types.StateEmergencyStop; i++ {
		require.NoError(t, h.tick(t))
	}
	require.Equal(t, types.StateEmergencyStop, h.controller.State(),
		"dead-reckoned drift past max_reach must latch")

	require.NoError(t, h.controller.ResetEmergencyStop())
	assert.Zero(t, h.controller.Pose().Position.X, "reset restarts the pose estimate")

	require.NoError(t, h.tick(t))
	assert.Equal(t, types.StateIdle, h.controller.State(),
		"a cleared stop must not re-latch on the pre-breach pose")
}

func TestDeadlineEnforcedDuringSensorOutage(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.tick(t))

	_, err := h.missions.Assign(types.MissionRequest{
		Target:   types.CartesianPose{X: 5.0},
		Type:     "navigation",
		Priority: types.PriorityMedium,
		Deadline: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, h.tick(t))
	require.Equal(t, types.StateNavigation, h.controller.State())

	// Sensor bus dies; the deadline still elapses on the wall clock.
	h.source.ok = false
	err = h.controller.Tick(time.Now().Add(time.Second), h.dt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrSensorTimeout))

	assert.Equal(t, types.StateIdle, h.controller.State())
	assert.Nil(t, h.missions.Active())
	require.Len(t, h.missions.History(), 1)
	assert.Equal(t, types.MissionFailed, h.missions.History()[0].Status)
	assert.Equal(t, types.ErrMissionTimeout.Error(), h.missions.History()[0].Error)
}

func TestStaleSensorHoldsSafeCommand(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.tick(t))

	_, err := h.missions.Assign(types.MissionRequest{
		Target:   types.CartesianPose{X: 1.0},
		Type:     "navigation",
		Priority: types.PriorityMedium,
	})
	require.NoError(t, err)
	require.NoError(t, h.tick(t))
	require.Equal(t, types.StateNavigation, h.controller.State())

	h.source.ok = false
	err = h.controller.Tick(time.Now(), h.dt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrSensorTimeout))

	// Fault degrades to a zero-velocity command, not a crash or stale reuse.
	assert.Zero(t, h.driver.Last().Wheels.LinearX)
	assert.NotEmpty(t, h.controller.LastError())
}

func TestTickReportsDriverFault(t *testing.T) {
	h := newHarness(t, Config{})
	h.driver.FailNextApply(errors.New("bus fault"))

	err := h.tick(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus fault")
}

func TestHomeEnqueuesManipulationMission(t *testing.T) {
	h := newHarness(t, Config{
		Home:            []float64{0, 0.5, -0.8, 0, 0, 0},
		ArmMoveDuration: 100 * time.Millisecond,
		TrajectorySteps: 10,
	})
	require.NoError(t, h.tick(t))

	m, err := h.controller.Home()
	require.NoError(t, err)
	assert.Equal(t, types.MissionManipulation, m.Type)
	assert.Equal(t, types.PriorityHigh, m.Priority)

	require.NoError(t, h.tick(t))
	assert.Equal(t, types.StateManipulation, h.controller.State())
}

func TestStatusReportShape(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.tick(t))

	status := h.controller.Status()
	assert.Equal(t, "idle", status.State)
	assert.False(t, status.EmergencyStop)
	assert.Nil(t, status.Mission)
	assert.False(t, status.Timestamp.IsZero())
}

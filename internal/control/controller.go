package control

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"armctl/internal/actuator"
	"armctl/internal/kinematics"
	"armctl/internal/logging"
	"armctl/internal/mission"
	"armctl/internal/safety"
	"armctl/internal/sensor"
	"armctl/internal/trajectory"
	"armctl/pkg/types"
)

// Config parameterizes the motion controller.
type Config struct {
	TickInterval     time.Duration
	SensorTimeout    time.Duration
	FilterAlpha      float64
	DistanceGains    PIDGains
	HeadingGains     PIDGains
	GoalTolerance    float64 // m, navigation arrival radius
	ArmMoveDuration  time.Duration
	TrajectorySteps  int
	InteractionDwell time.Duration
	Home             []float64 // joint angles, rad
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 20 * time.Millisecond // 50 Hz
	}
	if c.SensorTimeout <= 0 {
		c.SensorTimeout = 100 * time.Millisecond
	}
	if c.GoalTolerance <= 0 {
		c.GoalTolerance = 0.05
	}
	if c.ArmMoveDuration <= 0 {
		c.ArmMoveDuration = 2 * time.Second
	}
	if c.TrajectorySteps <= 0 {
		c.TrajectorySteps = 50
	}
	if c.InteractionDwell <= 0 {
		c.InteractionDwell = time.Second
	}
	if c.DistanceGains == (PIDGains{}) {
		c.DistanceGains = PIDGains{Kp: 1.2, Ki: 0.05, Kd: 0.1}
	}
	if c.HeadingGains == (PIDGains{}) {
		c.HeadingGains = PIDGains{Kp: 2.0, Ki: 0.0, Kd: 0.2}
	}
}

// Controller executes the fixed-rate control cycle: fuse sensors, advance the
// mission state machine, compute motion commands, pass them through the
// safety supervisor and dispatch them to the actuator driver.
//
// All mutable state is owned by Tick, which the loop calls from a single
// goroutine; readers go through the RWMutex-guarded accessors.
type Controller struct {
	config     Config
	logger     *logging.Logger
	engine     *kinematics.Engine
	supervisor *safety.Supervisor
	missions   *mission.Manager
	driver     actuator.Driver
	source     sensor.Source

	filter     *ComplementaryFilter
	distPID    *PID
	headingPID *PID

	mu         sync.RWMutex
	state      types.ControllerState
	pose       types.RobotPose
	joints     types.JointConfiguration
	lastSnap   types.SensorSnapshot
	haveSnap   bool
	stopIssued bool
	lastError  string

	// per-mission execution state, valid while a mission is active
	initialDistance float64
	traj            *trajectory.Trajectory
	trajElapsed     time.Duration
	dwellElapsed    time.Duration
}

// NewController wires the controller. The driver and source must outlive it.
func NewController(config Config, engine *kinematics.Engine, supervisor *safety.Supervisor,
	missions *mission.Manager, driver actuator.Driver, source sensor.Source) *Controller {
	config.applyDefaults()

	home := config.Home
	if len(home) != engine.Joints() {
		home = make([]float64, engine.Joints())
	}

	return &Controller{
		config:     config,
		logger:     logging.GetLogger("controller"),
		engine:     engine,
		supervisor: supervisor,
		missions:   missions,
		driver:     driver,
		source:     source,
		filter:     NewComplementaryFilter(config.FilterAlpha),
		distPID:    NewPID(config.DistanceGains),
		headingPID: NewPID(config.HeadingGains),
		state:      types.StateInitializing,
		joints:     types.NewJointConfiguration(home, engine.Limits()),
	}
}

// State returns the current controller state.
func (c *Controller) State() types.ControllerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Pose returns the last fused robot pose.
func (c *Controller) Pose() types.RobotPose {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pose
}

// Joints returns the current joint configuration.
func (c *Controller) Joints() types.JointConfiguration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.joints.Clone()
}

// LastError returns the most recent tick fault description, empty when none
// has occurred.
func (c *Controller) LastError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// Tuning returns the diagnostics of the distance and heading regulators.
func (c *Controller) Tuning() (distance, heading Diagnostics) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.distPID.Diagnostics(), c.headingPID.Diagnostics()
}

// Status assembles the telemetry report for the current tick.
func (c *Controller) Status() types.StatusReport {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return types.StatusReport{
		Timestamp: time.Now(),
		State:     c.state.String(),
		Position: types.StatusPosition{
			X:   c.pose.Position.X,
			Y:   c.pose.Position.Y,
			Yaw: c.pose.Yaw,
		},
		Velocity:      c.pose.Velocity,
		EmergencyStop: c.state == types.StateEmergencyStop,
		Mission:       c.missions.Brief(),
	}
}

// Tick runs one control cycle at time now with tick duration dt. It never
// panics on sensor or mission faults; faults degrade to safe commands and
// are reported through the returned error.
func (c *Controller) Tick(now time.Time, dt float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var tickErr error

	snap, fresh := c.acquire(now)
	if fresh {
		// The pose is mutated exactly once per tick, here.
		c.fuse(snap, dt)
	} else {
		tickErr = fmt.Errorf("tick %s: %w", now.Format(time.RFC3339Nano), types.ErrSensorTimeout)
	}

	if c.state == types.StateInitializing && c.haveSnap {
		c.transition(types.StateIdle)
	}

	cmd := types.ActuatorCommand{
		Joints: types.JointCommand{
			Angles:     append([]float64(nil), c.joints.Angles...),
			Velocities: make([]float64, len(c.joints.Angles)),
		},
		Timestamp: now,
	}

	// Deadline expiry and cancellation are time-based; they run even while
	// the sensor source is stale.
	if c.state != types.StateEmergencyStop && c.state != types.StateInitializing {
		c.reapMissions(now)
	}

	if fresh && c.state != types.StateEmergencyStop && c.state != types.StateInitializing {
		c.advanceMission()
		c.execute(&cmd, now, dt)
	}

	decision := c.supervisor.Review(cmd, c.pose, snap, dt)
	if decision.EmergencyStop {
		c.enterEmergencyStop(decision)
	}

	if err := c.dispatch(decision); err != nil {
		tickErr = errors.Join(tickErr, err)
	}

	if tickErr != nil {
		c.lastError = tickErr.Error()
	}
	return tickErr
}

// acquire fetches the latest snapshot, falling back to the last-known-good
// one when the source is stale or empty. fresh is false on fallback.
func (c *Controller) acquire(now time.Time) (types.SensorSnapshot, bool) {
	snap, ok := c.source.Latest()
	if ok && !sensor.Stale(snap, now, c.config.SensorTimeout) {
		c.lastSnap = snap
		c.haveSnap = true
		return snap, true
	}

	if c.haveSnap {
		c.logger.Warn("Sensor snapshot stale, holding last known state")
		return c.lastSnap, false
	}
	return types.SensorSnapshot{}, false
}

// fuse folds one snapshot into the robot pose estimate.
func (c *Controller) fuse(snap types.SensorSnapshot, dt float64) {
	roll, pitch, yaw := c.filter.Update(snap.Accel, snap.Gyro, dt)

	// Dead-reckon the planar position from the commanded velocity. Encoder
	// odometry replaces this when the base reports wheel feedback.
	c.pose.Position.X += c.pose.Velocity.LinearX * math.Cos(yaw) * dt
	c.pose.Position.Y += c.pose.Velocity.LinearX * math.Sin(yaw) * dt
	c.pose.Roll = roll
	c.pose.Pitch = pitch
	c.pose.Yaw = yaw
	c.pose.Timestamp = snap.Timestamp

	if len(snap.JointAngles) == len(c.joints.Angles) {
		copy(c.joints.Angles, snap.JointAngles)
	}
}

// reapMissions enforces the time-based terminations: deadline expiry and
// cancellation of the active mission. Both drop the controller back to IDLE
// on the tick they occur.
func (c *Controller) reapMissions(now time.Time) {
	if expired := c.missions.Expire(now); expired != nil {
		c.logger.Warn("Mission force-completed on deadline", "mission_id", expired.ID)
		c.resetMissionState()
		c.transition(types.StateIdle)
	}

	if c.state.Active() && c.missions.Active() == nil {
		// Active mission vanished (cancelled): stop commanding motion this
		// very tick.
		c.resetMissionState()
		c.transition(types.StateIdle)
	}
}

// advanceMission activates the next pending mission and moves the state
// machine into the matching mode.
func (c *Controller) advanceMission() {
	if c.missions.Active() != nil {
		return
	}
	if next := c.missions.Next(); next != nil {
		c.startMission(next)
	}
}

// startMission prepares per-mission execution state and transitions.
func (c *Controller) startMission(m *types.Mission) {
	target := m.Target
	c.initialDistance = math.Hypot(target.X-c.pose.Position.X, target.Y-c.pose.Position.Y)
	c.traj = nil
	c.trajElapsed = 0
	c.dwellElapsed = 0
	c.distPID.Reset()
	c.headingPID.Reset()

	next := types.StateForMission(m.Type)
	if !c.transition(next) {
		c.missions.Fail(fmt.Errorf("illegal transition %s -> %s", c.state, next))
		return
	}

	if m.Type == types.MissionManipulation {
		if err := c.planArmMove(m); err != nil {
			c.logger.Error("Manipulation planning failed", "mission_id", m.ID, "error", err)
			c.missions.Fail(err)
			c.transition(types.StateIdle)
		}
	}
}

// planArmMove solves the mission target and interpolates a joint trajectory.
// The analytic solver is tried first; the iterative one picks up targets the
// closed form rejects for numerical reasons.
func (c *Controller) planArmMove(m *types.Mission) error {
	goal, err := c.engine.Inverse(m.Target)
	if err != nil {
		if errors.Is(err, types.ErrUnreachable) && !errors.Is(err, types.ErrJointLimit) {
			return err
		}
		goal, err = c.engine.NumericalInverse(m.Target, c.joints.Clone())
		if err != nil {
			return err
		}
	}

	traj, err := trajectory.Plan(c.joints.Clone(), goal, c.config.TrajectorySteps, c.config.ArmMoveDuration)
	if err != nil {
		return err
	}
	c.traj = traj
	return nil
}

// execute fills in the command for the current state.
func (c *Controller) execute(cmd *types.ActuatorCommand, now time.Time, dt float64) {
	active := c.missions.Active()
	if active == nil {
		return
	}

	switch c.state {
	case types.StateNavigation:
		c.executeNavigation(cmd, active, dt)
	case types.StateManipulation:
		c.executeManipulation(cmd, active, dt)
	case types.StateInteraction:
		c.executeInteraction(active, dt)
	}
}

func (c *Controller) executeNavigation(cmd *types.ActuatorCommand, m *types.Mission, dt float64) {
	dx := m.Target.X - c.pose.Position.X
	dy := m.Target.Y - c.pose.Position.Y
	distance := math.Hypot(dx, dy)

	c.missions.UpdateProgress(distance, c.initialDistance)

	if distance <= c.config.GoalTolerance {
		c.missions.Complete()
		c.resetMissionState()
		c.transition(types.StateIdle)
		return
	}

	headingErr := normalizeAngle(math.Atan2(dy, dx) - c.pose.Yaw)
	cmd.Wheels.LinearX = c.distPID.Update(distance, dt)
	cmd.Wheels.AngularZ = c.headingPID.Update(headingErr, dt)
	c.pose.Velocity = cmd.Wheels
}

func (c *Controller) executeManipulation(cmd *types.ActuatorCommand, m *types.Mission, dt float64) {
	if c.traj == nil {
		c.missions.Fail(fmt.Errorf("no trajectory for mission %s", m.ID))
		c.transition(types.StateIdle)
		return
	}

	c.trajElapsed += time.Duration(dt * float64(time.Second))
	u := float64(c.trajElapsed) / float64(c.traj.Duration)
	point := c.traj.At(u)

	copy(cmd.Joints.Angles, point.Angles)
	copy(cmd.Joints.Velocities, point.Velocities)
	copy(c.joints.Angles, point.Angles)

	c.missions.UpdateProgress(1.0-math.Min(u, 1.0), 1.0)

	if u >= 1.0 {
		c.missions.Complete()
		c.resetMissionState()
		c.transition(types.StateIdle)
	}
}

func (c *Controller) executeInteraction(m *types.Mission, dt float64) {
	c.dwellElapsed += time.Duration(dt * float64(time.Second))
	remaining := c.config.InteractionDwell - c.dwellElapsed
	if remaining < 0 {
		remaining = 0
	}
	c.missions.UpdateProgress(remaining.Seconds(), c.config.InteractionDwell.Seconds())

	if c.dwellElapsed >= c.config.InteractionDwell {
		c.missions.Complete()
		c.resetMissionState()
		c.transition(types.StateIdle)
	}
}

// enterEmergencyStop latches the stop state and fails the active mission.
func (c *Controller) enterEmergencyStop(decision safety.Decision) {
	if c.state == types.StateEmergencyStop {
		return
	}
	c.transition(types.StateEmergencyStop)
	c.pose.Velocity = types.Velocity{}
	c.resetMissionState()
	c.distPID.Reset()
	c.headingPID.Reset()

	cause := types.ErrSafetyViolation
	if len(decision.Violations) > 0 {
		cause = decision.Violations[len(decision.Violations)-1]
	}
	if failed := c.missions.Fail(cause); failed != nil {
		c.logger.Error("Mission aborted by emergency stop", "mission_id", failed.ID)
	}
}

// dispatch sends the reviewed command to the driver. The stop command is
// issued exactly once per latch; ticks spent waiting in EMERGENCY_STOP send
// nothing.
func (c *Controller) dispatch(decision safety.Decision) error {
	if decision.EmergencyStop {
		if c.stopIssued {
			return nil
		}
		if err := c.driver.Stop(); err != nil {
			return fmt.Errorf("failed to stop actuators: %w", err)
		}
		c.stopIssued = true
		return nil
	}

	c.pose.Velocity = decision.Command.Wheels
	if err := c.driver.Apply(decision.Command); err != nil {
		return fmt.Errorf("failed to apply actuator command: %w", err)
	}
	return nil
}

// Retune swaps the navigation PID gains in place, e.g. on a config reload.
// Accumulated regulator state is preserved so an in-flight mission does not
// jerk.
func (c *Controller) Retune(distance, heading PIDGains) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.distPID.Retune(distance)
	c.headingPID.Retune(heading)
	c.logger.Info("Navigation gains retuned",
		"distance_kp", distance.Kp, "heading_kp", heading.Kp)
}

// ResetEmergencyStop performs the operator re-entry: the supervisor latch is
// cleared first (it refuses while the hardware line is asserted), then the
// state machine returns to IDLE.
func (c *Controller) ResetEmergencyStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != types.StateEmergencyStop {
		return fmt.Errorf("controller not in emergency stop (state %s)", c.state)
	}
	if err := c.supervisor.Reset(); err != nil {
		return fmt.Errorf("failed to reset emergency stop: %w", err)
	}

	// Re-entry re-initializes the pose estimate: a stale dead-reckoned
	// position outside the envelope would re-latch on the next review.
	c.pose = types.RobotPose{}
	c.filter.Reset()
	c.stopIssued = false
	c.transition(types.StateIdle)
	c.logger.Info("Emergency stop cleared, controller idle")
	return nil
}

// Home enqueues a manipulation mission returning the arm to its home joint
// configuration.
func (c *Controller) Home() (*types.Mission, error) {
	home := types.NewJointConfiguration(c.config.Home, c.engine.Limits())
	if len(home.Angles) != c.engine.Joints() {
		home = types.NewJointConfiguration(make([]float64, c.engine.Joints()), c.engine.Limits())
	}
	pose, err := c.engine.Forward(home)
	if err != nil {
		return nil, fmt.Errorf("failed to derive home pose: %w", err)
	}
	return c.missions.Assign(types.MissionRequest{
		Target:   pose,
		Type:     "manipulation",
		Priority: types.PriorityHigh,
	})
}

// transition moves the state machine, refusing illegal edges.
func (c *Controller) transition(next types.ControllerState) bool {
	if c.state == next {
		return true
	}
	if !c.state.CanTransition(next) {
		c.logger.Error("Illegal state transition refused", "from", c.state.String(), "to", next.String())
		return false
	}
	c.logger.Info("State transition", "from", c.state.String(), "to", next.String())
	c.state = next
	return true
}

func (c *Controller) resetMissionState() {
	c.traj = nil
	c.trajElapsed = 0
	c.dwellElapsed = 0
	c.initialDistance = 0
}

// Package safety implements the supervisor that reviews every actuator
// command before dispatch. All checks are O(1) and run synchronously inside
// the control tick; the supervisor never touches I/O.
package safety

import (
	"fmt"
	"math"
	"sync"
	"time"

	"armctl/internal/logging"
	"armctl/pkg/types"
)

// maxViolationHistory bounds the retained violation records.
const maxViolationHistory = 64

// EStopInput reports the hardware emergency-stop line. Wired to the real
// input on deployment, to a switch in the simulator.
type EStopInput func() bool

// Decision is the outcome of reviewing one tick's command.
type Decision struct {
	// Command is the command to dispatch: clamped on velocity or
	// acceleration violations, zeroed when EmergencyStop is set.
	Command types.ActuatorCommand

	// Violations lists every envelope check that failed this tick.
	Violations []*types.SafetyViolation

	// EmergencyStop demands the controller transition to EMERGENCY_STOP
	// and the driver outputs be zeroed.
	EmergencyStop bool
}

// Supervisor checks each tick, in order: the hardware emergency-stop input,
// commanded linear speed against max_velocity, commanded acceleration
// against max_acceleration, and distance from the workspace origin against
// max_reach (plus the obstacle safety distance when range readings exist).
//
// Velocity and acceleration breaches clamp the command and record the
// violation; the emergency-stop input, reach and obstacle breaches latch an
// emergency stop that zeroes all outputs. Once latched, every review
// returns a zeroed command until Reset succeeds — which requires the
// hardware line released AND an explicit operator reset, preventing rapid
// flapping.
type Supervisor struct {
	envelope types.SafetyEnvelope
	estop    EStopInput
	logger   *logging.Logger

	mu         sync.Mutex
	latched    bool
	lastSpeed  float64
	haveSpeed  bool
	violations []types.SafetyViolation
}

// NewSupervisor builds a supervisor over an immutable envelope. estop may be
// nil when no hardware line exists.
func NewSupervisor(envelope types.SafetyEnvelope, estop EStopInput) *Supervisor {
	return &Supervisor{
		envelope: envelope,
		estop:    estop,
		logger:   logging.GetLogger("safety"),
	}
}

// Envelope returns the configured safety envelope.
func (s *Supervisor) Envelope() types.SafetyEnvelope {
	return s.envelope
}

// Review evaluates one command against the envelope. dt is the tick
// duration in seconds; pose is the controller-owned robot pose from this
// tick; snap is the sensor snapshot used this tick.
func (s *Supervisor) Review(cmd types.ActuatorCommand, pose types.RobotPose, snap types.SensorSnapshot, dt float64) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := cmd.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	if s.latched {
		return Decision{Command: zeroed(cmd), EmergencyStop: true}
	}

	var violations []*types.SafetyViolation

	// (a) hardware emergency stop
	if s.estop != nil && s.estop() {
		v := s.record(types.SafetyViolation{Check: "emergency_stop", Value: 1, Limit: 0, At: now})
		s.latched = true
		s.logger.Error("Hardware emergency stop asserted")
		return Decision{Command: zeroed(cmd), Violations: []*types.SafetyViolation{v}, EmergencyStop: true}
	}

	// (b) commanded linear speed
	speed := cmd.Wheels.Speed()
	if speed > s.envelope.MaxVelocity {
		v := s.record(types.SafetyViolation{Check: "max_velocity", Value: speed, Limit: s.envelope.MaxVelocity, At: now})
		violations = append(violations, v)
		cmd.Wheels.LinearX = math.Copysign(s.envelope.MaxVelocity, cmd.Wheels.LinearX)
		speed = s.envelope.MaxVelocity
	}

	// (c) commanded acceleration, from the speed delta across ticks
	if s.haveSpeed && dt > 0 {
		accel := math.Abs(speed-s.lastSpeed) / dt
		if accel > s.envelope.MaxAcceleration {
			v := s.record(types.SafetyViolation{Check: "max_acceleration", Value: accel, Limit: s.envelope.MaxAcceleration, At: now})
			violations = append(violations, v)
			limited := s.lastSpeed + math.Copysign(s.envelope.MaxAcceleration*dt, speed-s.lastSpeed)
			cmd.Wheels.LinearX = math.Copysign(math.Abs(limited), cmd.Wheels.LinearX)
			speed = math.Abs(limited)
		}
	}
	s.lastSpeed = speed
	s.haveSpeed = true

	// (d) workspace reach
	dist := pose.Position.DistanceTo(types.Point{})
	if dist > s.envelope.MaxReach {
		v := s.record(types.SafetyViolation{Check: "max_reach", Value: dist, Limit: s.envelope.MaxReach, At: now})
		s.latched = true
		s.logger.Error("Workspace reach exceeded", "distance", dist, "limit", s.envelope.MaxReach)
		return Decision{Command: zeroed(cmd), Violations: append(violations, v), EmergencyStop: true}
	}

	// Obstacle clearance, when range readings are present.
	if s.envelope.SafetyDistance > 0 {
		for _, rng := range snap.Ranges {
			if rng > 0 && rng < s.envelope.SafetyDistance {
				v := s.record(types.SafetyViolation{Check: "safety_distance", Value: rng, Limit: s.envelope.SafetyDistance, At: now})
				s.latched = true
				s.logger.Error("Obstacle inside safety distance", "range", rng, "limit", s.envelope.SafetyDistance)
				return Decision{Command: zeroed(cmd), Violations: append(violations, v), EmergencyStop: true}
			}
		}
	}

	return Decision{Command: cmd, Violations: violations}
}

// Latched reports whether an emergency stop is currently latched.
func (s *Supervisor) Latched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latched
}

// Reset clears the latch for operator re-entry. It fails while the hardware
// emergency-stop line is still asserted.
func (s *Supervisor) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.estop != nil && s.estop() {
		return fmt.Errorf("hardware emergency stop still asserted: %w", types.ErrSafetyViolation)
	}
	if s.latched {
		s.logger.Info("Emergency stop latch cleared by operator reset")
	}
	s.latched = false
	s.haveSpeed = false
	return nil
}

// Violations returns the retained violation history, most recent last.
func (s *Supervisor) Violations() []types.SafetyViolation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.SafetyViolation, len(s.violations))
	copy(out, s.violations)
	return out
}

func (s *Supervisor) record(v types.SafetyViolation) *types.SafetyViolation {
	s.violations = append(s.violations, v)
	if len(s.violations) > maxViolationHistory {
		s.violations = s.violations[len(s.violations)-maxViolationHistory:]
	}
	s.logger.Warn("Safety violation", "check", v.Check, "value", v.Value, "limit", v.Limit)
	return &v
}

func zeroed(cmd types.ActuatorCommand) types.ActuatorCommand {
	out := types.ActuatorCommand{Timestamp: cmd.Timestamp}
	if n := len(cmd.Joints.Angles); n > 0 {
		// Hold joint angles, zero all rates: a powered arm must not slump,
		// but nothing may keep moving.
		out.Joints.Angles = append([]float64(nil), cmd.Joints.Angles...)
		out.Joints.Velocities = make([]float64, n)
	}
	return out
}

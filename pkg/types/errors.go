package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel error kinds. Components wrap these with context via fmt.Errorf and
// %w so callers can classify failures with errors.Is regardless of origin.
var (
	// ErrUnreachable marks an inverse kinematics target outside the
	// workspace or whose solution failed the forward-kinematics residual
	// check. Kinematics failures are never substituted with partial results.
	ErrUnreachable = errors.New("target unreachable")

	// ErrConvergenceFailure marks an iterative solve that exceeded its
	// iteration budget without meeting tolerance.
	ErrConvergenceFailure = errors.New("iterative solve did not converge")

	// ErrJointLimit marks a solved or commanded angle outside its bounds.
	ErrJointLimit = errors.New("joint limit violation")

	// ErrSensorTimeout marks a sensor snapshot older than the configured
	// staleness window.
	ErrSensorTimeout = errors.New("sensor snapshot stale")

	// ErrSafetyViolation marks a safety envelope breach. Rate breaches are
	// clamped and recorded; stop-class breaches latch an emergency stop.
	ErrSafetyViolation = errors.New("safety envelope violation")

	// ErrMissionTimeout marks a mission force-completed because its
	// deadline elapsed.
	ErrMissionTimeout = errors.New("mission deadline exceeded")
)

// JointLimitError reports which joint violated which bound.
type JointLimitError struct {
	Joint int
	Angle float64
	Limit JointLimit
}

func (e *JointLimitError) Error() string {
	return fmt.Sprintf("joint %d angle %.4f rad outside [%.4f, %.4f]",
		e.Joint, e.Angle, e.Limit.Min, e.Limit.Max)
}

func (e *JointLimitError) Is(target error) bool {
	return target == ErrJointLimit
}

// SafetyViolation records one failed envelope check: which invariant was
// violated, the observed value and the configured limit.
type SafetyViolation struct {
	Check string    // "emergency_stop", "max_velocity", "max_acceleration", "max_reach"
	Value float64
	Limit float64
	At    time.Time
}

func (v *SafetyViolation) Error() string {
	return fmt.Sprintf("safety violation: %s value %.3f limit %.3f", v.Check, v.Value, v.Limit)
}

func (v *SafetyViolation) Is(target error) bool {
	return target == ErrSafetyViolation
}

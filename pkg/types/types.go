// Package types defines the fundamental data structures and type definitions used
// throughout the arm control system. It includes the robot geometry description,
// joint and Cartesian state, mission definitions, safety envelope parameters and
// the message structures that form the common language between system components.
package types

import (
	"fmt"
	"math"
	"time"
)

// DHLink holds the Denavit-Hartenberg parameters of a single link. The table of
// links is loaded once from configuration and never mutated afterwards.
type DHLink struct {
	A      float64 `yaml:"a"`      // link length (m)
	Alpha  float64 `yaml:"alpha"`  // link twist (rad)
	D      float64 `yaml:"d"`      // link offset (m)
	Offset float64 `yaml:"offset"` // joint angle offset (rad)
}

// JointLimit bounds a single joint angle.
type JointLimit struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains reports whether angle lies inside the limit.
func (l JointLimit) Contains(angle float64) bool {
	return angle >= l.Min && angle <= l.Max
}

// Clamp returns angle restricted to the limit.
func (l JointLimit) Clamp(angle float64) float64 {
	if angle < l.Min {
		return l.Min
	}
	if angle > l.Max {
		return l.Max
	}
	return angle
}

// JointConfiguration is an ordered set of joint angles with optional velocities
// and per-joint limits. All angles are radians, velocities rad/s.
type JointConfiguration struct {
	Angles     []float64
	Velocities []float64
	Limits     []JointLimit
}

// NewJointConfiguration builds a zero-velocity configuration over the given limits.
func NewJointConfiguration(angles []float64, limits []JointLimit) JointConfiguration {
	return JointConfiguration{
		Angles:     append([]float64(nil), angles...),
		Velocities: make([]float64, len(angles)),
		Limits:     limits,
	}
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (jc JointConfiguration) Clone() JointConfiguration {
	return JointConfiguration{
		Angles:     append([]float64(nil), jc.Angles...),
		Velocities: append([]float64(nil), jc.Velocities...),
		Limits:     jc.Limits,
	}
}

// CheckLimits returns a JointLimitError for the first joint whose angle lies
// outside its configured limit, or nil when every angle is in range.
func (jc JointConfiguration) CheckLimits() error {
	for i, angle := range jc.Angles {
		if i >= len(jc.Limits) {
			break
		}
		if !jc.Limits[i].Contains(angle) {
			return &JointLimitError{Joint: i, Angle: angle, Limit: jc.Limits[i]}
		}
	}
	return nil
}

// ClampToLimits restricts every angle to its limit in place.
func (jc JointConfiguration) ClampToLimits() {
	for i := range jc.Angles {
		if i >= len(jc.Limits) {
			break
		}
		jc.Angles[i] = jc.Limits[i].Clamp(jc.Angles[i])
	}
}

// Point is a position in Cartesian space (m).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// DistanceTo returns the Euclidean distance to other.
func (p Point) DistanceTo(other Point) float64 {
	dx, dy, dz := p.X-other.X, p.Y-other.Y, p.Z-other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// CartesianPose is a position plus ZYX Euler orientation. Produced by forward
// kinematics and consumed as an inverse kinematics target.
type CartesianPose struct {
	X     float64 `json:"x" yaml:"x"`
	Y     float64 `json:"y" yaml:"y"`
	Z     float64 `json:"z" yaml:"z"`
	Roll  float64 `json:"roll" yaml:"roll"`
	Pitch float64 `json:"pitch" yaml:"pitch"`
	Yaw   float64 `json:"yaw" yaml:"yaw"`
}

// Position returns the translational part of the pose.
func (cp CartesianPose) Position() Point {
	return Point{X: cp.X, Y: cp.Y, Z: cp.Z}
}

// PositionDistance returns the translational distance to other.
func (cp CartesianPose) PositionDistance(other CartesianPose) float64 {
	return cp.Position().DistanceTo(other.Position())
}

// Velocity is a planar base velocity command.
type Velocity struct {
	LinearX  float64 `json:"linear_x"`
	AngularZ float64 `json:"angular_z"`
}

// Speed returns the commanded linear speed magnitude.
func (v Velocity) Speed() float64 {
	return math.Abs(v.LinearX)
}

// RobotPose is the full runtime state of the robot base. It is owned by the
// motion controller and mutated exactly once per control tick from fused
// sensor data.
type RobotPose struct {
	Position     Point
	Roll         float64
	Pitch        float64
	Yaw          float64
	Velocity     Velocity
	Acceleration Velocity
	Timestamp    time.Time // monotonic
}

// MissionType selects which controller mode a mission drives.
type MissionType int

const (
	MissionNavigation MissionType = iota
	MissionManipulation
	MissionInteraction
)

func (t MissionType) String() string {
	switch t {
	case MissionNavigation:
		return "navigation"
	case MissionManipulation:
		return "manipulation"
	case MissionInteraction:
		return "interaction"
	default:
		return fmt.Sprintf("mission_type(%d)", int(t))
	}
}

// ParseMissionType maps the wire name of a mission type.
func ParseMissionType(s string) (MissionType, error) {
	switch s {
	case "navigation":
		return MissionNavigation, nil
	case "manipulation":
		return MissionManipulation, nil
	case "interaction":
		return MissionInteraction, nil
	default:
		return 0, fmt.Errorf("unknown mission type %q", s)
	}
}

type MissionPriority int

const (
	PriorityEmergency MissionPriority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

type MissionStatus int

const (
	MissionPending MissionStatus = iota
	MissionActive
	MissionCompleted
	MissionCancelled
	MissionFailed
)

func (s MissionStatus) String() string {
	switch s {
	case MissionPending:
		return "pending"
	case MissionActive:
		return "active"
	case MissionCompleted:
		return "completed"
	case MissionCancelled:
		return "cancelled"
	case MissionFailed:
		return "failed"
	default:
		return fmt.Sprintf("mission_status(%d)", int(s))
	}
}

// Mission is a single goal tracked by the mission manager. At most one mission
// is active at a time; it is created on assignment, mutated by progress
// updates and terminated by completion, cancellation or deadline expiry.
type Mission struct {
	ID              string
	Type            MissionType
	Target          CartesianPose
	Priority        MissionPriority
	Deadline        time.Time
	CompletionRatio float64
	Status          MissionStatus
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	Error           string
}

// SafetyEnvelope bounds commanded motion. Immutable after initialization.
type SafetyEnvelope struct {
	MaxVelocity     float64 `yaml:"max_velocity"`     // m/s
	MaxAcceleration float64 `yaml:"max_acceleration"` // m/s^2
	MaxReach        float64 `yaml:"max_reach"`        // m from workspace origin
	SafetyDistance  float64 `yaml:"safety_distance"`  // m to nearest obstacle
}

// SensorSnapshot is the immutable per-tick output of the sensor acquisition
// layer. Accel is m/s^2, Gyro rad/s, encoder angles rad, range readings m.
type SensorSnapshot struct {
	Timestamp   time.Time
	Accel       [3]float64
	Gyro        [3]float64
	JointAngles []float64
	Ranges      []float64
}

// JointCommand is a per-tick actuator command for the arm joints.
type JointCommand struct {
	Angles     []float64 // rad, indexed by joint
	Velocities []float64 // rad/s
}

// ActuatorCommand carries everything dispatched to the actuator driver layer
// on one control tick.
type ActuatorCommand struct {
	Joints    JointCommand
	Wheels    Velocity
	Timestamp time.Time
}

// StatusReport is the telemetry structure emitted at a fixed cadence.
type StatusReport struct {
	Timestamp     time.Time      `json:"timestamp"`
	State         string         `json:"state"`
	Position      StatusPosition `json:"position"`
	Velocity      Velocity       `json:"velocity"`
	EmergencyStop bool           `json:"emergency_stop"`
	Mission       *MissionBrief  `json:"mission,omitempty"`
}

// StatusPosition is the planar base pose in a status report.
type StatusPosition struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Yaw float64 `json:"yaw"`
}

// MissionBrief summarizes the active mission for telemetry consumers.
type MissionBrief struct {
	ID              string  `json:"id"`
	Type            string  `json:"type"`
	Status          string  `json:"status"`
	CompletionRatio float64 `json:"completion_ratio"`
}

// MissionRequest is the command-side payload for assigning a mission.
type MissionRequest struct {
	Target   CartesianPose   `json:"target"`
	Type     string          `json:"type"`
	Priority MissionPriority `json:"priority"`
	Deadline time.Duration   `json:"deadline"`
}

// IPCMessage is the envelope for all command/telemetry traffic.
type IPCMessage struct {
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Target    string                 `json:"target"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	ID        string                 `json:"id"`
}

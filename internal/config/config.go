// Package config loads, validates and hot-reloads the YAML system
// configuration: robot geometry, controller gains, safety envelope and the
// transport endpoints.
package config

import (
	"fmt"
	"math"
	"time"

	"armctl/internal/actuator"
	"armctl/internal/control"
	"armctl/internal/logging"
	"armctl/internal/sensor"
	"armctl/pkg/types"
)

// ArmConfig describes the manipulator geometry.
type ArmConfig struct {
	Links  []types.DHLink    `yaml:"links"`
	Limits []types.JointLimit `yaml:"limits"`
	Home   []float64          `yaml:"home"` // rad
}

// ControlConfig holds the controller loop parameters. Durations are spelled
// in explicit units to keep the YAML unambiguous.
type ControlConfig struct {
	TickRateHz         int              `yaml:"tick_rate_hz"`
	SensorTimeoutMs    int              `yaml:"sensor_timeout_ms"`
	FilterAlpha        float64          `yaml:"filter_alpha"`
	DistanceGains      control.PIDGains `yaml:"distance_gains"`
	HeadingGains       control.PIDGains `yaml:"heading_gains"`
	GoalTolerance      float64          `yaml:"goal_tolerance"` // m
	ArmMoveDurationMs  int              `yaml:"arm_move_duration_ms"`
	TrajectorySteps    int              `yaml:"trajectory_steps"`
	InteractionDwellMs int              `yaml:"interaction_dwell_ms"`
}

// SensorSourceConfig selects and parameterizes the sensor backend.
type SensorSourceConfig struct {
	Type   string              `yaml:"type"` // "serial" or "sim"
	Serial sensor.SerialConfig `yaml:"serial"`
}

// ActuatorConfig selects and parameterizes the actuator backend.
type ActuatorConfig struct {
	Type   string                `yaml:"type"` // "modbus" or "mock"
	Modbus actuator.ModbusConfig `yaml:"modbus"`
}

// IPCConfig parameterizes the TCP command server.
type IPCConfig struct {
	Address    string `yaml:"address"`
	Port       int    `yaml:"port"`
	BufferSize int    `yaml:"buffer_size"`
	TimeoutS   int    `yaml:"timeout_s"`
}

// TelemetryConfig parameterizes the status reporter.
type TelemetryConfig struct {
	IntervalMs int `yaml:"interval_ms"`
	QueueSize  int `yaml:"queue_size"`
}

// SystemConfig is the root configuration document.
type SystemConfig struct {
	Logging   logging.Config       `yaml:"logging"`
	Arm       ArmConfig            `yaml:"arm"`
	Control   ControlConfig        `yaml:"control"`
	Safety    types.SafetyEnvelope `yaml:"safety"`
	Sensors   SensorSourceConfig   `yaml:"sensors"`
	Actuators ActuatorConfig       `yaml:"actuators"`
	IPC       IPCConfig            `yaml:"ipc"`
	Telemetry TelemetryConfig      `yaml:"telemetry"`
}

// ControllerConfig converts the YAML parameters into the controller's
// runtime configuration.
func (c SystemConfig) ControllerConfig() control.Config {
	return control.Config{
		TickInterval:     time.Second / time.Duration(c.Control.TickRateHz),
		SensorTimeout:    time.Duration(c.Control.SensorTimeoutMs) * time.Millisecond,
		FilterAlpha:      c.Control.FilterAlpha,
		DistanceGains:    c.Control.DistanceGains,
		HeadingGains:     c.Control.HeadingGains,
		GoalTolerance:    c.Control.GoalTolerance,
		ArmMoveDuration:  time.Duration(c.Control.ArmMoveDurationMs) * time.Millisecond,
		TrajectorySteps:  c.Control.TrajectorySteps,
		InteractionDwell: time.Duration(c.Control.InteractionDwellMs) * time.Millisecond,
		Home:             c.Arm.Home,
	}
}

// Default returns the configuration used when no file exists: the stock
// 6-DOF arm geometry at a 50 Hz control rate with simulation backends.
func Default() SystemConfig {
	return SystemConfig{
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Arm: ArmConfig{
			Links: []types.DHLink{
				{A: 0, Alpha: math.Pi / 2, D: 0.1655},
				{A: 0.425},
				{A: 0.392},
				{A: 0, Alpha: math.Pi / 2},
				{A: 0, Alpha: -math.Pi / 2},
				{},
			},
			Limits: []types.JointLimit{
				{Min: -math.Pi, Max: math.Pi},
				{Min: -2.2, Max: 2.2},
				{Min: -2.8, Max: 2.8},
				{Min: -math.Pi, Max: math.Pi},
				{Min: -math.Pi, Max: math.Pi},
				{Min: -math.Pi, Max: math.Pi},
			},
			Home: []float64{0, 0, 0, 0, 0, 0},
		},
		Control: ControlConfig{
			TickRateHz:         50,
			SensorTimeoutMs:    100,
			FilterAlpha:        control.DefaultFilterAlpha,
			DistanceGains:      control.PIDGains{Kp: 1.2, Ki: 0.05, Kd: 0.1},
			HeadingGains:       control.PIDGains{Kp: 2.0, Kd: 0.2},
			GoalTolerance:      0.05,
			ArmMoveDurationMs:  2000,
			TrajectorySteps:    50,
			InteractionDwellMs: 1000,
		},
		Safety: types.SafetyEnvelope{
			MaxVelocity:     2.0,
			MaxAcceleration: 5.0,
			MaxReach:        50.0,
			SafetyDistance:  0.3,
		},
		Sensors: SensorSourceConfig{
			Type: "sim",
			Serial: sensor.SerialConfig{
				PortName: "/dev/ttyUSB0",
				BaudRate: 115200,
				DataBits: 8,
				StopBits: 1,
				Joints:   6,
			},
		},
		Actuators: ActuatorConfig{
			Type: "mock",
			Modbus: actuator.ModbusConfig{
				Type:    "tcp",
				Address: "127.0.0.1",
				Port:    1502,
				SlaveID: 1,
				Timeout: "5s",
			},
		},
		IPC: IPCConfig{
			Address:    "127.0.0.1",
			Port:       8420,
			BufferSize: 64,
			TimeoutS:   5,
		},
		Telemetry: TelemetryConfig{
			IntervalMs: 1000,
			QueueSize:  16,
		},
	}
}

// Validate fills defaults for omitted scalars and rejects inconsistent
// geometry or envelope values.
func Validate(c *SystemConfig) error {
	if c.Control.TickRateHz <= 0 {
		c.Control.TickRateHz = 50
	}
	if c.Control.SensorTimeoutMs <= 0 {
		c.Control.SensorTimeoutMs = 100
	}
	if c.Control.TrajectorySteps <= 0 {
		c.Control.TrajectorySteps = 50
	}
	if c.Control.ArmMoveDurationMs <= 0 {
		c.Control.ArmMoveDurationMs = 2000
	}
	if c.Control.InteractionDwellMs <= 0 {
		c.Control.InteractionDwellMs = 1000
	}
	if c.Control.GoalTolerance <= 0 {
		c.Control.GoalTolerance = 0.05
	}
	if c.IPC.BufferSize <= 0 {
		c.IPC.BufferSize = 64
	}
	if c.IPC.TimeoutS <= 0 {
		c.IPC.TimeoutS = 5
	}
	if c.Telemetry.IntervalMs <= 0 {
		c.Telemetry.IntervalMs = 1000
	}
	if c.Telemetry.QueueSize <= 0 {
		c.Telemetry.QueueSize = 16
	}

	if len(c.Arm.Links) < 3 {
		return fmt.Errorf("arm must have at least 3 links, got %d", len(c.Arm.Links))
	}
	if len(c.Arm.Limits) != len(c.Arm.Links) {
		return fmt.Errorf("arm has %d links but %d joint limits", len(c.Arm.Links), len(c.Arm.Limits))
	}
	for i, limit := range c.Arm.Limits {
		if limit.Min >= limit.Max {
			return fmt.Errorf("joint %d limit range is empty: [%f, %f]", i, limit.Min, limit.Max)
		}
	}
	if len(c.Arm.Home) != 0 && len(c.Arm.Home) != len(c.Arm.Links) {
		return fmt.Errorf("home has %d angles for %d joints", len(c.Arm.Home), len(c.Arm.Links))
	}
	for i, angle := range c.Arm.Home {
		if !c.Arm.Limits[i].Contains(angle) {
			return fmt.Errorf("home angle for joint %d outside its limit", i)
		}
	}

	if c.Safety.MaxVelocity <= 0 {
		return fmt.Errorf("safety max_velocity must be positive, got %f", c.Safety.MaxVelocity)
	}
	if c.Safety.MaxAcceleration <= 0 {
		return fmt.Errorf("safety max_acceleration must be positive, got %f", c.Safety.MaxAcceleration)
	}
	if c.Safety.MaxReach <= 0 {
		return fmt.Errorf("safety max_reach must be positive, got %f", c.Safety.MaxReach)
	}
	if c.Safety.SafetyDistance < 0 {
		return fmt.Errorf("safety safety_distance must not be negative, got %f", c.Safety.SafetyDistance)
	}

	switch c.Sensors.Type {
	case "", "sim", "serial":
	default:
		return fmt.Errorf("unknown sensor source type %q", c.Sensors.Type)
	}
	switch c.Actuators.Type {
	case "", "mock", "modbus":
	default:
		return fmt.Errorf("unknown actuator type %q", c.Actuators.Type)
	}

	if c.IPC.Port <= 0 || c.IPC.Port > 65535 {
		return fmt.Errorf("ipc port out of range: %d", c.IPC.Port)
	}
	return nil
}

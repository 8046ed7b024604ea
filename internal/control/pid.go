// Package control implements the fixed-rate motion controller: per-axis PID
// regulators, complementary-filter sensor fusion, the controller state
// machine and the monotonic control loop that drives one tick at a time.
package control

import "math"

// PIDGains parameterizes one PID axis. A zero IntegralLimit selects the
// default anti-windup clamp of ±100.
type PIDGains struct {
	Kp            float64 `yaml:"kp"`
	Ki            float64 `yaml:"ki"`
	Kd            float64 `yaml:"kd"`
	IntegralLimit float64 `yaml:"integral_limit"`
}

// DefaultIntegralLimit bounds the accumulated integral term to prevent windup.
const DefaultIntegralLimit = 100.0

// PID is a discrete PID regulator. Not safe for concurrent use; each axis
// owns its own instance, updated once per control tick.
type PID struct {
	gains PIDGains

	integral    float64
	prevError   float64
	initialized bool
}

// NewPID builds a regulator with the given gains.
func NewPID(gains PIDGains) *PID {
	if gains.IntegralLimit <= 0 {
		gains.IntegralLimit = DefaultIntegralLimit
	}
	return &PID{gains: gains}
}

// Reset clears the accumulated state, e.g. after an emergency stop or when a
// new mission retargets the axis.
func (p *PID) Reset() {
	p.integral = 0
	p.prevError = 0
	p.initialized = false
}

// Retune swaps the gains in place, preserving accumulated state.
func (p *PID) Retune(gains PIDGains) {
	if gains.IntegralLimit <= 0 {
		gains.IntegralLimit = DefaultIntegralLimit
	}
	p.gains = gains
}

// Update advances the regulator by dt seconds for the given error and
// returns the control output. The integral term is clamped to the configured
// limit before use.
func (p *PID) Update(err, dt float64) float64 {
	if dt <= 0 {
		return 0
	}
	if !p.initialized {
		p.prevError = err
		p.initialized = true
	}

	p.integral += err * dt
	p.integral = math.Max(-p.gains.IntegralLimit, math.Min(p.gains.IntegralLimit, p.integral))

	derivative := (err - p.prevError) / dt
	p.prevError = err

	return p.gains.Kp*err + p.gains.Ki*p.integral + p.gains.Kd*derivative
}

// Diagnostics exposes the regulator internals for telemetry and tuning.
type Diagnostics struct {
	Error    float64 `json:"error"`
	Integral float64 `json:"integral"`
	P        float64 `json:"p"`
	I        float64 `json:"i"`
}

// Diagnostics returns the current internal state.
func (p *PID) Diagnostics() Diagnostics {
	return Diagnostics{
		Error:    p.prevError,
		Integral: p.integral,
		P:        p.gains.Kp * p.prevError,
		I:        p.gains.Ki * p.integral,
	}
}

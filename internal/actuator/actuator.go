// Package actuator defines the driver contract for the actuator layer and
// its concrete backends: a Modbus register-mapped driver for real hardware
// and an in-memory mock for the simulator and tests.
package actuator

import "armctl/pkg/types"

// Driver consumes per-tick commands for the arm joints (rad, rad/s) and the
// wheel base (linear_x m/s, angular_z rad/s). Stop must zero all outputs
// immediately and is safe to call at any time, including repeatedly.
type Driver interface {
	Apply(cmd types.ActuatorCommand) error
	Stop() error
}

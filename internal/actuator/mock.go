package actuator

import (
	"sync"

	"armctl/pkg/types"
)

// Mock records commands instead of driving hardware. It backs the simulator
// and the controller tests.
type Mock struct {
	mu        sync.Mutex
	last      types.ActuatorCommand
	applied   int
	stops     int
	failApply error
}

// NewMock returns an empty mock driver.
func NewMock() *Mock {
	return &Mock{}
}

// Apply records the command.
func (m *Mock) Apply(cmd types.ActuatorCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failApply != nil {
		return m.failApply
	}
	m.last = cmd
	m.applied++
	return nil
}

// Stop zeroes the recorded command and counts the call.
func (m *Mock) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = types.ActuatorCommand{}
	m.stops++
	return nil
}

// FailNextApply makes subsequent Apply calls return err (nil restores
// normal behavior).
func (m *Mock) FailNextApply(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failApply = err
}

// Last returns the most recent applied command.
func (m *Mock) Last() types.ActuatorCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Applied returns how many commands were applied.
func (m *Mock) Applied() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied
}

// Stops returns how many times Stop was called.
func (m *Mock) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

package actuator

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armctl/pkg/types"
)

func TestMockRecordsCommands(t *testing.T) {
	m := NewMock()

	cmd := types.ActuatorCommand{Wheels: types.Velocity{LinearX: 1.5}}
	require.NoError(t, m.Apply(cmd))
	assert.Equal(t, 1, m.Applied())
	assert.Equal(t, 1.5, m.Last().Wheels.LinearX)

	require.NoError(t, m.Stop())
	assert.Equal(t, 1, m.Stops())
	assert.Zero(t, m.Last().Wheels.LinearX, "stop zeroes the recorded command")
}

func TestMockFailNextApply(t *testing.T) {
	m := NewMock()
	bus := errors.New("bus fault")

	m.FailNextApply(bus)
	assert.ErrorIs(t, m.Apply(types.ActuatorCommand{}), bus)
	assert.Zero(t, m.Applied())

	m.FailNextApply(nil)
	require.NoError(t, m.Apply(types.ActuatorCommand{}))
	assert.Equal(t, 1, m.Applied())
}

func TestToFixedScalesAndSaturates(t *testing.T) {
	neg := int16(-1500)
	min := int16(math.MinInt16)
	assert.Equal(t, uint16(1500), toFixed(1.5))
	assert.Equal(t, uint16(neg), toFixed(-1.5))
	assert.Equal(t, uint16(math.MaxInt16), toFixed(1000.0), "positive saturation")
	assert.Equal(t, uint16(min), toFixed(-1000.0), "negative saturation")
	assert.Equal(t, uint16(0), toFixed(0))
}

func TestModbusDriverRequiresConnection(t *testing.T) {
	d := NewModbusDriver(ModbusConfig{Type: "tcp", Address: "127.0.0.1", Port: 1502})

	assert.Error(t, d.Apply(types.ActuatorCommand{}))
	assert.Error(t, d.Stop())
}

func TestModbusDriverRejectsUnknownType(t *testing.T) {
	d := NewModbusDriver(ModbusConfig{Type: "udp"})
	assert.Error(t, d.Connect())
}

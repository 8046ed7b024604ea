package actuator

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"armctl/internal/logging"
	"armctl/pkg/types"
)

// Holding register layout of the motor controller. Each value is a signed
// 16-bit fixed-point number scaled by 1000 (milliradians, mm/s).
const (
	regWheelLinear  = 0x0000
	regWheelAngular = 0x0001
	regJointBase    = 0x0010 // one angle register per joint from here
	regStopLatch    = 0x00FF // non-zero forces the drive stage off

	fixedPointScale = 1000.0
)

// ModbusConfig describes the connection to the motor controller.
type ModbusConfig struct {
	Type     string `yaml:"type"`    // "tcp" or "rtu"
	Address  string `yaml:"address"` // host for tcp, device path for rtu
	Port     int    `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
	SlaveID  byte   `yaml:"slave_id"`
	Timeout  string `yaml:"timeout"`
}

// ModbusDriver writes actuator commands into the motor controller's holding
// registers over Modbus TCP or RTU.
type ModbusDriver struct {
	config ModbusConfig
	logger *logging.Logger

	mu      sync.Mutex
	client  modbus.Client
	handler interface{ Close() error }
}

// NewModbusDriver builds an unconnected driver.
func NewModbusDriver(config ModbusConfig) *ModbusDriver {
	return &ModbusDriver{
		config: config,
		logger: logging.GetLogger("actuator_modbus"),
	}
}

// Connect establishes the Modbus session.
func (d *ModbusDriver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	timeout, err := time.ParseDuration(d.config.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 5 * time.Second
	}

	switch d.config.Type {
	case "tcp":
		handler := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", d.config.Address, d.config.Port))
		handler.Timeout = timeout
		handler.SlaveId = d.config.SlaveID
		if err := handler.Connect(); err != nil {
			return fmt.Errorf("failed to connect TCP modbus: %w", err)
		}
		d.handler = handler
		d.client = modbus.NewClient(handler)
	case "rtu":
		handler := modbus.NewRTUClientHandler(d.config.Address)
		handler.BaudRate = d.config.BaudRate
		handler.DataBits = d.config.DataBits
		handler.StopBits = d.config.StopBits
		handler.Parity = d.config.Parity
		handler.SlaveId = d.config.SlaveID
		handler.Timeout = timeout
		if err := handler.Connect(); err != nil {
			return fmt.Errorf("failed to connect RTU modbus: %w", err)
		}
		d.handler = handler
		d.client = modbus.NewClient(handler)
	default:
		return fmt.Errorf("unsupported modbus type: %s", d.config.Type)
	}

	d.logger.Info("Modbus actuator driver connected", "type", d.config.Type, "address", d.config.Address)
	return nil
}

// Disconnect closes the session.
func (d *ModbusDriver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handler != nil {
		err := d.handler.Close()
		d.handler = nil
		d.client = nil
		return err
	}
	return nil
}

// Apply writes the wheel registers and one register per joint angle.
func (d *ModbusDriver) Apply(cmd types.ActuatorCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		return fmt.Errorf("modbus driver not connected")
	}

	wheels := make([]byte, 4)
	binary.BigEndian.PutUint16(wheels[0:2], toFixed(cmd.Wheels.LinearX))
	binary.BigEndian.PutUint16(wheels[2:4], toFixed(cmd.Wheels.AngularZ))
	if _, err := d.client.WriteMultipleRegisters(regWheelLinear, 2, wheels); err != nil {
		return fmt.Errorf("failed to write wheel registers: %w", err)
	}

	if n := len(cmd.Joints.Angles); n > 0 {
		joints := make([]byte, 2*n)
		for i, angle := range cmd.Joints.Angles {
			binary.BigEndian.PutUint16(joints[2*i:2*i+2], toFixed(angle))
		}
		if _, err := d.client.WriteMultipleRegisters(regJointBase, uint16(n), joints); err != nil {
			return fmt.Errorf("failed to write joint registers: %w", err)
		}
	}

	return nil
}

// Stop sets the stop latch and zeroes the wheel registers. The latch cuts
// the drive stage on the controller side even if a later register write is
// lost.
func (d *ModbusDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		return fmt.Errorf("modbus driver not connected")
	}

	if _, err := d.client.WriteSingleRegister(regStopLatch, 1); err != nil {
		return fmt.Errorf("failed to set stop latch: %w", err)
	}

	zero := make([]byte, 4)
	if _, err := d.client.WriteMultipleRegisters(regWheelLinear, 2, zero); err != nil {
		return fmt.Errorf("failed to zero wheel registers: %w", err)
	}

	d.logger.Warn("Actuator outputs stopped")
	return nil
}

// toFixed converts to the controller's signed milli fixed-point register
// format, saturating at the int16 range.
func toFixed(v float64) uint16 {
	scaled := math.Round(v * fixedPointScale)
	if scaled > math.MaxInt16 {
		scaled = math.MaxInt16
	}
	if scaled < math.MinInt16 {
		scaled = math.MinInt16
	}
	return uint16(int16(scaled))
}

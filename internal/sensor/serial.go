package sensor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"

	"armctl/internal/logging"
	"armctl/pkg/types"
)

// SerialConfig describes the serial link to the IMU/encoder bridge.
type SerialConfig struct {
	PortName string `yaml:"port_name"` // e.g. "/dev/ttyUSB0"
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"` // "N", "E", "O"
	Joints   int    `yaml:"joints"` // encoder channel count
}

// SerialReader consumes newline-delimited sensor frames from a serial port
// and publishes them to a snapshot store. A frame is a comma-separated float
// list: three accelerometer axes, three gyro axes, one encoder angle per
// joint, then any number of range readings. Malformed frames are dropped and
// counted, never published.
type SerialReader struct {
	config SerialConfig
	store  *Store
	logger *logging.Logger

	mu      sync.Mutex
	port    io.ReadWriteCloser
	dropped uint64
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSerialReader builds a reader that publishes into store.
func NewSerialReader(config SerialConfig, store *Store) *SerialReader {
	return &SerialReader{
		config: config,
		store:  store,
		logger: logging.GetLogger("sensor_serial"),
	}
}

// Start opens the port and begins publishing snapshots until the context is
// cancelled or Stop is called.
func (r *SerialReader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("serial reader is already running")
	}

	opts := serial.OpenOptions{
		PortName:        r.config.PortName,
		BaudRate:        uint(r.config.BaudRate),
		DataBits:        uint(r.config.DataBits),
		StopBits:        uint(r.config.StopBits),
		MinimumReadSize: 1,
	}
	switch r.config.Parity {
	case "E", "e":
		opts.ParityMode = serial.PARITY_EVEN
	case "O", "o":
		opts.ParityMode = serial.PARITY_ODD
	default:
		opts.ParityMode = serial.PARITY_NONE
	}

	port, err := serial.Open(opts)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", r.config.PortName, err)
	}
	r.port = port

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go r.readLoop(runCtx)

	r.logger.Info("Serial sensor reader started", "port", r.config.PortName, "baud", r.config.BaudRate)
	return nil
}

// Stop closes the port and waits for the read loop to exit.
func (r *SerialReader) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return fmt.Errorf("serial reader is not running")
	}
	r.cancel()
	port := r.port
	r.port = nil
	r.running = false
	r.mu.Unlock()

	if port != nil {
		port.Close()
	}
	r.wg.Wait()

	r.logger.Info("Serial sensor reader stopped", "dropped_frames", r.Dropped())
	return nil
}

// Dropped returns the count of malformed frames discarded so far.
func (r *SerialReader) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *SerialReader) readLoop(ctx context.Context) {
	defer r.wg.Done()

	r.mu.Lock()
	port := r.port
	r.mu.Unlock()
	if port == nil {
		return
	}

	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		snap, err := r.parseFrame(scanner.Text())
		if err != nil {
			r.mu.Lock()
			r.dropped++
			n := r.dropped
			r.mu.Unlock()
			if n%100 == 1 {
				r.logger.Warn("Dropping malformed sensor frame", "error", err, "dropped_total", n)
			}
			continue
		}
		r.store.Publish(snap)
	}
}

func (r *SerialReader) parseFrame(line string) (types.SensorSnapshot, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) < 6+r.config.Joints {
		return types.SensorSnapshot{}, fmt.Errorf("frame has %d fields, need at least %d",
			len(fields), 6+r.config.Joints)
	}

	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return types.SensorSnapshot{}, fmt.Errorf("field %d: %w", i, err)
		}
		values[i] = v
	}

	snap := types.SensorSnapshot{
		Timestamp:   time.Now(),
		Accel:       [3]float64{values[0], values[1], values[2]},
		Gyro:        [3]float64{values[3], values[4], values[5]},
		JointAngles: values[6 : 6+r.config.Joints],
	}
	if rest := values[6+r.config.Joints:]; len(rest) > 0 {
		snap.Ranges = rest
	}
	return snap, nil
}

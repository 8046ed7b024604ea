// Command armd runs the arm control daemon: sensor acquisition, the 50 Hz
// motion control loop, the safety supervisor, mission management and the
// TCP command/telemetry endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"armctl/internal/actuator"
	"armctl/internal/config"
	"armctl/internal/control"
	"armctl/internal/ipc"
	"armctl/internal/kinematics"
	"armctl/internal/logging"
	"armctl/internal/mission"
	"armctl/internal/safety"
	"armctl/internal/sensor"
	"armctl/internal/telemetry"
	"armctl/pkg/types"
)

type system struct {
	configs    *config.Manager
	controller *control.Controller
	loop       *control.Loop
	supervisor *safety.Supervisor
	missions   *mission.Manager
	server     *ipc.Server
	reporter   *telemetry.Reporter
	source     startStopSource
	driver     actuator.Driver
	logger     *logging.Logger

	// softEStop mirrors a hardware emergency-stop line for deployments
	// without one; asserted over IPC.
	softEStop atomic.Bool

	cancel context.CancelFunc
}

type startStopSource interface {
	sensor.Source
	Start(ctx context.Context) error
	Stop() error
}

func newSystem(configPath string) (*system, error) {
	configs := config.NewManager(configPath)
	if err := configs.Load(); err != nil {
		return nil, err
	}
	cfg := configs.Get()

	logCfg := cfg.Logging
	if err := logging.GetManager().UpdateConfig(&logCfg); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	engine, err := kinematics.New(cfg.Arm.Links, cfg.Arm.Limits, kinematics.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to build kinematics engine: %w", err)
	}

	sys := &system{
		configs:  configs,
		missions: mission.NewManager(),
		logger:   logging.GetLogger("armd"),
	}

	sys.supervisor = safety.NewSupervisor(cfg.Safety, sys.softEStop.Load)

	switch cfg.Sensors.Type {
	case "serial":
		store := sensor.NewStore()
		reader := sensor.NewSerialReader(cfg.Sensors.Serial, store)
		sys.source = &serialSource{SerialReader: reader, store: store}
	default:
		tick := time.Second / time.Duration(cfg.Control.TickRateHz)
		sys.source = sensor.NewSimSource(tick, engine.Joints())
	}

	switch cfg.Actuators.Type {
	case "modbus":
		driver := actuator.NewModbusDriver(cfg.Actuators.Modbus)
		if err := driver.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect actuator driver: %w", err)
		}
		sys.driver = driver
	default:
		sys.driver = actuator.NewMock()
	}

	sys.controller = control.NewController(cfg.ControllerConfig(), engine,
		sys.supervisor, sys.missions, sys.driver, sys.source)
	sys.loop = control.NewLoop(sys.controller)
	sys.server = ipc.NewServer(cfg.IPC)
	sys.reporter = telemetry.NewReporter(
		time.Duration(cfg.Telemetry.IntervalMs)*time.Millisecond,
		cfg.Telemetry.QueueSize,
		sys.controller.Status,
		func(report types.StatusReport) error {
			return sys.server.Broadcast(statusMessage(report))
		})

	sys.registerHandlers()
	configs.Watch(sys.applyConfig)
	return sys, nil
}

func (s *system) start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if err := s.source.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sensor source: %w", err)
	}
	if err := s.loop.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control loop: %w", err)
	}
	if err := s.server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start IPC server: %w", err)
	}
	if err := s.reporter.Start(ctx); err != nil {
		return fmt.Errorf("failed to start telemetry reporter: %w", err)
	}
	if err := s.configs.StartWatching(ctx); err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}

	s.logger.Info("armd started", "ipc_address", s.server.Addr().String())
	return nil
}

func (s *system) stop() {
	// Reverse start order; every component tolerates repeated Stop.
	if err := s.configs.StopWatching(); err != nil {
		s.logger.Warn("Config watcher stop failed", "error", err)
	}
	if err := s.reporter.Stop(); err != nil {
		s.logger.Warn("Telemetry stop failed", "error", err)
	}
	if err := s.server.Stop(); err != nil {
		s.logger.Warn("IPC server stop failed", "error", err)
	}
	if err := s.loop.Stop(); err != nil {
		s.logger.Warn("Control loop stop failed", "error", err)
	}
	if err := s.source.Stop(); err != nil {
		s.logger.Warn("Sensor source stop failed", "error", err)
	}
	if err := s.driver.Stop(); err != nil {
		s.logger.Warn("Actuator stop failed", "error", err)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("armd stopped")
}

func (s *system) registerHandlers() {
	s.server.Register("mission_request", s.handleMissionRequest)
	s.server.Register("mission_cancel", s.handleMissionCancel)
	s.server.Register("status", s.handleStatus)
	s.server.Register("estop", s.handleEStop)
	s.server.Register("estop_reset", s.handleEStopReset)
	s.server.Register("home", s.handleHome)
}

func (s *system) handleMissionRequest(msg types.IPCMessage) (map[string]interface{}, error) {
	req := types.MissionRequest{
		Type:     stringField(msg.Data, "type"),
		Priority: types.MissionPriority(intField(msg.Data, "priority", int(types.PriorityMedium))),
		Target: types.CartesianPose{
			X:     floatField(msg.Data, "x"),
			Y:     floatField(msg.Data, "y"),
			Z:     floatField(msg.Data, "z"),
			Roll:  floatField(msg.Data, "roll"),
			Pitch: floatField(msg.Data, "pitch"),
			Yaw:   floatField(msg.Data, "yaw"),
		},
	}
	if deadline := floatField(msg.Data, "deadline_s"); deadline > 0 {
		req.Deadline = time.Duration(deadline * float64(time.Second))
	}

	m, err := s.missions.Assign(req)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"mission_id": m.ID,
		"status":     m.Status.String(),
	}, nil
}

func (s *system) handleMissionCancel(msg types.IPCMessage) (map[string]interface{}, error) {
	id := stringField(msg.Data, "mission_id")
	if id == "" {
		return nil, fmt.Errorf("mission_id is required")
	}
	if err := s.missions.Cancel(id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"mission_id": id, "status": "cancelled"}, nil
}

func (s *system) handleStatus(types.IPCMessage) (map[string]interface{}, error) {
	report := s.controller.Status()
	payload := map[string]interface{}{
		"state":          report.State,
		"x":              report.Position.X,
		"y":              report.Position.Y,
		"yaw":            report.Position.Yaw,
		"linear_x":       report.Velocity.LinearX,
		"angular_z":      report.Velocity.AngularZ,
		"emergency_stop": report.EmergencyStop,
		"tick_overruns":  s.loop.Stats().Overruns,
		"clients":        s.server.Clients(),
	}
	distance, heading := s.controller.Tuning()
	payload["pid_distance"] = distance
	payload["pid_heading"] = heading
	if report.Mission != nil {
		payload["mission_id"] = report.Mission.ID
		payload["mission_type"] = report.Mission.Type
		payload["mission_progress"] = report.Mission.CompletionRatio
	}
	return payload, nil
}

func (s *system) handleEStop(types.IPCMessage) (map[string]interface{}, error) {
	s.softEStop.Store(true)
	s.logger.Error("Software emergency stop asserted over IPC")
	return map[string]interface{}{"emergency_stop": true}, nil
}

func (s *system) handleEStopReset(types.IPCMessage) (map[string]interface{}, error) {
	s.softEStop.Store(false)
	if err := s.controller.ResetEmergencyStop(); err != nil {
		return nil, err
	}
	return map[string]interface{}{"emergency_stop": false}, nil
}

func (s *system) handleHome(types.IPCMessage) (map[string]interface{}, error) {
	m, err := s.controller.Home()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"mission_id": m.ID}, nil
}

// applyConfig picks up the hot-reloadable subset of a changed configuration.
func (s *system) applyConfig(cfg config.SystemConfig) {
	logCfg := cfg.Logging
	if err := logging.GetManager().UpdateConfig(&logCfg); err != nil {
		s.logger.Warn("Failed to apply logging config", "error", err)
	}
	s.controller.Retune(cfg.Control.DistanceGains, cfg.Control.HeadingGains)
	s.logger.Info("Applied updated configuration")
}

func statusMessage(report types.StatusReport) types.IPCMessage {
	data := map[string]interface{}{
		"state":          report.State,
		"x":              report.Position.X,
		"y":              report.Position.Y,
		"yaw":            report.Position.Yaw,
		"linear_x":       report.Velocity.LinearX,
		"angular_z":      report.Velocity.AngularZ,
		"emergency_stop": report.EmergencyStop,
	}
	if report.Mission != nil {
		data["mission_id"] = report.Mission.ID
		data["mission_progress"] = report.Mission.CompletionRatio
	}
	return types.IPCMessage{
		Type:      "status_report",
		Source:    "armd",
		Data:      data,
		Timestamp: report.Timestamp,
	}
}

// serialSource pairs a serial reader with its snapshot store.
type serialSource struct {
	*sensor.SerialReader
	store *sensor.Store
}

func (s *serialSource) Latest() (types.SensorSnapshot, bool) {
	return s.store.Latest()
}

func stringField(data map[string]interface{}, key string) string {
	v, _ := data[key].(string)
	return v
}

func floatField(data map[string]interface{}, key string) float64 {
	v, _ := data[key].(float64)
	return v
}

func intField(data map[string]interface{}, key string, fallback int) int {
	if v, ok := data[key].(float64); ok {
		return int(v)
	}
	return fallback
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	sys, err := newSystem(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "armd: %v\n", err)
		os.Exit(1)
	}

	if err := sys.start(); err != nil {
		fmt.Fprintf(os.Stderr, "armd: %v\n", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sys.stop()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		fmt.Fprintln(os.Stderr, "armd: shutdown timeout, forcing exit")
		os.Exit(1)
	}
}

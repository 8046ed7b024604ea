// Command simulator is an exercising client for the arm control daemon: it
// connects over IPC and drives randomized mission traffic (navigation goals,
// arm moves, cancellations, the occasional emergency stop and reset) while
// printing the daemon's telemetry. Run armd with the sim/mock backends and
// point the simulator at it to soak the whole mission pipeline.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"armctl/internal/ipc"
	"armctl/internal/logging"
)

type simulator struct {
	client   *ipc.Client
	interval time.Duration
	rng      *rand.Rand
	logger   *logging.Logger

	mu       sync.Mutex
	missions []string // IDs of missions we have assigned
	stopped  bool     // we asserted an estop and have not reset yet
}

func newSimulator(addr string, interval time.Duration, seed int64) (*simulator, error) {
	client, err := ipc.Dial(addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &simulator{
		client:   client,
		interval: interval,
		rng:      rand.New(rand.NewSource(seed)),
		logger:   logging.GetLogger("simulator"),
	}, nil
}

func (s *simulator) run(ctx context.Context) {
	go s.printTelemetry(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.step()
		}
	}
}

func (s *simulator) printTelemetry(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.client.Notifications():
			if !ok {
				return
			}
			if msg.Type != "status_report" {
				continue
			}
			out, err := json.Marshal(msg.Data)
			if err != nil {
				continue
			}
			fmt.Println(string(out))
		}
	}
}

func (s *simulator) step() {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()

	if stopped {
		// An asserted estop blocks everything; clear it before continuing.
		s.reset()
		return
	}

	switch s.rng.Intn(10) {
	case 0, 1, 2:
		s.sendNavigation()
	case 3, 4:
		s.sendManipulation()
	case 5:
		s.sendHome()
	case 6:
		s.cancelRandomMission()
	case 7:
		s.assertEStop()
	default:
		s.queryStatus()
	}
}

func (s *simulator) sendNavigation() {
	resp, err := s.client.Request("mission_request", map[string]interface{}{
		"type":       "navigation",
		"x":          s.rng.Float64()*10 - 5,
		"y":          s.rng.Float64()*10 - 5,
		"priority":   float64(s.rng.Intn(3) + 1),
		"deadline_s": 30.0,
	})
	if err != nil {
		s.logger.Warn("Navigation request failed", "error", err)
		return
	}
	s.remember(resp.Data)
}

func (s *simulator) sendManipulation() {
	// Targets inside the arm's reachable shell.
	r := 0.25 + s.rng.Float64()*0.45
	theta := s.rng.Float64()*2 - 1
	resp, err := s.client.Request("mission_request", map[string]interface{}{
		"type":     "manipulation",
		"x":        r * 0.9,
		"y":        r * 0.3 * theta,
		"z":        0.2 + s.rng.Float64()*0.3,
		"yaw":      theta,
		"priority": float64(s.rng.Intn(3) + 1),
	})
	if err != nil {
		s.logger.Warn("Manipulation request failed", "error", err)
		return
	}
	s.remember(resp.Data)
}

func (s *simulator) sendHome() {
	if _, err := s.client.Request("home", nil); err != nil {
		s.logger.Warn("Home request failed", "error", err)
	}
}

func (s *simulator) cancelRandomMission() {
	s.mu.Lock()
	if len(s.missions) == 0 {
		s.mu.Unlock()
		return
	}
	idx := s.rng.Intn(len(s.missions))
	id := s.missions[idx]
	s.missions = append(s.missions[:idx], s.missions[idx+1:]...)
	s.mu.Unlock()

	// Terminal-state misses are expected; the daemon may have finished it.
	if _, err := s.client.Request("mission_cancel", map[string]interface{}{"mission_id": id}); err != nil {
		s.logger.Info("Cancel rejected", "mission_id", id, "error", err)
	}
}

func (s *simulator) assertEStop() {
	if _, err := s.client.Request("estop", nil); err != nil {
		s.logger.Warn("EStop request failed", "error", err)
		return
	}
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.logger.Info("Emergency stop asserted")
}

func (s *simulator) reset() {
	if _, err := s.client.Request("estop_reset", nil); err != nil {
		s.logger.Warn("EStop reset failed", "error", err)
		return
	}
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()
	s.logger.Info("Emergency stop cleared")
}

func (s *simulator) queryStatus() {
	resp, err := s.client.Request("status", nil)
	if err != nil {
		s.logger.Warn("Status request failed", "error", err)
		return
	}
	s.logger.Info("Status", "state", resp.Data["state"], "emergency_stop", resp.Data["emergency_stop"])
}

func (s *simulator) remember(data map[string]interface{}) {
	id, _ := data["mission_id"].(string)
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missions = append(s.missions, id)
	if len(s.missions) > 32 {
		s.missions = s.missions[1:]
	}
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8420", "daemon address")
	interval := flag.Duration("interval", 2*time.Second, "time between simulated actions")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	sim, err := newSimulator(*addr, *interval, *seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simulator: %v\n", err)
		os.Exit(1)
	}
	defer sim.client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	sim.run(ctx)
}

package sensor

import (
	"context"
	"math"
	"sync"
	"time"

	"armctl/pkg/types"
)

// SimSource generates deterministic synthetic IMU/encoder frames at a fixed
// rate. Used by the simulator binary and by tests that need a live source
// without hardware.
type SimSource struct {
	store    *Store
	interval time.Duration
	joints   int

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	tick    uint64
}

// NewSimSource builds a source publishing every interval for the given
// joint count.
func NewSimSource(interval time.Duration, joints int) *SimSource {
	return &SimSource{
		store:    NewStore(),
		interval: interval,
		joints:   joints,
	}
}

// Latest implements Source.
func (s *SimSource) Latest() (types.SensorSnapshot, bool) {
	return s.store.Latest()
}

// Start begins publishing frames until the context is cancelled.
func (s *SimSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.run(runCtx)
	return nil
}

// Stop halts publication.
func (s *SimSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *SimSource) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.tick++
			n := s.tick
			s.mu.Unlock()
			s.store.Publish(s.frame(n))
		}
	}
}

// frame synthesizes a level, stationary robot with a gentle sinusoidal sway
// so the fusion path sees non-constant input.
func (s *SimSource) frame(tick uint64) types.SensorSnapshot {
	phase := float64(tick) * 0.01
	snap := types.SensorSnapshot{
		Timestamp:   time.Now(),
		Accel:       [3]float64{0.02 * math.Sin(phase), 0.02 * math.Cos(phase), 9.81},
		Gyro:        [3]float64{0, 0, 0},
		JointAngles: make([]float64, s.joints),
		Ranges:      []float64{5.0, 5.0},
	}
	return snap
}

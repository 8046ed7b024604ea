package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"armctl/internal/logging"
)

// Loop drives the controller at a fixed rate from a single goroutine. Tick
// timing is measured against the tick budget; ticks that run long are
// flagged early, at 80% of the budget, so overload shows up in the logs
// before deadlines are actually missed.
type Loop struct {
	interval   time.Duration
	controller *Controller
	perf       *PerfMonitor
	logger     *logging.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLoop builds a loop around the controller at the configured tick
// interval.
func NewLoop(controller *Controller) *Loop {
	return &Loop{
		interval:   controller.config.TickInterval,
		controller: controller,
		perf:       NewPerfMonitor(controller.config.TickInterval),
		logger:     logging.GetLogger("control_loop"),
	}
}

// Start launches the loop goroutine.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return fmt.Errorf("control loop is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true

	l.wg.Add(1)
	go l.run(runCtx)

	l.logger.Info("Control loop started", "interval", l.interval.String())
	return nil
}

// Stop halts the loop and waits for the in-flight tick to finish.
func (l *Loop) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return fmt.Errorf("control loop is not running")
	}
	l.cancel()
	l.running = false
	l.mu.Unlock()

	l.wg.Wait()
	l.logger.Info("Control loop stopped")
	return nil
}

// Stats returns loop timing statistics.
func (l *Loop) Stats() TickStats {
	return l.perf.Stats()
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	dt := l.interval.Seconds()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			started := time.Now()
			if err := l.controller.Tick(now, dt); err != nil {
				l.logger.Warn("Control tick fault", "error", err)
			}
			if overrun := l.perf.Record(time.Since(started)); overrun {
				l.logger.Warn("Control tick near budget", "elapsed", time.Since(started).String(), "budget", l.interval.String())
			}
		}
	}
}

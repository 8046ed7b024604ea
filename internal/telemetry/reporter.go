// Package telemetry emits periodic status reports to connected operator
// clients.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"armctl/internal/logging"
	"armctl/pkg/types"
)

// Source produces the report for the current instant.
type Source func() types.StatusReport

// Sink consumes published reports, typically the IPC broadcast.
type Sink func(types.StatusReport) error

// Reporter samples the source at a fixed interval and forwards reports
// through a bounded queue to the sink. When the sink falls behind, the
// oldest queued report is dropped first: operators always see the freshest
// state.
type Reporter struct {
	interval time.Duration
	source   Source
	sink     Sink
	queue    chan types.StatusReport
	logger   *logging.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	dropped uint64
}

// NewReporter builds a reporter publishing every interval with the given
// queue capacity.
func NewReporter(interval time.Duration, queueSize int, source Source, sink Sink) *Reporter {
	if interval <= 0 {
		interval = time.Second
	}
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Reporter{
		interval: interval,
		source:   source,
		sink:     sink,
		queue:    make(chan types.StatusReport, queueSize),
		logger:   logging.GetLogger("telemetry"),
	}
}

func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("telemetry reporter is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(2)
	go r.sample(runCtx)
	go r.publish(runCtx)

	r.logger.Info("Telemetry reporter started", "interval", r.interval.String())
	return nil
}

func (r *Reporter) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return fmt.Errorf("telemetry reporter is not running")
	}
	r.cancel()
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

// Dropped returns how many reports were discarded due to backpressure.
func (r *Reporter) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Reporter) sample(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.enqueue(r.source())
		}
	}
}

func (r *Reporter) enqueue(report types.StatusReport) {
	for {
		select {
		case r.queue <- report:
			return
		default:
		}
		// Queue full: discard the oldest report and retry.
		select {
		case <-r.queue:
			r.mu.Lock()
			r.dropped++
			r.mu.Unlock()
		default:
		}
	}
}

func (r *Reporter) publish(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case report := <-r.queue:
			if err := r.sink(report); err != nil {
				r.logger.Warn("Failed to publish status report", "error", err)
			}
		}
	}
}

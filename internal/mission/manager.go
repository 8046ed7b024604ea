// Package mission tracks the lifecycle of robot missions: assignment into
// per-priority queues, activation of exactly one mission at a time, progress
// accounting, deadline enforcement and cancellation.
package mission

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"armctl/internal/logging"
	"armctl/pkg/types"
)

// DefaultDeadline applies when a request carries none.
const DefaultDeadline = 5 * time.Minute

// Manager owns mission state. It runs no goroutine of its own: the motion
// controller drives it once per tick via Next and Expire, so mission
// transitions are serialized with motion decisions.
type Manager struct {
	logger *logging.Logger

	emergency *queue
	high      *queue
	medium    *queue
	low       *queue

	mu      sync.RWMutex
	active  *types.Mission
	history []*types.Mission
}

// historyLimit bounds retained terminated missions.
const historyLimit = 32

func NewManager() *Manager {
	return &Manager{
		logger:    logging.GetLogger("mission"),
		emergency: newQueue(),
		high:      newQueue(),
		medium:    newQueue(),
		low:       newQueue(),
	}
}

// Assign validates a request, creates a pending mission and enqueues it by
// priority. The mission starts on a later tick when no other is active.
func (m *Manager) Assign(req types.MissionRequest) (*types.Mission, error) {
	mtype, err := types.ParseMissionType(req.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to assign mission: %w", err)
	}

	deadline := req.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}

	mission := &types.Mission{
		ID:        uuid.New().String(),
		Type:      mtype,
		Target:    req.Target,
		Priority:  req.Priority,
		Deadline:  time.Now().Add(deadline),
		Status:    types.MissionPending,
		CreatedAt: time.Now(),
	}

	switch req.Priority {
	case types.PriorityEmergency:
		m.emergency.push(mission)
	case types.PriorityHigh:
		m.high.push(mission)
	case types.PriorityLow:
		m.low.push(mission)
	default:
		m.medium.push(mission)
	}

	m.logger.Info("Mission assigned", "mission_id", mission.ID, "type", mission.Type.String(), "priority", int(mission.Priority))
	return mission, nil
}

// Next returns the active mission, activating the highest-priority pending
// mission first when none is active. Returns nil when there is nothing to do.
func (m *Manager) Next() *types.Mission {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return m.active
	}

	next := m.emergency.pop()
	if next == nil {
		next = m.high.pop()
	}
	if next == nil {
		next = m.medium.pop()
	}
	if next == nil {
		next = m.low.pop()
	}
	if next == nil {
		return nil
	}

	now := time.Now()
	next.Status = types.MissionActive
	next.StartedAt = &now
	m.active = next
	m.logger.Info("Mission started", "mission_id", next.ID, "type", next.Type.String())
	return next
}

// Active returns the currently active mission, or nil.
func (m *Manager) Active() *types.Mission {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// UpdateProgress records completion as 1 - remaining/initial, clamped to
// [0, 1]. initial is the distance when the mission started.
func (m *Manager) UpdateProgress(remaining, initial float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return
	}

	ratio := 1.0
	if initial > 0 {
		ratio = 1.0 - remaining/initial
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	m.active.CompletionRatio = ratio
}

// Expire force-completes the active mission when its deadline has elapsed.
// The returned mission (nil when none expired) carries MissionFailed status
// and an ErrMissionTimeout-derived error string.
func (m *Manager) Expire(now time.Time) *types.Mission {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || now.Before(m.active.Deadline) {
		return nil
	}

	expired := m.active
	m.finishLocked(expired, types.MissionFailed, types.ErrMissionTimeout.Error())
	m.logger.Warn("Mission deadline exceeded", "mission_id", expired.ID, "completion", expired.CompletionRatio)
	return expired
}

// Complete marks the active mission successfully finished.
func (m *Manager) Complete() *types.Mission {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil
	}
	done := m.active
	done.CompletionRatio = 1.0
	m.finishLocked(done, types.MissionCompleted, "")
	m.logger.Info("Mission completed", "mission_id", done.ID)
	return done
}

// Fail marks the active mission failed with the given cause.
func (m *Manager) Fail(cause error) *types.Mission {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil
	}
	failed := m.active
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	m.finishLocked(failed, types.MissionFailed, msg)
	m.logger.Warn("Mission failed", "mission_id", failed.ID, "error", msg)
	return failed
}

// Cancel terminates the identified mission. A pending mission is discarded
// from its queue; the active mission is marked cancelled and cleared so the
// next control tick observes no mission and stops commanding motion.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	if m.active != nil && m.active.ID == id {
		cancelled := m.active
		m.finishLocked(cancelled, types.MissionCancelled, "")
		m.mu.Unlock()
		m.logger.Info("Active mission cancelled", "mission_id", id)
		return nil
	}
	m.mu.Unlock()

	for _, q := range []*queue{m.emergency, m.high, m.medium, m.low} {
		if cancelled := q.remove(id); cancelled != nil {
			now := time.Now()
			cancelled.Status = types.MissionCancelled
			cancelled.CompletedAt = &now
			m.recordHistory(cancelled)
			m.logger.Info("Pending mission cancelled", "mission_id", id)
			return nil
		}
	}

	return fmt.Errorf("mission %s not found", id)
}

// Pending returns the number of queued missions across all priorities.
func (m *Manager) Pending() int {
	return m.emergency.size() + m.high.size() + m.medium.size() + m.low.size()
}

// History returns terminated missions, oldest first.
func (m *Manager) History() []*types.Mission {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Mission, len(m.history))
	copy(out, m.history)
	return out
}

// Brief summarizes the active mission for telemetry, or nil.
func (m *Manager) Brief() *types.MissionBrief {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.active == nil {
		return nil
	}
	return &types.MissionBrief{
		ID:              m.active.ID,
		Type:            m.active.Type.String(),
		Status:          m.active.Status.String(),
		CompletionRatio: m.active.CompletionRatio,
	}
}

func (m *Manager) finishLocked(mission *types.Mission, status types.MissionStatus, errMsg string) {
	now := time.Now()
	mission.Status = status
	mission.Error = errMsg
	mission.CompletedAt = &now
	m.active = nil
	m.appendHistoryLocked(mission)
}

func (m *Manager) recordHistory(mission *types.Mission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendHistoryLocked(mission)
}

func (m *Manager) appendHistoryLocked(mission *types.Mission) {
	m.history = append(m.history, mission)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
}

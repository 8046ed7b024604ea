// Package sensor implements the sensor acquisition layer: an immutable
// snapshot type published through a lock-free double buffer, a serial frame
// reader for the IMU/encoder bridge, and a deterministic synthetic source
// for the simulator and tests.
package sensor

import (
	"sync/atomic"
	"time"

	"armctl/pkg/types"
)

// Source is anything the motion controller can poll for the latest sensor
// snapshot. Latest never blocks; ok is false until the first publication.
type Source interface {
	Latest() (snap types.SensorSnapshot, ok bool)
}

// Store publishes snapshots through an atomic pointer swap: the acquisition
// goroutine writes fresh snapshots while the control tick reads the most
// recent one without locks, so neither side ever waits on the other.
type Store struct {
	current atomic.Pointer[types.SensorSnapshot]
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Publish makes snap the snapshot returned by subsequent Latest calls. The
// caller must not mutate snap after publishing.
func (s *Store) Publish(snap types.SensorSnapshot) {
	s.current.Store(&snap)
}

// Latest returns the most recently published snapshot.
func (s *Store) Latest() (types.SensorSnapshot, bool) {
	p := s.current.Load()
	if p == nil {
		return types.SensorSnapshot{}, false
	}
	return *p, true
}

// Stale reports whether snap is older than the timeout relative to now.
func Stale(snap types.SensorSnapshot, now time.Time, timeout time.Duration) bool {
	return now.Sub(snap.Timestamp) > timeout
}

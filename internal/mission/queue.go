package mission

import (
	"sync"

	"armctl/pkg/types"
)

// queue is a FIFO of pending missions for one priority band.
type queue struct {
	lock     sync.Mutex
	missions []*types.Mission
}

func newQueue() *queue {
	return &queue{missions: make([]*types.Mission, 0)}
}

func (q *queue) push(m *types.Mission) {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.missions = append(q.missions, m)
}

// pop returns nil when the queue is empty. Non-blocking: the manager is
// driven by the control tick, not by its own goroutine.
func (q *queue) pop() *types.Mission {
	q.lock.Lock()
	defer q.lock.Unlock()

	if len(q.missions) == 0 {
		return nil
	}
	m := q.missions[0]
	q.missions = q.missions[1:]
	return m
}

func (q *queue) remove(id string) *types.Mission {
	q.lock.Lock()
	defer q.lock.Unlock()

	for i, m := range q.missions {
		if m.ID == id {
			q.missions = append(q.missions[:i], q.missions[i+1:]...)
			return m
		}
	}
	return nil
}

func (q *queue) size() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.missions)
}

package taskmanager

import (
	"context"

	"github.com/harrison/taskpilot/internal/models"
)

// The queue holds ids of pending or paused tasks waiting for the slot.
// Every helper here must be called with m.mu held.

// enqueue inserts id after every queued task of equal or higher priority
// (lower number), so equal priorities stay FIFO.
func (m *Manager) enqueue(id string) {
	prio := m.tasks[id].Priority
	pos := len(m.queue)
	for i, qid := range m.queue {
		if q, ok := m.tasks[qid]; ok && q.Priority > prio {
			pos = i
			break
		}
	}
	m.queue = append(m.queue, "")
	copy(m.queue[pos+1:], m.queue[pos:])
	m.queue[pos] = id
}

func (m *Manager) dequeue(id string) {
	for i, qid := range m.queue {
		if qid == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

func (m *Manager) queued(id string) bool {
	return m.queuePosition(id) >= 0
}

func (m *Manager) queuePosition(id string) int {
	for i, qid := range m.queue {
		if qid == id {
			return i
		}
	}
	return -1
}

// release drops id from the queue and, if it held the slot, activates the
// next queued task that is still pending or paused.
func (m *Manager) release(ctx context.Context, id string) {
	m.dequeue(id)
	if m.active == id {
		m.active = ""
		m.activateNext(ctx)
	}
	m.syncQueue(ctx)
}

func (m *Manager) activateNext(ctx context.Context) {
	for len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		t, ok := m.tasks[next]
		if !ok {
			continue
		}
		if t.Status == models.TaskPending || t.Status == models.TaskPaused {
			m.activate(ctx, t)
			return
		}
	}
}

// syncQueue stores every queued task's position so Restore can rebuild the
// queue in the same order.
func (m *Manager) syncQueue(ctx context.Context) {
	for i, id := range m.queue {
		t, ok := m.tasks[id]
		if !ok || t.QueuePosition == i+1 {
			continue
		}
		t.QueuePosition = i + 1
		m.persist(ctx, t)
	}
}

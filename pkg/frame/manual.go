package frame

import (
	"sync"
	"time"
)

// Manual is a Scheduler driven explicitly by the caller. Hosts that own their
// own render loop call Step once per paint; tests use it to simulate frames
// with a fixed dt.
type Manual struct {
	queue

	clockMu sync.Mutex
	now     time.Time
}

// NewManual returns a Manual scheduler whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{queue: newQueue(), now: start}
}

// RequestFrame implements Scheduler.
func (m *Manual) RequestFrame(cb Callback) Handle {
	return m.add(cb)
}

// CancelFrame implements Scheduler.
func (m *Manual) CancelFrame(h Handle) {
	m.cancel(h)
}

// Now returns the current frame clock.
func (m *Manual) Now() time.Time {
	m.clockMu.Lock()
	defer m.clockMu.Unlock()
	return m.now
}

// Pending returns the number of callbacks waiting for the next frame.
func (m *Manual) Pending() int {
	return m.size()
}

// Step advances the clock by d and runs one frame. It returns how many
// callbacks ran.
func (m *Manual) Step(d time.Duration) int {
	m.clockMu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	m.clockMu.Unlock()

	batch := m.take()
	for _, cb := range batch {
		cb(now)
	}
	return len(batch)
}

// RunUntilIdle steps frames of length d until nothing is pending or max
// frames have run. It returns the number of frames stepped.
func (m *Manual) RunUntilIdle(d time.Duration, max int) int {
	frames := 0
	for frames < max && m.Pending() > 0 {
		m.Step(d)
		frames++
	}
	return frames
}

// Close drops every outstanding callback and refuses new ones.
func (m *Manual) Close() {
	m.close()
}

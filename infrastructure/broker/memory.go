package broker

import (
	"context"
	"sync"

	appErrors "proofcanvas/pkg/errors"
)

// Memory is an in-process broker for a single relay instance
type Memory struct {
	mu     sync.RWMutex
	rooms  map[string]map[uint64]func([]byte)
	nextID uint64
	closed bool
}

// NewMemory creates an empty in-process broker
func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]map[uint64]func([]byte))}
}

// Publish delivers data to every subscriber of room on the caller's goroutine
func (m *Memory) Publish(ctx context.Context, room string, data []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return appErrors.NewClosedError("broker")
	}
	handlers := make([]func([]byte), 0, len(m.rooms[room]))
	for _, h := range m.rooms[room] {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

// Subscribe registers handler for room
func (m *Memory) Subscribe(ctx context.Context, room string, handler func([]byte)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, appErrors.NewClosedError("broker")
	}

	m.nextID++
	id := m.nextID
	if m.rooms[room] == nil {
		m.rooms[room] = make(map[uint64]func([]byte))
	}
	m.rooms[room][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.rooms[room], id)
			if len(m.rooms[room]) == 0 {
				delete(m.rooms, room)
			}
		})
	}, nil
}

// Subscribers returns how many handlers listen on room
func (m *Memory) Subscribers(room string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[room])
}

// Close drops every subscription
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.rooms = make(map[string]map[uint64]func([]byte))
	return nil
}

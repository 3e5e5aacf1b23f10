package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"proofcanvas/application/ports"
	appErrors "proofcanvas/pkg/errors"
)

// Memory keeps connection records for a single relay instance
type Memory struct {
	mu      sync.RWMutex
	records map[string]ports.ConnectionRecord
	now     func() time.Time
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{records: make(map[string]ports.ConnectionRecord), now: time.Now}
}

// Put records or refreshes a connection
func (m *Memory) Put(ctx context.Context, record ports.ConnectionRecord) error {
	if record.ConnectionID == "" {
		return appErrors.NewValidationError("connection id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ConnectionID] = record
	return nil
}

// Delete removes a connection
func (m *Memory) Delete(ctx context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, connectionID)
	return nil
}

// ListByProblem returns the live connections of one room, oldest first
func (m *Memory) ListByProblem(ctx context.Context, problemID string) ([]ports.ConnectionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ports.ConnectionRecord
	now := m.now().Unix()
	for _, r := range m.records {
		if r.ProblemID == problemID && !expired(r, now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out, nil
}

// CountByUser returns how many live connections a user holds
func (m *Memory) CountByUser(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	now := m.now().Unix()
	for _, r := range m.records {
		if r.UserID == userID && !expired(r, now) {
			n++
		}
	}
	return n, nil
}

func expired(r ports.ConnectionRecord, now int64) bool {
	return r.ExpiresAt != 0 && r.ExpiresAt <= now
}

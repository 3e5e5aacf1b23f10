package ports

import (
	"context"
	"time"

	"proofcanvas/domain/canvas"
)

// Persister saves committed canvas state. The host supplies it; calls are
// serialized through the session's task queue.
type Persister interface {
	// SaveSnapshot persists the full state of a workspace
	SaveSnapshot(ctx context.Context, problemID string, snapshot canvas.Snapshot) error
}

// PersisterFunc adapts a function to Persister
type PersisterFunc func(ctx context.Context, problemID string, snapshot canvas.Snapshot) error

// SaveSnapshot implements Persister
func (f PersisterFunc) SaveSnapshot(ctx context.Context, problemID string, snapshot canvas.Snapshot) error {
	return f(ctx, problemID, snapshot)
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event canvas.DomainEvent) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, events []canvas.DomainEvent) error
}

// Broker fans raw envelopes out to every relay instance serving a room
type Broker interface {
	// Publish sends data to every subscriber of room
	Publish(ctx context.Context, room string, data []byte) error

	// Subscribe delivers messages published to room until the returned
	// cancel function is called
	Subscribe(ctx context.Context, room string, handler func(data []byte)) (cancel func(), err error)

	// Close releases the broker's resources
	Close() error
}

// ConnectionRecord is one open relay connection
type ConnectionRecord struct {
	ConnectionID string    `dynamodbav:"connection_id" json:"connection_id"`
	UserID       string    `dynamodbav:"user_id" json:"user_id"`
	ProblemID    string    `dynamodbav:"problem_id" json:"problem_id"`
	Instance     string    `dynamodbav:"instance" json:"instance"`
	ConnectedAt  time.Time `dynamodbav:"connected_at" json:"connected_at"`
	ExpiresAt    int64     `dynamodbav:"ttl" json:"ttl"`
}

// PresenceStore tracks open connections across relay instances
type PresenceStore interface {
	// Put records or refreshes a connection
	Put(ctx context.Context, record ConnectionRecord) error

	// Delete removes a connection
	Delete(ctx context.Context, connectionID string) error

	// ListByProblem returns the connections of one room
	ListByProblem(ctx context.Context, problemID string) ([]ConnectionRecord, error)

	// CountByUser returns how many connections a user holds
	CountByUser(ctx context.Context, userID string) (int, error)
}

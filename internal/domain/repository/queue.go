package repository

import (
	"context"

	"github.com/google/uuid"
)

// ProbeTask asks a worker to resolve media detail for a newly added source.
type ProbeTask struct {
	URI        string    `json:"uri"`
	OwnerID    uuid.UUID `json:"owner_id"`
	RetryCount int       `json:"retry_count"`
}

// MessageQueue defines the interface for message queue operations.
// Implementations should be provided by the infrastructure layer (e.g., RabbitMQ).
type MessageQueue interface {
	// PublishProbeTask sends a probe task to the worker queue.
	PublishProbeTask(ctx context.Context, task ProbeTask) error

	// ConsumeProbeTasks consumes probe tasks until ctx is cancelled.
	ConsumeProbeTasks(ctx context.Context, handler func(task ProbeTask) error) error

	// Close gracefully closes the connection to the message queue.
	Close() error
}

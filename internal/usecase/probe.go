package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
)

// DetailResolver resolves media detail for a URI on behalf of its owner.
type DetailResolver interface {
	GetMediaDetail(ctx context.Context, uri string, owner uuid.UUID) (*model.MediaDetail, error)
}

var _ DetailResolver = (*DetailCoordinator)(nil)

// ProbeService handles probe tasks taken off the message queue.
type ProbeService struct {
	details DetailResolver
	sink    repository.StatusSink
	now     func() time.Time
}

// NewProbeService creates a ProbeService. sink receives an ONLINE event for
// every source that resolves and may be nil.
func NewProbeService(details DetailResolver, sink repository.StatusSink) *ProbeService {
	return &ProbeService{
		details: details,
		sink:    sink,
		now:     time.Now,
	}
}

// ProcessTask resolves the detail of task.URI.
// Returns nil on success and on failures describing the media itself, which
// the resolver has already reported to the owner. Returns an error for
// transient failures that should be retried.
func (s *ProbeService) ProcessTask(ctx context.Context, task repository.ProbeTask) error {
	detail, err := s.details.GetMediaDetail(ctx, task.URI, task.OwnerID)
	if err != nil {
		if status, ok := model.StatusForError(err); ok {
			metrics.ProbeTasksTotal.WithLabelValues(metrics.ResultError).Inc()
			slog.Info("probe found unusable media",
				"uri", task.URI,
				"owner_id", task.OwnerID,
				"status", status,
				"error", err,
			)
			return nil
		}
		metrics.ProbeTasksTotal.WithLabelValues(metrics.ResultError).Inc()
		return fmt.Errorf("resolve detail: %w", err)
	}
	metrics.ProbeTasksTotal.WithLabelValues(metrics.ResultSuccess).Inc()

	slog.Info("probe resolved media",
		"uri", task.URI,
		"reader", detail.Reader,
		"duration", detail.Duration,
		"streams", len(detail.Streams),
	)

	if s.sink == nil || task.OwnerID == uuid.Nil {
		return nil
	}
	event := model.StatusEvent{
		OwnerID:    task.OwnerID,
		URI:        task.URI,
		Status:     model.StatusOnline,
		OccurredAt: s.now(),
	}
	if err := s.sink.NotifyStatus(ctx, event); err != nil {
		// The detail is already cached; a retry would only repeat the notification.
		slog.Warn("failed to notify media status",
			"owner_id", task.OwnerID,
			"uri", task.URI,
			"status", model.StatusOnline,
			"error", err,
		)
	}
	return nil
}

package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
)

// MultiStatusSink fans a status event out to every sink.
type MultiStatusSink []repository.StatusSink

var _ repository.StatusSink = MultiStatusSink(nil)

func (m MultiStatusSink) NotifyStatus(ctx context.Context, event model.StatusEvent) error {
	var errs []error
	for _, sink := range m {
		if err := sink.NotifyStatus(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StatusNotifier reports media failures to the entity that owns the media.
// Notifications are best-effort and run in the background.
type StatusNotifier struct {
	sink    repository.StatusSink
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewStatusNotifier creates a new StatusNotifier. A nil sink drops every
// notification.
func NewStatusNotifier(sink repository.StatusSink, timeout time.Duration) *StatusNotifier {
	return &StatusNotifier{
		sink:    sink,
		timeout: timeout,
		now:     time.Now,
	}
}

// Notify reports err for uri to owner. Errors that do not describe the media
// itself, like timeouts or shutdown, are not reported.
func (n *StatusNotifier) Notify(owner uuid.UUID, uri string, err error) {
	if n == nil || n.sink == nil || owner == uuid.Nil {
		return
	}
	status, ok := model.StatusForError(err)
	if !ok {
		return
	}

	event := model.StatusEvent{
		OwnerID:    owner,
		URI:        uri,
		Status:     status,
		Message:    model.ErrorText(err),
		OccurredAt: n.now(),
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		if err := n.sink.NotifyStatus(ctx, event); err != nil {
			metrics.StatusNotificationsTotal.WithLabelValues(status.String(), metrics.ResultError).Inc()
			slog.Warn("failed to notify media status",
				"owner_id", owner,
				"uri", uri,
				"status", status,
				"error", err,
			)
			return
		}
		metrics.StatusNotificationsTotal.WithLabelValues(status.String(), metrics.ResultSuccess).Inc()
	}()
}

// FrameError reports a failure to read frame. It matches the reader's
// error hook.
func (n *StatusNotifier) FrameError(frame model.FrameIdentity, err error) {
	n.Notify(frame.OwnerID, frame.URI, err)
}

// Wait blocks until every notification in flight has finished.
func (n *StatusNotifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

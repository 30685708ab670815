package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/model"
)

// StatusSink receives status notifications for media source owners.
type StatusSink interface {
	NotifyStatus(ctx context.Context, event model.StatusEvent) error
}

// StatusRepository persists the latest status per owner.
type StatusRepository interface {
	StatusSink

	// GetByOwner returns the latest status recorded for ownerID.
	// Returns ErrStatusNotFound when nothing was recorded.
	GetByOwner(ctx context.Context, ownerID uuid.UUID) (*model.StatusEvent, error)
}

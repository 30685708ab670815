package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
)

const schema = `
	CREATE TABLE IF NOT EXISTS media_status (
		owner_id    UUID PRIMARY KEY,
		uri         TEXT NOT NULL,
		status      TEXT NOT NULL,
		message     TEXT,
		occurred_at TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)
`

// StatusRepository implements repository.StatusRepository using PostgreSQL.
// Each owner keeps only its most recent status.
type StatusRepository struct {
	db  DBTX
	now func() time.Time
}

// NewStatusRepository creates a new StatusRepository instance.
func NewStatusRepository(db DBTX) *StatusRepository {
	return &StatusRepository{db: db, now: time.Now}
}

// NotifyStatus records event as the owner's current status. An event older
// than the stored one is ignored.
func (r *StatusRepository) NotifyStatus(ctx context.Context, event model.StatusEvent) error {
	const query = `
		INSERT INTO media_status (owner_id, uri, status, message, occurred_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner_id) DO UPDATE
		SET uri = EXCLUDED.uri,
			status = EXCLUDED.status,
			message = EXCLUDED.message,
			occurred_at = EXCLUDED.occurred_at,
			updated_at = EXCLUDED.updated_at
		WHERE media_status.occurred_at <= EXCLUDED.occurred_at
	`

	if !event.Status.IsValid() {
		return fmt.Errorf("invalid media status %q", event.Status)
	}

	metrics.DBQueriesTotal.WithLabelValues(metrics.DBQueryUpsert, metrics.TableMediaStatus).Inc()

	_, err := r.db.Exec(ctx, query,
		event.OwnerID,
		event.URI,
		event.Status.String(),
		nullString(event.Message),
		event.OccurredAt,
		r.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert media status: %w", err)
	}

	return nil
}

// GetByOwner retrieves the latest status recorded for ownerID.
func (r *StatusRepository) GetByOwner(ctx context.Context, ownerID uuid.UUID) (*model.StatusEvent, error) {
	const query = `
		SELECT owner_id, uri, status, message, occurred_at
		FROM media_status
		WHERE owner_id = $1
	`

	metrics.DBQueriesTotal.WithLabelValues(metrics.DBQuerySelect, metrics.TableMediaStatus).Inc()

	event, err := scanStatus(r.db.QueryRow(ctx, query, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrStatusNotFound
		}
		return nil, fmt.Errorf("failed to get media status: %w", err)
	}

	return event, nil
}

// ListByStatus returns up to limit owners currently in status, newest first.
func (r *StatusRepository) ListByStatus(ctx context.Context, status model.MediaStatus, limit int) ([]*model.StatusEvent, error) {
	const query = `
		SELECT owner_id, uri, status, message, occurred_at
		FROM media_status
		WHERE status = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	metrics.DBQueriesTotal.WithLabelValues(metrics.DBQuerySelect, metrics.TableMediaStatus).Inc()

	rows, err := r.db.Query(ctx, query, status.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query media status: %w", err)
	}
	defer rows.Close()

	var events []*model.StatusEvent
	for rows.Next() {
		event, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media status: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating media status: %w", err)
	}

	return events, nil
}

// scanStatus scans a single row into a StatusEvent. pgx.Rows satisfies
// pgx.Row, so it serves both query paths.
func scanStatus(row pgx.Row) (*model.StatusEvent, error) {
	var (
		event   model.StatusEvent
		status  string
		message *string
	)

	err := row.Scan(
		&event.OwnerID,
		&event.URI,
		&status,
		&message,
		&event.OccurredAt,
	)
	if err != nil {
		return nil, err
	}

	event.Status = model.MediaStatus(status)
	if message != nil {
		event.Message = *message
	}

	return &event, nil
}

// nullString returns nil for empty strings, otherwise returns a pointer to the string.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Compile-time verification that StatusRepository implements repository.StatusRepository.
var _ repository.StatusRepository = (*StatusRepository)(nil)

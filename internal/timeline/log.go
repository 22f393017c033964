// Package timeline is the append-only audit log of job state changes.
// Job.Status stays authoritative; the timeline only records how it got there.
package timeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tasklink/backend/internal/models"
)

// Store is the persistence the log needs. It has no update or delete.
type Store interface {
	AppendTx(ctx context.Context, tx pgx.Tx, e *models.TimelineEvent) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.TimelineEvent, error)
}

type Log struct {
	store Store
	now   func() time.Time
}

func NewLog(store Store) *Log {
	return &Log{store: store, now: time.Now}
}

// Entry describes one state change to record.
type Entry struct {
	JobID          uuid.UUID
	Actor          models.Actor
	Description    string
	PreviousStatus string
	NewStatus      string
}

// Record appends an entry in the caller's transaction, so the audit record
// commits or rolls back together with the state change it describes.
func (l *Log) Record(ctx context.Context, tx pgx.Tx, in Entry) (*models.TimelineEvent, error) {
	e := &models.TimelineEvent{
		ID:             uuid.New(),
		JobID:          in.JobID,
		ActorID:        in.Actor.ID,
		ActorName:      in.Actor.Name,
		Description:    in.Description,
		PreviousStatus: optional(in.PreviousStatus),
		NewStatus:      optional(in.NewStatus),
		CreatedAt:      l.now().UTC(),
	}
	if err := l.store.AppendTx(ctx, tx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// List returns the job's timeline in chronological order.
func (l *Log) List(ctx context.Context, jobID uuid.UUID) ([]*models.TimelineEvent, error) {
	return l.store.ListByJob(ctx, jobID)
}

// SetClock overrides the time source.
func (l *Log) SetClock(now func() time.Time) { l.now = now }

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

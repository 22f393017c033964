package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tasklink/backend/internal/events"
	"github.com/tasklink/backend/internal/models"
	"github.com/tasklink/backend/internal/timeline"
)

// Store is the job persistence used by the state machine.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, j *models.Job) error
	ListForUser(ctx context.Context, userID uuid.UUID, status string) ([]*models.Job, error)
}

// Recorder appends timeline entries.
type Recorder interface {
	Record(ctx context.Context, tx pgx.Tx, e timeline.Entry) (*models.TimelineEvent, error)
}

// Transitioner applies a single status change to a job the caller has
// already locked. It is shared by the Machine and the escrow controller
// (PENDING_PAYMENT to PAID), so every transition takes the same path.
type Transitioner struct {
	store    Store
	timeline Recorder
	events   events.Emitter
	now      func() time.Time
}

func NewTransitioner(store Store, rec Recorder, emitter events.Emitter) *Transitioner {
	return &Transitioner{store: store, timeline: rec, events: emitter, now: time.Now}
}

// SetClock replaces the time source. Tests only.
func (t *Transitioner) SetClock(now func() time.Time) { t.now = now }

// Apply moves job to status `to` inside tx: it stamps the matching
// timestamp, persists the row, appends a timeline entry and emits
// job.status_changed. job is updated in place.
func (t *Transitioner) Apply(ctx context.Context, tx pgx.Tx, job *models.Job, to string, actor models.Actor, description string) error {
	from := job.Status
	if !models.CanTransition(from, to) {
		return &models.TransitionError{Current: from, Requested: to}
	}
	now := t.now().UTC()
	switch to {
	case models.JobStatusInProgress:
		job.StartedAt = &now
	case models.JobStatusCompleted:
		job.FinishedAt = &now
	case models.JobStatusApproved:
		job.ApprovedAt = &now
	case models.JobStatusCancelled:
		job.CancelledAt = &now
	}
	job.Status = to

	if err := t.store.UpdateTx(ctx, tx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if _, err := t.timeline.Record(ctx, tx, timeline.Entry{
		JobID:          job.ID,
		Actor:          actor,
		Description:    description,
		PreviousStatus: from,
		NewStatus:      to,
	}); err != nil {
		return fmt.Errorf("record timeline: %w", err)
	}
	if err := t.events.Emit(ctx, tx, events.Event{
		Kind:           events.KindJobStatusChanged,
		JobID:          events.Ref(job.ID),
		ActorID:        actor.ID,
		Recipients:     []uuid.UUID{job.ClientID, job.ProfessionalID},
		PreviousStatus: from,
		NewStatus:      to,
		OccurredAt:     now,
	}); err != nil {
		return fmt.Errorf("emit status change: %w", err)
	}
	return nil
}

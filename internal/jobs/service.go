package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tasklink/backend/internal/models"
)

const (
	maxNotesLength = 4000
	maxImages      = 20
)

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Escrow moves money for the transitions that settle a job. Both run inside
// the transition's transaction.
type Escrow interface {
	ReleaseFunds(ctx context.Context, tx pgx.Tx, job *models.Job, actor models.Actor) (*models.Transaction, error)
	// RefundFunds returns nil, nil when nothing is held.
	RefundFunds(ctx context.Context, tx pgx.Tx, job *models.Job, actor models.Actor) (*models.Transaction, error)
}

// TimelineReader reads a job's audit log.
type TimelineReader interface {
	List(ctx context.Context, jobID uuid.UUID) ([]*models.TimelineEvent, error)
}

// Completion is what the professional submits with CompleteJob.
type Completion struct {
	Notes  string
	Images []string
}

type Service interface {
	StartJob(ctx context.Context, jobID uuid.UUID, actor models.Actor) (*models.Job, error)
	CompleteJob(ctx context.Context, jobID uuid.UUID, actor models.Actor, c Completion) (*models.Job, error)
	ApproveJob(ctx context.Context, jobID uuid.UUID, actor models.Actor, notes string) (*models.Job, error)
	CancelJob(ctx context.Context, jobID uuid.UUID, actor models.Actor, reason string) (*models.Job, error)
	GetJob(ctx context.Context, jobID uuid.UUID, actor models.Actor) (*models.Job, error)
	ListJobsForUser(ctx context.Context, actor models.Actor, status string) ([]*models.Job, error)
	GetTimeline(ctx context.Context, jobID uuid.UUID, actor models.Actor) ([]*models.TimelineEvent, error)
}

// Machine is the job state machine. Each operation locks the job row,
// checks the actor, checks the source status, applies the transition and
// commits; any failure rolls the whole operation back.
type Machine struct {
	db          TxBeginner
	store       Store
	transitions *Transitioner
	escrow      Escrow
	timeline    TimelineReader
	log         *slog.Logger
}

func NewMachine(db TxBeginner, store Store, transitions *Transitioner, escrow Escrow, timeline TimelineReader, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{db: db, store: store, transitions: transitions, escrow: escrow, timeline: timeline, log: log}
}

var _ Service = (*Machine)(nil)

type partyRule func(job *models.Job, actorID uuid.UUID) bool

func professionalOnly(job *models.Job, actorID uuid.UUID) bool { return job.ProfessionalID == actorID }
func clientOnly(job *models.Job, actorID uuid.UUID) bool       { return job.ClientID == actorID }
func eitherParty(job *models.Job, actorID uuid.UUID) bool      { return job.IsParty(actorID) }

// step is one transition request. prepare runs after the permission and
// status checks and before the status is written; settle runs after.
type step struct {
	to          string
	allowed     partyRule
	description string
	prepare     func(job *models.Job)
	settle      func(ctx context.Context, tx pgx.Tx, job *models.Job) error
}

func (m *Machine) run(ctx context.Context, jobID uuid.UUID, actor models.Actor, s step) (*models.Job, error) {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	job, err := m.store.GetByIDForUpdate(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if !s.allowed(job, actor.ID) {
		return nil, fmt.Errorf("%w: actor may not move job to %s", models.ErrPermissionDenied, s.to)
	}
	if !models.CanTransition(job.Status, s.to) {
		return nil, &models.TransitionError{Current: job.Status, Requested: s.to}
	}
	if s.prepare != nil {
		s.prepare(job)
	}
	if err := m.transitions.Apply(ctx, tx, job, s.to, actor, s.description); err != nil {
		return nil, err
	}
	if s.settle != nil {
		if err := s.settle(ctx, tx, job); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return job, nil
}

func (m *Machine) StartJob(ctx context.Context, jobID uuid.UUID, actor models.Actor) (*models.Job, error) {
	return m.run(ctx, jobID, actor, step{
		to:          models.JobStatusInProgress,
		allowed:     professionalOnly,
		description: "Professional started the job",
	})
}

func (m *Machine) CompleteJob(ctx context.Context, jobID uuid.UUID, actor models.Actor, c Completion) (*models.Job, error) {
	notes := strings.TrimSpace(c.Notes)
	if len(notes) > maxNotesLength {
		return nil, models.Validationf("notes exceed %d characters", maxNotesLength)
	}
	images, err := normalizeImages(c.Images)
	if err != nil {
		return nil, err
	}
	desc := "Professional marked the job as completed"
	if n := len(images); n > 0 {
		desc = fmt.Sprintf("%s with %d image(s)", desc, n)
	}
	return m.run(ctx, jobID, actor, step{
		to:          models.JobStatusCompleted,
		allowed:     professionalOnly,
		description: desc,
		prepare: func(job *models.Job) {
			if notes != "" {
				job.ProfessionalNotes = &notes
			}
			job.Images = images
		},
	})
}

// ApproveJob closes the job and releases the held funds to the professional
// in the same transaction.
func (m *Machine) ApproveJob(ctx context.Context, jobID uuid.UUID, actor models.Actor, notes string) (*models.Job, error) {
	notes = strings.TrimSpace(notes)
	if len(notes) > maxNotesLength {
		return nil, models.Validationf("notes exceed %d characters", maxNotesLength)
	}
	return m.run(ctx, jobID, actor, step{
		to:          models.JobStatusApproved,
		allowed:     clientOnly,
		description: "Client approved the job; escrow released to the professional",
		prepare: func(job *models.Job) {
			if notes != "" {
				job.ClientNotes = &notes
			}
		},
		settle: func(ctx context.Context, tx pgx.Tx, job *models.Job) error {
			if _, err := m.escrow.ReleaseFunds(ctx, tx, job, actor); err != nil {
				if errors.Is(err, models.ErrLedgerInconsistency) {
					m.log.Error("release failed on approval", "job_id", job.ID, "error", err)
				}
				return fmt.Errorf("release funds: %w", err)
			}
			return nil
		},
	})
}

// CancelJob cancels a non-terminal job. Held funds are refunded in full.
func (m *Machine) CancelJob(ctx context.Context, jobID uuid.UUID, actor models.Actor, reason string) (*models.Job, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxNotesLength {
		return nil, models.Validationf("reason exceeds %d characters", maxNotesLength)
	}
	desc := "Job cancelled by " + actor.Name
	if reason != "" {
		desc += ": " + reason
	}
	return m.run(ctx, jobID, actor, step{
		to:          models.JobStatusCancelled,
		allowed:     eitherParty,
		description: desc,
		settle: func(ctx context.Context, tx pgx.Tx, job *models.Job) error {
			refund, err := m.escrow.RefundFunds(ctx, tx, job, actor)
			if err != nil {
				if errors.Is(err, models.ErrLedgerInconsistency) {
					m.log.Error("refund failed on cancellation", "job_id", job.ID, "error", err)
				}
				return fmt.Errorf("refund funds: %w", err)
			}
			if refund != nil {
				m.log.Info("refunded on cancellation", "job_id", job.ID, "amount", refund.Amount.StringFixed(2))
			}
			return nil
		},
	})
}

func (m *Machine) GetJob(ctx context.Context, jobID uuid.UUID, actor models.Actor) (*models.Job, error) {
	job, err := m.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsParty(actor.ID) {
		return nil, models.ErrPermissionDenied
	}
	return job, nil
}

func (m *Machine) ListJobsForUser(ctx context.Context, actor models.Actor, status string) ([]*models.Job, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if status != "" && !models.IsJobStatus(status) {
		return nil, models.Validationf("unknown status %q", status)
	}
	return m.store.ListForUser(ctx, actor.ID, status)
}

func (m *Machine) GetTimeline(ctx context.Context, jobID uuid.UUID, actor models.Actor) ([]*models.TimelineEvent, error) {
	if _, err := m.GetJob(ctx, jobID, actor); err != nil {
		return nil, err
	}
	return m.timeline.List(ctx, jobID)
}

// normalizeImages trims the URLs and rejects anything that is not an
// absolute http(s) URL. Storage of the files themselves happens elsewhere.
func normalizeImages(in []string) ([]string, error) {
	if len(in) > maxImages {
		return nil, models.Validationf("at most %d images", maxImages)
	}
	out := make([]string, 0, len(in))
	for _, raw := range in {
		raw = strings.TrimSpace(raw)
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, models.Validationf("invalid image url %q", raw)
		}
		out = append(out, raw)
	}
	return out, nil
}

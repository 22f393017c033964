// Package escrow holds client money between payment and approval. Every
// movement is a new ledger entry written in the same transaction as the job
// state change that caused it; balances are folded from those entries.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/tasklink/backend/internal/events"
	"github.com/tasklink/backend/internal/ledger"
	"github.com/tasklink/backend/internal/models"
	"github.com/tasklink/backend/internal/timeline"
)

// Ledger is the append-only ledger store.
type Ledger interface {
	Append(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
	HasGatewayReference(ctx context.Context, tx pgx.Tx, ref string) (bool, error)
	ListByJobTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) ([]*models.Transaction, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Transaction, error)
	ListByProfessional(ctx context.Context, professionalID uuid.UUID) ([]*models.Transaction, error)
}

// JobStore reads and locks jobs.
type JobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error)
}

// Transitions applies a job status change (satisfied by *jobs.Transitioner).
type Transitions interface {
	Apply(ctx context.Context, tx pgx.Tx, job *models.Job, to string, actor models.Actor, description string) error
}

// Recorder appends timeline entries.
type Recorder interface {
	Record(ctx context.Context, tx pgx.Tx, e timeline.Entry) (*models.TimelineEvent, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Controller struct {
	db          TxBeginner
	ledger      Ledger
	jobs        JobStore
	transitions Transitions
	timeline    Recorder
	events      events.Emitter
	rate        decimal.Decimal
	log         *slog.Logger
	now         func() time.Time
}

// NewController creates the escrow controller. rate is the commission rate
// captured on every new deposit (0.10 is 10%).
func NewController(db TxBeginner, l Ledger, jobs JobStore, transitions Transitions, rec Recorder, emitter events.Emitter, rate decimal.Decimal, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		db:          db,
		ledger:      l,
		jobs:        jobs,
		transitions: transitions,
		timeline:    rec,
		events:      emitter,
		rate:        rate,
		log:         log,
		now:         time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (c *Controller) SetClock(now func() time.Time) { c.now = now }

func (c *Controller) entry(jobID uuid.UUID, typ, status string, amount, commission, rate decimal.Decimal, ref *string) *models.Transaction {
	return &models.Transaction{
		ID:               uuid.New(),
		JobID:            jobID,
		Amount:           amount,
		Commission:       commission,
		CommissionRate:   rate,
		Status:           status,
		Type:             typ,
		GatewayReference: ref,
		CreatedAt:        c.now().UTC(),
	}
}

// OnDepositConfirmed records a gateway-confirmed payment for a job and moves
// it to PAID. A reference seen before returns models.ErrGatewayDuplicate
// without writing anything. A payment that lands after the job was cancelled
// is recorded and refunded at once.
func (c *Controller) OnDepositConfirmed(ctx context.Context, jobID uuid.UUID, amount decimal.Decimal, gatewayReference string) (*models.Transaction, error) {
	if gatewayReference == "" {
		return nil, models.Validationf("gateway reference is required")
	}
	if !amount.IsPositive() {
		return nil, models.Validationf("amount must be positive")
	}

	tx, err := c.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	job, err := c.jobs.GetByIDForUpdate(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	dup, err := c.ledger.HasGatewayReference(ctx, tx, gatewayReference)
	if err != nil {
		return nil, fmt.Errorf("check gateway reference: %w", err)
	}
	if dup {
		return nil, models.ErrGatewayDuplicate
	}
	if !amount.Equal(job.FinalPrice) {
		return nil, models.Validationf("amount %s does not match job price %s", amount.StringFixed(2), job.FinalPrice.StringFixed(2))
	}

	ref := gatewayReference
	commission := ledger.Commission(amount, c.rate)
	deposit := c.entry(job.ID, models.TxTypeDeposit, models.TxStatusHeld, amount, commission, c.rate, &ref)

	switch job.Status {
	case models.JobStatusPendingPayment:
		pos, err := c.position(ctx, tx, job.ID)
		if err != nil {
			return nil, err
		}
		if pos.ActiveDeposit != nil {
			return nil, fmt.Errorf("%w: unpaid job %s already holds %s", models.ErrLedgerInconsistency, job.ID, pos.Outstanding.StringFixed(2))
		}
		if err := c.ledger.Append(ctx, tx, deposit); err != nil {
			return nil, fmt.Errorf("append deposit: %w", err)
		}
		desc := fmt.Sprintf("Payment of %s confirmed and held in escrow", amount.StringFixed(2))
		if err := c.transitions.Apply(ctx, tx, job, models.JobStatusPaid, models.System(), desc); err != nil {
			return nil, err
		}
		if err := c.emitFunds(ctx, tx, events.KindFundsHeld, job, models.SystemActorID, amount); err != nil {
			return nil, err
		}

	case models.JobStatusCancelled:
		if err := c.ledger.Append(ctx, tx, deposit); err != nil {
			return nil, fmt.Errorf("append deposit: %w", err)
		}
		refund := c.entry(job.ID, models.TxTypeRefund, models.TxStatusRefunded, amount, decimal.Zero, deposit.CommissionRate, nil)
		if err := c.ledger.Append(ctx, tx, refund); err != nil {
			return nil, fmt.Errorf("append refund: %w", err)
		}
		if _, err := c.timeline.Record(ctx, tx, timeline.Entry{
			JobID:       job.ID,
			Actor:       models.System(),
			Description: fmt.Sprintf("Payment of %s received after cancellation and refunded", amount.StringFixed(2)),
		}); err != nil {
			return nil, fmt.Errorf("record timeline: %w", err)
		}
		if err := c.emitFunds(ctx, tx, events.KindFundsRefunded, job, models.SystemActorID, amount); err != nil {
			return nil, err
		}
		c.log.Warn("deposit after cancellation refunded", "job_id", job.ID, "gateway_reference", ref)

	default:
		return nil, &models.TransitionError{Current: job.Status, Requested: models.JobStatusPaid}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return deposit, nil
}

// ReleaseFunds pays the held deposit, net of its commission, to the
// professional. It runs inside the approval transaction. Without an active
// hold it returns models.ErrLedgerInconsistency, which makes a second
// release impossible.
func (c *Controller) ReleaseFunds(ctx context.Context, tx pgx.Tx, job *models.Job, actor models.Actor) (*models.Transaction, error) {
	pos, err := c.position(ctx, tx, job.ID)
	if err != nil {
		return nil, err
	}
	deposit := pos.ActiveDeposit
	if deposit == nil {
		return nil, fmt.Errorf("%w: job %s has no held funds to release", models.ErrLedgerInconsistency, job.ID)
	}
	if !pos.Outstanding.Equal(deposit.Amount) {
		return nil, fmt.Errorf("%w: job %s outstanding %s differs from deposit %s",
			models.ErrLedgerInconsistency, job.ID, pos.Outstanding.StringFixed(2), deposit.Amount.StringFixed(2))
	}
	net := deposit.Amount.Sub(deposit.Commission)
	release := c.entry(job.ID, models.TxTypeRelease, models.TxStatusReleased, net, deposit.Commission, deposit.CommissionRate, nil)
	if err := c.ledger.Append(ctx, tx, release); err != nil {
		return nil, fmt.Errorf("append release: %w", err)
	}
	if err := c.emitFunds(ctx, tx, events.KindFundsReleased, job, actor.ID, net); err != nil {
		return nil, err
	}
	return release, nil
}

// RefundFunds returns the full held amount to the client. When nothing is
// held (not yet paid) it does nothing and returns nil, nil.
func (c *Controller) RefundFunds(ctx context.Context, tx pgx.Tx, job *models.Job, actor models.Actor) (*models.Transaction, error) {
	pos, err := c.position(ctx, tx, job.ID)
	if err != nil {
		return nil, err
	}
	if pos.ActiveDeposit == nil {
		return nil, nil
	}
	refund := c.entry(job.ID, models.TxTypeRefund, models.TxStatusRefunded, pos.Outstanding, decimal.Zero, pos.ActiveDeposit.CommissionRate, nil)
	if err := c.ledger.Append(ctx, tx, refund); err != nil {
		return nil, fmt.Errorf("append refund: %w", err)
	}
	if err := c.emitFunds(ctx, tx, events.KindFundsRefunded, job, actor.ID, refund.Amount); err != nil {
		return nil, err
	}
	return refund, nil
}

func (c *Controller) position(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (ledger.Position, error) {
	entries, err := c.ledger.ListByJobTx(ctx, tx, jobID)
	if err != nil {
		return ledger.Position{}, fmt.Errorf("load ledger: %w", err)
	}
	if err := ledger.CheckJob(entries); err != nil {
		c.log.Error("ledger invariant violated", "job_id", jobID, "error", err)
		return ledger.Position{}, err
	}
	return ledger.JobPosition(entries), nil
}

func (c *Controller) emitFunds(ctx context.Context, tx pgx.Tx, kind string, job *models.Job, actorID uuid.UUID, amount decimal.Decimal) error {
	err := c.events.Emit(ctx, tx, events.Event{
		Kind:       kind,
		JobID:      events.Ref(job.ID),
		ActorID:    actorID,
		Recipients: []uuid.UUID{job.ClientID, job.ProfessionalID},
		NewStatus:  job.Status,
		Amount:     events.AmountRef(amount),
	})
	if err != nil {
		return fmt.Errorf("emit %s: %w", kind, err)
	}
	return nil
}

// ComputeBalance folds the professional's ledger entries into a balance.
func (c *Controller) ComputeBalance(ctx context.Context, professionalID uuid.UUID) (models.Balance, error) {
	entries, err := c.ledger.ListByProfessional(ctx, professionalID)
	if err != nil {
		return models.Balance{}, err
	}
	return ledger.FoldBalance(professionalID, entries), nil
}

// ListTransactions returns a job's ledger entries to one of its parties.
func (c *Controller) ListTransactions(ctx context.Context, jobID uuid.UUID, actor models.Actor) ([]*models.Transaction, error) {
	job, err := c.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsParty(actor.ID) {
		return nil, models.ErrPermissionDenied
	}
	return c.ledger.ListByJob(ctx, jobID)
}

// IsDuplicate reports whether err is a redelivered confirmation, which
// callers answer as success.
func IsDuplicate(err error) bool { return errors.Is(err, models.ErrGatewayDuplicate) }

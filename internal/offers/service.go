// Package offers implements the offer lifecycle: a professional quotes a
// price, the addressed client accepts or rejects it, or it expires. Accepting
// is the only way a job comes into existence.
package offers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/tasklink/backend/internal/events"
	"github.com/tasklink/backend/internal/models"
	"github.com/tasklink/backend/internal/timeline"
)

const maxDescriptionLength = 2000

// Store is the offer persistence.
type Store interface {
	Create(ctx context.Context, o *models.Offer) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Offer, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Offer, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, o *models.Offer) error
	ListExpiredForUpdate(ctx context.Context, tx pgx.Tx, cutoff time.Time) ([]*models.Offer, error)
}

// JobCreator inserts the job an accepted offer turns into.
type JobCreator interface {
	CreateTx(ctx context.Context, tx pgx.Tx, j *models.Job) error
}

// Recorder appends timeline entries.
type Recorder interface {
	Record(ctx context.Context, tx pgx.Tx, e timeline.Entry) (*models.TimelineEvent, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// NewOffer is the input to CreateOffer. The professional is the caller.
type NewOffer struct {
	ClientID       uuid.UUID
	ConversationID uuid.UUID
	Description    string
	Price          decimal.Decimal
}

type Service interface {
	CreateOffer(ctx context.Context, professional models.Actor, in NewOffer) (*models.Offer, error)
	AcceptOffer(ctx context.Context, offerID uuid.UUID, actor models.Actor) (*models.Offer, *models.Job, error)
	RejectOffer(ctx context.Context, offerID uuid.UUID, actor models.Actor) (*models.Offer, error)
	GetOffer(ctx context.Context, offerID uuid.UUID, actor models.Actor) (*models.Offer, error)
}

type Engine struct {
	db       TxBeginner
	store    Store
	jobs     JobCreator
	timeline Recorder
	events   events.Emitter
	ttl      time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// NewEngine creates the offer engine. Offers still OFFERED after ttl expire.
func NewEngine(db TxBeginner, store Store, jobs JobCreator, rec Recorder, emitter events.Emitter, ttl time.Duration, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{db: db, store: store, jobs: jobs, timeline: rec, events: emitter, ttl: ttl, log: log, now: time.Now}
}

var _ Service = (*Engine)(nil)

// SetClock replaces the time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

func (e *Engine) CreateOffer(ctx context.Context, professional models.Actor, in NewOffer) (*models.Offer, error) {
	desc := strings.TrimSpace(in.Description)
	switch {
	case !in.Price.IsPositive():
		return nil, models.Validationf("price must be greater than zero")
	case !in.Price.Equal(in.Price.Round(2)):
		return nil, models.Validationf("price has more than two decimal places")
	case desc == "":
		return nil, models.Validationf("description is required")
	case len(desc) > maxDescriptionLength:
		return nil, models.Validationf("description exceeds %d characters", maxDescriptionLength)
	case in.ClientID == uuid.Nil:
		return nil, models.Validationf("client_id is required")
	case in.ConversationID == uuid.Nil:
		return nil, models.Validationf("conversation_id is required")
	case in.ClientID == professional.ID:
		return nil, models.Validationf("professional and client must differ")
	}
	o := &models.Offer{
		ID:             uuid.New(),
		ClientID:       in.ClientID,
		ProfessionalID: professional.ID,
		ConversationID: in.ConversationID,
		Description:    desc,
		Price:          in.Price,
		Status:         models.OfferStatusOffered,
		CreatedAt:      e.now().UTC(),
	}
	if err := e.store.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	e.log.Info("offer created", "offer_id", o.ID, "professional_id", o.ProfessionalID, "client_id", o.ClientID)
	return o, nil
}

// respond locks the offer and checks that actor is its client and that it is
// still open.
func (e *Engine) respond(ctx context.Context, tx pgx.Tx, offerID uuid.UUID, actor models.Actor, to string) (*models.Offer, error) {
	o, err := e.store.GetByIDForUpdate(ctx, tx, offerID)
	if err != nil {
		return nil, err
	}
	if o.ClientID != actor.ID {
		return nil, fmt.Errorf("%w: only the addressed client may respond to an offer", models.ErrPermissionDenied)
	}
	if o.Status != models.OfferStatusOffered {
		return nil, &models.StateError{Current: o.Status, Requested: to}
	}
	now := e.now().UTC()
	if e.ttl > 0 && !now.Before(o.CreatedAt.Add(e.ttl)) {
		return nil, &models.StateError{Current: models.OfferStatusExpired, Requested: to}
	}
	o.Status = to
	o.RespondedAt = &now
	if err := e.store.UpdateStatusTx(ctx, tx, o); err != nil {
		return nil, fmt.Errorf("update offer: %w", err)
	}
	return o, nil
}

// AcceptOffer turns an offer into a job awaiting payment. The offer update,
// the job, its first timeline entry and the job.created event commit
// together; a second accept finds the offer ACCEPTED and fails.
func (e *Engine) AcceptOffer(ctx context.Context, offerID uuid.UUID, actor models.Actor) (*models.Offer, *models.Job, error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	o, err := e.respond(ctx, tx, offerID, actor, models.OfferStatusAccepted)
	if err != nil {
		return nil, nil, err
	}
	job := &models.Job{
		ID:             uuid.New(),
		OfferID:        o.ID,
		ClientID:       o.ClientID,
		ProfessionalID: o.ProfessionalID,
		FinalPrice:     o.Price,
		Status:         models.JobStatusPendingPayment,
		CreatedAt:      *o.RespondedAt,
		Images:         []string{},
	}
	if err := e.jobs.CreateTx(ctx, tx, job); err != nil {
		return nil, nil, fmt.Errorf("create job: %w", err)
	}
	if _, err := e.timeline.Record(ctx, tx, timeline.Entry{
		JobID:       job.ID,
		Actor:       actor,
		Description: fmt.Sprintf("Offer accepted; job created for %s", job.FinalPrice.StringFixed(2)),
		NewStatus:   job.Status,
	}); err != nil {
		return nil, nil, fmt.Errorf("record timeline: %w", err)
	}
	if err := e.events.Emit(ctx, tx, events.Event{
		Kind:       events.KindJobCreated,
		JobID:      events.Ref(job.ID),
		OfferID:    events.Ref(o.ID),
		ActorID:    actor.ID,
		Recipients: []uuid.UUID{job.ClientID, job.ProfessionalID},
		NewStatus:  job.Status,
		Amount:     events.AmountRef(job.FinalPrice),
	}); err != nil {
		return nil, nil, fmt.Errorf("emit job created: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	e.log.Info("offer accepted", "offer_id", o.ID, "job_id", job.ID)
	return o, job, nil
}

func (e *Engine) RejectOffer(ctx context.Context, offerID uuid.UUID, actor models.Actor) (*models.Offer, error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	o, err := e.respond(ctx, tx, offerID, actor, models.OfferStatusRejected)
	if err != nil {
		return nil, err
	}
	if err := e.events.Emit(ctx, tx, events.Event{
		Kind:       events.KindOfferRejected,
		OfferID:    events.Ref(o.ID),
		ActorID:    actor.ID,
		Recipients: []uuid.UUID{o.ProfessionalID},
		NewStatus:  o.Status,
	}); err != nil {
		return nil, fmt.Errorf("emit offer rejected: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// ExpireOffers marks every OFFERED offer older than the TTL as EXPIRED and
// returns how many it changed. Running it again is harmless.
func (e *Engine) ExpireOffers(ctx context.Context, now time.Time) (int, error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	list, err := e.store.ListExpiredForUpdate(ctx, tx, now.Add(-e.ttl))
	if err != nil {
		return 0, fmt.Errorf("list expired offers: %w", err)
	}
	at := now.UTC()
	for _, o := range list {
		o.Status = models.OfferStatusExpired
		o.RespondedAt = &at
		if err := e.store.UpdateStatusTx(ctx, tx, o); err != nil {
			return 0, fmt.Errorf("expire offer %s: %w", o.ID, err)
		}
		if err := e.events.Emit(ctx, tx, events.Event{
			Kind:       events.KindOfferExpired,
			OfferID:    events.Ref(o.ID),
			ActorID:    models.SystemActorID,
			Recipients: []uuid.UUID{o.ClientID, o.ProfessionalID},
			NewStatus:  o.Status,
			OccurredAt: at,
		}); err != nil {
			return 0, fmt.Errorf("emit offer expired: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(list), nil
}

// GetOffer returns the offer to its client or professional.
func (e *Engine) GetOffer(ctx context.Context, offerID uuid.UUID, actor models.Actor) (*models.Offer, error) {
	o, err := e.store.GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if actor.ID != o.ClientID && actor.ID != o.ProfessionalID {
		return nil, models.ErrPermissionDenied
	}
	return o, nil
}

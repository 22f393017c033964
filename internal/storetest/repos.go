package storetest

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tasklink/backend/internal/events"
	"github.com/tasklink/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Offers
// ---------------------------------------------------------------------------

type OfferRepo struct{ s *Store }

func (r *OfferRepo) Create(_ context.Context, o *models.Offer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *o
	r.s.offers[o.ID] = &cp
	return nil
}

func (r *OfferRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Offer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.offers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *OfferRepo) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Offer, error) {
	return r.GetByID(ctx, id)
}

func (r *OfferRepo) UpdateStatusTx(_ context.Context, _ pgx.Tx, o *models.Offer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.offers[o.ID]
	if !ok {
		return models.ErrNotFound
	}
	if cur.Status != models.OfferStatusOffered {
		return &models.StateError{Current: cur.Status, Requested: o.Status}
	}
	cur.Status = o.Status
	cur.RespondedAt = o.RespondedAt
	return nil
}

func (r *OfferRepo) ListExpiredForUpdate(_ context.Context, _ pgx.Tx, cutoff time.Time) ([]*models.Offer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Offer
	for _, o := range r.s.offers {
		if o.Status == models.OfferStatusOffered && !cutoff.Before(o.CreatedAt) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

type JobRepo struct{ s *Store }

// ErrDuplicateOffer mirrors the jobs.offer_id unique constraint.
var ErrDuplicateOffer = errors.New("job already exists for offer")

func (r *JobRepo) CreateTx(_ context.Context, _ pgx.Tx, j *models.Job) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.jobs {
		if existing.OfferID == j.OfferID {
			return ErrDuplicateOffer
		}
	}
	cp := copyJob(j)
	r.s.jobs[j.ID] = &cp
	r.s.jobOrder = append(r.s.jobOrder, j.ID)
	return nil
}

func (r *JobRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := copyJob(j)
	return &cp, nil
}

func (r *JobRepo) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Job, error) {
	return r.GetByID(ctx, id)
}

func (r *JobRepo) UpdateTx(_ context.Context, _ pgx.Tx, j *models.Job) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.jobs[j.ID]
	if !ok {
		return models.ErrNotFound
	}
	price := cur.FinalPrice
	cp := copyJob(j)
	cp.FinalPrice = price // final_price is not part of the UPDATE
	r.s.jobs[j.ID] = &cp
	return nil
}

func (r *JobRepo) ListForUser(_ context.Context, userID uuid.UUID, status string) ([]*models.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Job
	for i := len(r.s.jobOrder) - 1; i >= 0; i-- {
		j := r.s.jobs[r.s.jobOrder[i]]
		if j == nil || !j.IsParty(userID) {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		cp := copyJob(j)
		out = append(out, &cp)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

type LedgerRepo struct {
	s *Store
	// FailAppend, when set, is returned by the next Append instead of writing.
	FailAppend error
}

func (r *LedgerRepo) Append(_ context.Context, _ pgx.Tx, t *models.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.FailAppend; err != nil {
		r.FailAppend = nil
		return err
	}
	if t.GatewayReference != nil {
		for _, e := range r.s.ledger {
			if e.GatewayReference != nil && *e.GatewayReference == *t.GatewayReference {
				return models.ErrGatewayDuplicate
			}
		}
	}
	cp := *t
	r.s.ledger = append(r.s.ledger, &cp)
	return nil
}

func (r *LedgerRepo) HasGatewayReference(_ context.Context, _ pgx.Tx, ref string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.ledger {
		if e.GatewayReference != nil && *e.GatewayReference == ref {
			return true, nil
		}
	}
	return false, nil
}

func (r *LedgerRepo) ListByJobTx(ctx context.Context, _ pgx.Tx, jobID uuid.UUID) ([]*models.Transaction, error) {
	return r.ListByJob(ctx, jobID)
}

func (r *LedgerRepo) ListByJob(_ context.Context, jobID uuid.UUID) ([]*models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Transaction
	for _, e := range r.s.ledger {
		if e.JobID == jobID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *LedgerRepo) ListByProfessional(_ context.Context, professionalID uuid.UUID) ([]*models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Transaction
	for _, e := range r.s.ledger {
		if j, ok := r.s.jobs[e.JobID]; ok && j.ProfessionalID == professionalID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Timeline
// ---------------------------------------------------------------------------

type TimelineRepo struct{ s *Store }

func (r *TimelineRepo) AppendTx(_ context.Context, _ pgx.Tx, e *models.TimelineEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *e
	r.s.timeline = append(r.s.timeline, &cp)
	return nil
}

func (r *TimelineRepo) ListByJob(_ context.Context, jobID uuid.UUID) ([]*models.TimelineEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.TimelineEvent
	for _, e := range r.s.timeline {
		if e.JobID == jobID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

type Emitter struct{ s *Store }

var _ events.Emitter = (*Emitter)(nil)

func (e *Emitter) Emit(_ context.Context, _ pgx.Tx, evt events.Event) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	e.s.events = append(e.s.events, evt)
	return nil
}

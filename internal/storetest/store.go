// Package storetest provides an in-memory, transactional implementation of
// the repositories so services can be tested without PostgreSQL.
//
// Begin serializes transactions (a coarse stand-in for row locks) and
// snapshots state; Rollback restores the snapshot, Commit keeps the writes.
package storetest

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tasklink/backend/internal/events"
	"github.com/tasklink/backend/internal/models"
)

type Store struct {
	txMu sync.Mutex // held for the lifetime of a transaction
	mu   sync.Mutex // guards the data below

	offers   map[uuid.UUID]*models.Offer
	jobs     map[uuid.UUID]*models.Job
	jobOrder []uuid.UUID
	ledger   []*models.Transaction
	timeline []*models.TimelineEvent
	events   []events.Event

	offerRepo    *OfferRepo
	jobRepo      *JobRepo
	ledgerRepo   *LedgerRepo
	timelineRepo *TimelineRepo
	emitter      *Emitter
}

func New() *Store {
	s := &Store{
		offers: make(map[uuid.UUID]*models.Offer),
		jobs:   make(map[uuid.UUID]*models.Job),
	}
	s.offerRepo = &OfferRepo{s: s}
	s.jobRepo = &JobRepo{s: s}
	s.ledgerRepo = &LedgerRepo{s: s}
	s.timelineRepo = &TimelineRepo{s: s}
	s.emitter = &Emitter{s: s}
	return s
}

func (s *Store) Offers() *OfferRepo      { return s.offerRepo }
func (s *Store) Jobs() *JobRepo          { return s.jobRepo }
func (s *Store) Ledger() *LedgerRepo     { return s.ledgerRepo }
func (s *Store) Timeline() *TimelineRepo { return s.timelineRepo }
func (s *Store) Emitter() *Emitter       { return s.emitter }

type snapshot struct {
	offers   map[uuid.UUID]models.Offer
	jobs     map[uuid.UUID]models.Job
	jobOrder int
	ledger   int
	timeline int
	events   int
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		offers:   make(map[uuid.UUID]models.Offer, len(s.offers)),
		jobs:     make(map[uuid.UUID]models.Job, len(s.jobs)),
		jobOrder: len(s.jobOrder),
		ledger:   len(s.ledger),
		timeline: len(s.timeline),
		events:   len(s.events),
	}
	for id, o := range s.offers {
		snap.offers[id] = *o
	}
	for id, j := range s.jobs {
		snap.jobs[id] = copyJob(j)
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers = make(map[uuid.UUID]*models.Offer, len(snap.offers))
	for id, o := range snap.offers {
		o := o
		s.offers[id] = &o
	}
	s.jobs = make(map[uuid.UUID]*models.Job, len(snap.jobs))
	for id, j := range snap.jobs {
		j := j
		s.jobs[id] = &j
	}
	s.jobOrder = s.jobOrder[:snap.jobOrder]
	s.ledger = s.ledger[:snap.ledger]
	s.timeline = s.timeline[:snap.timeline]
	s.events = s.events[:snap.events]
}

// Begin starts a transaction. It blocks while another transaction is open.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	s.txMu.Lock()
	return &Tx{store: s, snap: s.snapshot()}, nil
}

// Events returns a copy of every committed (or in-flight) event.
func (s *Store) Events() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Entries returns a copy of the whole ledger in creation order.
func (s *Store) Entries() []*models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Transaction, 0, len(s.ledger))
	for _, t := range s.ledger {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

// JobCount returns the number of jobs stored.
func (s *Store) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func copyJob(j *models.Job) models.Job {
	cp := *j
	cp.Images = append([]string(nil), j.Images...)
	return cp
}

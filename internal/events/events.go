// Package events carries status-change facts out of the core. Events are
// enqueued as River jobs inside the same database transaction as the state
// change, so a fact is published if and only if the change commits.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Event kinds.
const (
	KindJobCreated       = "job.created"
	KindJobStatusChanged = "job.status_changed"
	KindFundsHeld        = "funds.held"
	KindFundsReleased    = "funds.released"
	KindFundsRefunded    = "funds.refunded"
	KindOfferRejected    = "offer.rejected"
	KindOfferExpired     = "offer.expired"
)

type Event struct {
	Kind           string           `json:"kind"`
	JobID          *uuid.UUID       `json:"job_id,omitempty"`
	OfferID        *uuid.UUID       `json:"offer_id,omitempty"`
	ActorID        uuid.UUID        `json:"actor_id"`
	Recipients     []uuid.UUID      `json:"recipients"`
	PreviousStatus string           `json:"previous_status,omitempty"`
	NewStatus      string           `json:"new_status,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// Emitter publishes an event as part of tx.
type Emitter interface {
	Emit(ctx context.Context, tx pgx.Tx, e Event) error
}

// InsertTxFunc enqueues a delivery job within the given transaction. Provided
// by main as a closure over river.Client.InsertTx.
type InsertTxFunc func(ctx context.Context, tx pgx.Tx, args DeliverEventArgs) error

// RiverEmitter enqueues events through River.
type RiverEmitter struct {
	insert InsertTxFunc
}

func NewRiverEmitter(insert InsertTxFunc) *RiverEmitter {
	return &RiverEmitter{insert: insert}
}

var _ Emitter = (*RiverEmitter)(nil)

func (e *RiverEmitter) Emit(ctx context.Context, tx pgx.Tx, evt Event) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	return e.insert(ctx, tx, DeliverEventArgs{Event: evt})
}

// Ref returns a pointer to id, for the optional Event fields.
func Ref(id uuid.UUID) *uuid.UUID { return &id }

// AmountRef returns a pointer to d, for Event.Amount.
func AmountRef(d decimal.Decimal) *decimal.Decimal { return &d }

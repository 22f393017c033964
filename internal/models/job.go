package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Job status enums, in lifecycle order.
const (
	JobStatusPendingPayment = "PENDING_PAYMENT"
	JobStatusPaid           = "PAID"
	JobStatusInProgress     = "IN_PROGRESS"
	JobStatusCompleted      = "COMPLETED"
	JobStatusApproved       = "APPROVED"
	JobStatusCancelled      = "CANCELLED"
)

type Job struct {
	ID                uuid.UUID       `json:"id"`
	OfferID           uuid.UUID       `json:"offer_id"`
	ClientID          uuid.UUID       `json:"client_id"`
	ProfessionalID    uuid.UUID       `json:"professional_id"`
	FinalPrice        decimal.Decimal `json:"final_price"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	FinishedAt        *time.Time      `json:"finished_at,omitempty"`
	ApprovedAt        *time.Time      `json:"approved_at,omitempty"`
	CancelledAt       *time.Time      `json:"cancelled_at,omitempty"`
	ProfessionalNotes *string         `json:"professional_notes,omitempty"`
	ClientNotes       *string         `json:"client_notes,omitempty"`
	Images            []string        `json:"images"`
}

// IsParty reports whether id is the client or the professional of the job.
func (j *Job) IsParty(id uuid.UUID) bool {
	return id == j.ClientID || id == j.ProfessionalID
}

// transitions lists the allowed source statuses for each target status.
var transitions = map[string][]string{
	JobStatusPaid:       {JobStatusPendingPayment},
	JobStatusInProgress: {JobStatusPaid},
	JobStatusCompleted:  {JobStatusInProgress},
	JobStatusApproved:   {JobStatusCompleted},
	JobStatusCancelled:  {JobStatusPendingPayment, JobStatusPaid, JobStatusInProgress, JobStatusCompleted},
}

// CanTransition reports whether a job in status from may move to status to.
func CanTransition(from, to string) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// IsTerminalJobStatus reports whether no further transition is possible.
func IsTerminalJobStatus(status string) bool {
	return status == JobStatusApproved || status == JobStatusCancelled
}

// IsJobStatus reports whether s names a known job status.
func IsJobStatus(s string) bool {
	switch s {
	case JobStatusPendingPayment, JobStatusPaid, JobStatusInProgress,
		JobStatusCompleted, JobStatusApproved, JobStatusCancelled:
		return true
	}
	return false
}

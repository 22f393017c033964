package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Offer status enums.
const (
	OfferStatusOffered  = "OFFERED"
	OfferStatusAccepted = "ACCEPTED"
	OfferStatusRejected = "REJECTED"
	OfferStatusExpired  = "EXPIRED"
)

type Offer struct {
	ID             uuid.UUID       `json:"id"`
	ClientID       uuid.UUID       `json:"client_id"`
	ProfessionalID uuid.UUID       `json:"professional_id"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	Description    string          `json:"description"`
	Price          decimal.Decimal `json:"price"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	RespondedAt    *time.Time      `json:"responded_at,omitempty"`
}

// IsTerminal reports whether the offer already left OFFERED.
func (o *Offer) IsTerminal() bool {
	return o.Status != OfferStatusOffered
}

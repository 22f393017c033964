package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger entry status and type enums.
const (
	TxStatusPending  = "PENDING"
	TxStatusHeld     = "HELD"
	TxStatusReleased = "RELEASED"
	TxStatusRefunded = "REFUNDED"

	TxTypeDeposit = "DEPOSIT"
	TxTypeRelease = "RELEASE"
	TxTypeRefund  = "REFUND"
)

// Transaction is an append-only ledger entry. Corrections are new entries.
// Commission and CommissionRate are captured on the DEPOSIT and copied onto
// the RELEASE so settlement never looks the policy up again.
type Transaction struct {
	ID               uuid.UUID       `json:"id"`
	JobID            uuid.UUID       `json:"job_id"`
	Amount           decimal.Decimal `json:"amount"`
	Commission       decimal.Decimal `json:"commission"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	Status           string          `json:"status"`
	Type             string          `json:"type"`
	GatewayReference *string         `json:"gateway_reference,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Balance is a derived view over a professional's ledger entries. It is never stored.
type Balance struct {
	ProfessionalID  uuid.UUID       `json:"professional_id"`
	Available       decimal.Decimal `json:"available"`
	Pending         decimal.Decimal `json:"pending"`
	TotalEarned     decimal.Decimal `json:"total_earned"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	JobsCompleted   int             `json:"jobs_completed"`
}

package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tasklink/backend/internal/models"
)

// moneyPlaces is the number of decimal places money is rounded to.
const moneyPlaces = 2

// Commission returns the platform fee for amount at rate, rounded to cents.
func Commission(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(moneyPlaces)
}

// Position summarizes the ledger entries of a single job.
type Position struct {
	Held       decimal.Decimal // sum of DEPOSIT amounts
	Released   decimal.Decimal // sum of RELEASE amounts (net of commission)
	Refunded   decimal.Decimal // sum of REFUND amounts
	Commission decimal.Decimal // commission kept on RELEASE entries
	// Outstanding is what is still in escrow: held minus everything settled.
	Outstanding decimal.Decimal
	// ActiveDeposit is the DEPOSIT entry backing Outstanding, nil when nothing is held.
	ActiveDeposit *models.Transaction
	Deposits      int
	Settlements   int
}

// JobPosition folds the entries of one job. Entries must be in creation order.
func JobPosition(entries []*models.Transaction) Position {
	p := Position{
		Held:        decimal.Zero,
		Released:    decimal.Zero,
		Refunded:    decimal.Zero,
		Commission:  decimal.Zero,
		Outstanding: decimal.Zero,
	}
	var lastDeposit *models.Transaction
	for _, e := range entries {
		switch e.Type {
		case models.TxTypeDeposit:
			p.Held = p.Held.Add(e.Amount)
			p.Deposits++
			lastDeposit = e
		case models.TxTypeRelease:
			p.Released = p.Released.Add(e.Amount)
			p.Commission = p.Commission.Add(e.Commission)
			p.Settlements++
		case models.TxTypeRefund:
			p.Refunded = p.Refunded.Add(e.Amount)
			p.Settlements++
		}
	}
	p.Outstanding = p.Held.Sub(p.Released).Sub(p.Commission).Sub(p.Refunded)
	if p.Outstanding.IsPositive() {
		p.ActiveDeposit = lastDeposit
	}
	return p
}

// CheckJob verifies the per-job ledger invariants.
func CheckJob(entries []*models.Transaction) error {
	p := JobPosition(entries)
	if p.Released.Add(p.Refunded).GreaterThan(p.Held) {
		return fmt.Errorf("%w: released %s + refunded %s exceeds held %s",
			models.ErrLedgerInconsistency, p.Released, p.Refunded, p.Held)
	}
	if p.Outstanding.IsNegative() {
		return fmt.Errorf("%w: settled more than held (outstanding %s)", models.ErrLedgerInconsistency, p.Outstanding)
	}
	if p.Deposits-p.Settlements > 1 {
		return fmt.Errorf("%w: %d deposits against %d settlements", models.ErrLedgerInconsistency, p.Deposits, p.Settlements)
	}
	var deposit *models.Transaction
	for _, e := range entries {
		switch e.Type {
		case models.TxTypeDeposit:
			deposit = e
		case models.TxTypeRelease:
			if deposit == nil {
				return fmt.Errorf("%w: release %s without deposit", models.ErrLedgerInconsistency, e.ID)
			}
			if !e.Commission.Equal(deposit.Commission) {
				return fmt.Errorf("%w: release %s commission %s differs from deposit commission %s",
					models.ErrLedgerInconsistency, e.ID, e.Commission, deposit.Commission)
			}
		}
	}
	return nil
}

// FoldBalance derives a professional's balance from the ledger entries of
// their jobs. It is a pure function: the same entries always give the same balance.
func FoldBalance(professionalID uuid.UUID, entries []*models.Transaction) models.Balance {
	b := models.Balance{
		ProfessionalID:  professionalID,
		Available:       decimal.Zero,
		Pending:         decimal.Zero,
		TotalEarned:     decimal.Zero,
		TotalCommission: decimal.Zero,
	}
	byJob := make(map[uuid.UUID][]*models.Transaction)
	var order []uuid.UUID
	for _, e := range entries {
		if _, ok := byJob[e.JobID]; !ok {
			order = append(order, e.JobID)
		}
		byJob[e.JobID] = append(byJob[e.JobID], e)
	}
	for _, jobID := range order {
		p := JobPosition(byJob[jobID])
		b.Available = b.Available.Add(p.Released)
		b.TotalEarned = b.TotalEarned.Add(p.Released)
		b.TotalCommission = b.TotalCommission.Add(p.Commission)
		if p.Outstanding.IsPositive() {
			b.Pending = b.Pending.Add(p.Outstanding)
		}
		if !p.Released.IsZero() {
			b.JobsCompleted++
		}
	}
	return b
}

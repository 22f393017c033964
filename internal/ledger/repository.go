package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tasklink/backend/internal/models"
)

// Repository is the ledger store. Entries are only ever inserted; there is no
// update or delete path.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const transactionColumns = `id, job_id, amount, commission, commission_rate, status, type, gateway_reference, created_at`

// Append inserts a ledger entry inside the caller's transaction. A repeated
// gateway reference maps to models.ErrGatewayDuplicate.
func (r *Repository) Append(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (id, job_id, amount, commission, commission_rate, status, type, gateway_reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.JobID, t.Amount, t.Commission, t.CommissionRate, t.Status, t.Type, t.GatewayReference, t.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "transactions_gateway_reference_key" {
		return models.ErrGatewayDuplicate
	}
	return err
}

// HasGatewayReference reports whether a deposit with this reference was already recorded.
func (r *Repository) HasGatewayReference(ctx context.Context, tx pgx.Tx, ref string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE gateway_reference = $1)`, ref).Scan(&exists)
	return exists, err
}

// ListByJobTx returns a job's entries in creation order. The job row should
// already be locked by the caller.
func (r *Repository) ListByJobTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions WHERE job_id = $1 ORDER BY created_at, seq
	`, jobID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (r *Repository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions WHERE job_id = $1 ORDER BY created_at, seq
	`, jobID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// ListByProfessional returns every entry on jobs owned by the professional.
func (r *Repository) ListByProfessional(ctx context.Context, professionalID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.id, t.job_id, t.amount, t.commission, t.commission_rate, t.status, t.type, t.gateway_reference, t.created_at
		FROM transactions t
		JOIN jobs j ON j.id = t.job_id
		WHERE j.professional_id = $1
		ORDER BY t.created_at, t.seq
	`, professionalID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]*models.Transaction, error) {
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.JobID, &t.Amount, &t.Commission, &t.CommissionRate, &t.Status, &t.Type, &t.GatewayReference, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

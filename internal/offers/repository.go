package offers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tasklink/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const offerColumns = `id, client_id, professional_id, conversation_id, description, price, status, created_at, responded_at`

func scanOffer(row pgx.Row) (*models.Offer, error) {
	var o models.Offer
	err := row.Scan(&o.ID, &o.ClientID, &o.ProfessionalID, &o.ConversationID, &o.Description, &o.Price,
		&o.Status, &o.CreatedAt, &o.RespondedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repository) Create(ctx context.Context, o *models.Offer) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO offers (id, client_id, professional_id, conversation_id, description, price, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, o.ID, o.ClientID, o.ProfessionalID, o.ConversationID, o.Description, o.Price, o.Status, o.CreatedAt)
	return err
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	return scanOffer(r.pool.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id))
}

// GetByIDForUpdate locks the offer row until tx ends.
func (r *Repository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Offer, error) {
	return scanOffer(tx.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1 FOR UPDATE`, id))
}

// UpdateStatusTx records the offer's terminal status. The WHERE clause only
// matches OFFERED rows, so a terminal offer is never rewritten.
func (r *Repository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, o *models.Offer) error {
	tag, err := tx.Exec(ctx, `
		UPDATE offers SET status = $2, responded_at = $3
		WHERE id = $1 AND status = 'OFFERED'
	`, o.ID, o.Status, o.RespondedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &models.StateError{Current: "not OFFERED", Requested: o.Status}
	}
	return nil
}

// ListExpiredForUpdate locks the OFFERED offers created at or before cutoff.
// Rows locked by an in-flight accept or reject are skipped; the next sweep
// sees them again if they are still OFFERED.
func (r *Repository) ListExpiredForUpdate(ctx context.Context, tx pgx.Tx, cutoff time.Time) ([]*models.Offer, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE status = 'OFFERED' AND created_at <= $1
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

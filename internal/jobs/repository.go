package jobs

import (
	"context"
	"errors"

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

const jobColumns = `id, offer_id, client_id, professional_id, final_price, status, created_at,
	started_at, finished_at, approved_at, cancelled_at, professional_notes, client_notes, images`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.OfferID, &j.ClientID, &j.ProfessionalID, &j.FinalPrice, &j.Status, &j.CreatedAt,
		&j.StartedAt, &j.FinishedAt, &j.ApprovedAt, &j.CancelledAt, &j.ProfessionalNotes, &j.ClientNotes, &j.Images)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if j.Images == nil {
		j.Images = []string{}
	}
	return &j, nil
}

// CreateTx inserts a job inside tx. offer_id is unique, so a second job for
// the same offer fails.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, j *models.Job) error {
	images := j.Images
	if images == nil {
		images = []string{}
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO jobs (id, offer_id, client_id, professional_id, final_price, status, created_at, images)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, j.ID, j.OfferID, j.ClientID, j.ProfessionalID, j.FinalPrice, j.Status, j.CreatedAt, images)
	return err
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

// GetByIDForUpdate locks the job row until tx ends. Every status change goes
// through this lock, which serializes concurrent transitions on one job.
func (r *Repository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error) {
	return scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
}

// UpdateTx writes the mutable columns. final_price is never updated.
func (r *Repository) UpdateTx(ctx context.Context, tx pgx.Tx, j *models.Job) error {
	images := j.Images
	if images == nil {
		images = []string{}
	}
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $2, started_at = $3, finished_at = $4, approved_at = $5, cancelled_at = $6,
			professional_notes = $7, client_notes = $8, images = $9
		WHERE id = $1
	`, j.ID, j.Status, j.StartedAt, j.FinishedAt, j.ApprovedAt, j.CancelledAt, j.ProfessionalNotes, j.ClientNotes, images)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListForUser returns the jobs where userID is client or professional, newest
// first. An empty status means all statuses.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID, status string) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE (client_id = $1 OR professional_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
	`, userID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

// ListIDs returns every job id. Used by the reconcile command.
func (r *Repository) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM jobs ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

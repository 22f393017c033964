package timeline

import (
	"context"

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

// AppendTx inserts a timeline event inside the caller's transaction.
func (r *Repository) AppendTx(ctx context.Context, tx pgx.Tx, e *models.TimelineEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO timeline_events (id, job_id, actor_id, actor_name, description, previous_status, new_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.JobID, e.ActorID, e.ActorName, e.Description, e.PreviousStatus, e.NewStatus, e.CreatedAt)
	return err
}

// ListByJob returns a job's events oldest first.
func (r *Repository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.TimelineEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, actor_id, actor_name, description, previous_status, new_status, created_at
		FROM timeline_events WHERE job_id = $1 ORDER BY created_at ASC, seq ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.TimelineEvent
	for rows.Next() {
		var e models.TimelineEvent
		if err := rows.Scan(&e.ID, &e.JobID, &e.ActorID, &e.ActorName, &e.Description, &e.PreviousStatus, &e.NewStatus, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

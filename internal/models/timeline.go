package models

import (
	"time"

	"github.com/google/uuid"
)

// TimelineEvent is one audit record per successful state-changing action.
type TimelineEvent struct {
	ID             uuid.UUID `json:"id"`
	JobID          uuid.UUID `json:"job_id"`
	ActorID        uuid.UUID `json:"actor_id"`
	ActorName      string    `json:"actor_name"`
	Description    string    `json:"description"`
	PreviousStatus *string   `json:"previous_status,omitempty"`
	NewStatus      *string   `json:"new_status,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

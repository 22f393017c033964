package jobs

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tasklink/backend/internal/httpx"
	"github.com/tasklink/backend/internal/middleware"
	"github.com/tasklink/backend/internal/models"
)

type JobResponse struct {
	ID                string     `json:"id"`
	OfferID           string     `json:"offer_id"`
	ClientID          string     `json:"client_id"`
	ProfessionalID    string     `json:"professional_id"`
	FinalPrice        string     `json:"final_price"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
	ProfessionalNotes *string    `json:"professional_notes,omitempty"`
	ClientNotes       *string    `json:"client_notes,omitempty"`
	Images            []string   `json:"images"`
}

type TimelineEventResponse struct {
	ID             string    `json:"id"`
	ActorID        string    `json:"actor_id"`
	ActorName      string    `json:"actor_name"`
	Description    string    `json:"description"`
	PreviousStatus *string   `json:"previous_status,omitempty"`
	NewStatus      *string   `json:"new_status,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type CompleteJobRequest struct {
	Notes  string   `json:"notes"`
	Images []string `json:"images"`
}

type ApproveJobRequest struct {
	Notes string `json:"notes"`
}

type CancelJobRequest struct {
	Reason string `json:"reason"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// --- GET /api/v1/jobs?status= ---

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := h.svc.ListJobsForUser(r.Context(), actor, r.URL.Query().Get("status"))
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	resp := make([]JobResponse, 0, len(list))
	for _, j := range list {
		resp = append(resp, ToResponse(j))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// --- GET /api/v1/jobs/{id} ---

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	job, err := h.svc.GetJob(r.Context(), id, actor)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ToResponse(job))
}

// --- GET /api/v1/jobs/{id}/timeline ---

func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	list, err := h.svc.GetTimeline(r.Context(), id, actor)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	resp := make([]TimelineEventResponse, 0, len(list))
	for _, e := range list {
		resp = append(resp, TimelineEventResponse{
			ID:             e.ID.String(),
			ActorID:        e.ActorID.String(),
			ActorName:      e.ActorName,
			Description:    e.Description,
			PreviousStatus: e.PreviousStatus,
			NewStatus:      e.NewStatus,
			CreatedAt:      e.CreatedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// --- POST /api/v1/jobs/{id}/start ---

func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(a models.Actor, id uuid.UUID) (*models.Job, error) {
		return h.svc.StartJob(r.Context(), id, a)
	})
}

// --- POST /api/v1/jobs/{id}/complete ---

func (h *Handler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	var req CompleteJobRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	h.transition(w, r, func(a models.Actor, id uuid.UUID) (*models.Job, error) {
		return h.svc.CompleteJob(r.Context(), id, a, Completion{Notes: req.Notes, Images: req.Images})
	})
}

// --- POST /api/v1/jobs/{id}/approve ---

func (h *Handler) ApproveJob(w http.ResponseWriter, r *http.Request) {
	var req ApproveJobRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	h.transition(w, r, func(a models.Actor, id uuid.UUID) (*models.Job, error) {
		return h.svc.ApproveJob(r.Context(), id, a, req.Notes)
	})
}

// --- POST /api/v1/jobs/{id}/cancel ---

func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	var req CancelJobRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	h.transition(w, r, func(a models.Actor, id uuid.UUID) (*models.Job, error) {
		return h.svc.CancelJob(r.Context(), id, a, req.Reason)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(models.Actor, uuid.UUID) (*models.Job, error)) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	job, err := fn(actor, id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ToResponse(job))
}

// ToResponse renders a job for the API.
func ToResponse(j *models.Job) JobResponse {
	images := j.Images
	if images == nil {
		images = []string{}
	}
	return JobResponse{
		ID:                j.ID.String(),
		OfferID:           j.OfferID.String(),
		ClientID:          j.ClientID.String(),
		ProfessionalID:    j.ProfessionalID.String(),
		FinalPrice:        j.FinalPrice.StringFixed(2),
		Status:            j.Status,
		CreatedAt:         j.CreatedAt,
		StartedAt:         j.StartedAt,
		FinishedAt:        j.FinishedAt,
		ApprovedAt:        j.ApprovedAt,
		CancelledAt:       j.CancelledAt,
		ProfessionalNotes: j.ProfessionalNotes,
		ClientNotes:       j.ClientNotes,
		Images:            images,
	}
}

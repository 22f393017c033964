package offers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tasklink/backend/internal/httpx"
	"github.com/tasklink/backend/internal/jobs"
	"github.com/tasklink/backend/internal/middleware"
	"github.com/tasklink/backend/internal/models"
)

type CreateOfferRequest struct {
	ClientID       uuid.UUID       `json:"client_id"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	Description    string          `json:"description"`
	Price          decimal.Decimal `json:"price"`
}

type OfferResponse struct {
	ID             string     `json:"id"`
	ClientID       string     `json:"client_id"`
	ProfessionalID string     `json:"professional_id"`
	ConversationID string     `json:"conversation_id"`
	Description    string     `json:"description"`
	Price          string     `json:"price"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	RespondedAt    *time.Time `json:"responded_at,omitempty"`
}

type AcceptOfferResponse struct {
	Offer OfferResponse    `json:"offer"`
	Job   jobs.JobResponse `json:"job"`
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

// --- POST /api/v1/offers ---

func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req CreateOfferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	o, err := h.svc.CreateOffer(r.Context(), actor, NewOffer{
		ClientID:       req.ClientID,
		ConversationID: req.ConversationID,
		Description:    req.Description,
		Price:          req.Price,
	})
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toResponse(o))
}

// --- GET /api/v1/offers/{id} ---

func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	o, err := h.svc.GetOffer(r.Context(), id, actor)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(o))
}

// --- POST /api/v1/offers/{id}/accept ---

func (h *Handler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	o, job, err := h.svc.AcceptOffer(r.Context(), id, actor)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, AcceptOfferResponse{Offer: toResponse(o), Job: jobs.ToResponse(job)})
}

// --- POST /api/v1/offers/{id}/reject ---

func (h *Handler) RejectOffer(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	o, err := h.svc.RejectOffer(r.Context(), id, actor)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(o))
}

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (models.Actor, uuid.UUID, bool) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return models.Actor{}, uuid.Nil, false
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return models.Actor{}, uuid.Nil, false
	}
	return actor, id, true
}

func toResponse(o *models.Offer) OfferResponse {
	return OfferResponse{
		ID:             o.ID.String(),
		ClientID:       o.ClientID.String(),
		ProfessionalID: o.ProfessionalID.String(),
		ConversationID: o.ConversationID.String(),
		Description:    o.Description,
		Price:          o.Price.StringFixed(2),
		Status:         o.Status,
		CreatedAt:      o.CreatedAt,
		RespondedAt:    o.RespondedAt,
	}
}

package escrow

import (
	"bytes"
	"context"
	"crypto/subtle"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"github.com/tasklink/backend/internal/gateway"
	"github.com/tasklink/backend/internal/httpx"
	"github.com/tasklink/backend/internal/middleware"
	"github.com/tasklink/backend/internal/models"
)

//go:embed schemas/payment_webhook.json
var webhookSchemaJSON string

const maxWebhookBody = 64 << 10

// Service is the part of the controller the HTTP layer uses.
type Service interface {
	OnDepositConfirmed(ctx context.Context, jobID uuid.UUID, amount decimal.Decimal, gatewayReference string) (*models.Transaction, error)
	ComputeBalance(ctx context.Context, professionalID uuid.UUID) (models.Balance, error)
	ListTransactions(ctx context.Context, jobID uuid.UUID, actor models.Actor) ([]*models.Transaction, error)
}

var _ Service = (*Controller)(nil)

type WebhookRequest struct {
	JobID            uuid.UUID       `json:"job_id"`
	Amount           decimal.Decimal `json:"amount"`
	GatewayReference string          `json:"gateway_reference"`
}

type TransactionResponse struct {
	ID               string    `json:"id"`
	JobID            string    `json:"job_id"`
	Type             string    `json:"type"`
	Status           string    `json:"status"`
	Amount           string    `json:"amount"`
	Commission       string    `json:"commission"`
	CommissionRate   string    `json:"commission_rate"`
	GatewayReference *string   `json:"gateway_reference,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type BalanceResponse struct {
	ProfessionalID  string `json:"professional_id"`
	Available       string `json:"available"`
	Pending         string `json:"pending"`
	TotalEarned     string `json:"total_earned"`
	TotalCommission string `json:"total_commission"`
	JobsCompleted   int    `json:"jobs_completed"`
}

type Handler struct {
	svc      Service
	verifier gateway.Verifier
	secret   string
	schema   *jsonschema.Schema
	log      *slog.Logger
}

// NewHandler builds the escrow HTTP handler. verifier may be nil, in which
// case webhook payments are trusted as delivered. An empty secret disables
// the X-Webhook-Secret check.
func NewHandler(svc Service, verifier gateway.Verifier, secret string, log *slog.Logger) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	schema, err := jsonschema.CompileString("payment_webhook.json", webhookSchemaJSON)
	if err != nil {
		return nil, err
	}
	return &Handler{svc: svc, verifier: verifier, secret: secret, schema: schema, log: log}, nil
}

// --- POST /api/v1/webhooks/payments ---

func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			http.Error(w, `{"error":"invalid webhook secret"}`, http.StatusUnauthorized)
			return
		}
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httpx.WriteError(w, h.log, models.Validationf("read body"))
		return
	}
	req, err := h.parseWebhook(body)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	log := h.log.With("job_id", req.JobID, "gateway_reference", req.GatewayReference)

	if h.verifier != nil {
		if err := h.verifier.Verify(r.Context(), req.GatewayReference, req.Amount); err != nil {
			switch {
			case errors.Is(err, gateway.ErrNotApproved), errors.Is(err, gateway.ErrAmountMismatch), errors.Is(err, gateway.ErrInvalidReference):
				log.Warn("payment verification rejected", "error", err)
				httpx.WriteError(w, h.log, models.Validationf("%v", err))
			default:
				log.Error("payment verification failed", "error", err)
				httpx.WriteJSON(w, http.StatusBadGateway, map[string]string{"error": "payment gateway unavailable"})
			}
			return
		}
	}

	deposit, err := h.svc.OnDepositConfirmed(r.Context(), req.JobID, req.Amount, req.GatewayReference)
	if IsDuplicate(err) {
		log.Info("duplicate payment confirmation ignored")
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}
	if err != nil {
		log.Warn("payment confirmation rejected", "error", err)
		httpx.WriteError(w, h.log, err)
		return
	}
	log.Info("payment held in escrow", "amount", deposit.Amount.StringFixed(2))
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "recorded", "transaction": toTransactionResponse(deposit)})
}

func (h *Handler) parseWebhook(body []byte) (*WebhookRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, models.Validationf("invalid JSON body")
	}
	if err := h.schema.Validate(doc); err != nil {
		return nil, models.Validationf("payload does not match schema: %v", err)
	}
	var req WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, models.Validationf("invalid payload: %v", err)
	}
	return &req, nil
}

// --- GET /api/v1/balance ---

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	b, err := h.svc.ComputeBalance(r.Context(), actor.ID)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, BalanceResponse{
		ProfessionalID:  b.ProfessionalID.String(),
		Available:       b.Available.StringFixed(2),
		Pending:         b.Pending.StringFixed(2),
		TotalEarned:     b.TotalEarned.StringFixed(2),
		TotalCommission: b.TotalCommission.StringFixed(2),
		JobsCompleted:   b.JobsCompleted,
	})
}

// --- GET /api/v1/jobs/{id}/transactions ---

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
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
	list, err := h.svc.ListTransactions(r.Context(), id, actor)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	resp := make([]TransactionResponse, 0, len(list))
	for _, t := range list {
		resp = append(resp, toTransactionResponse(t))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func toTransactionResponse(t *models.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:               t.ID.String(),
		JobID:            t.JobID.String(),
		Type:             t.Type,
		Status:           t.Status,
		Amount:           t.Amount.StringFixed(2),
		Commission:       t.Commission.StringFixed(2),
		CommissionRate:   t.CommissionRate.String(),
		GatewayReference: t.GatewayReference,
		CreatedAt:        t.CreatedAt,
	}
}

// Package gateway confirms with the payment provider that a webhook's
// payment really happened before escrow records it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/shopspring/decimal"
)

var (
	ErrMissingAccessToken = errors.New("missing MERCADOPAGO_ACCESS_TOKEN")
	ErrInvalidReference   = errors.New("invalid payment reference")
	ErrNotApproved        = errors.New("payment not approved")
	ErrAmountMismatch     = errors.New("payment amount mismatch")
)

//go:generate mockgen -destination=mocks/mock_verifier.go -package=mocks github.com/tasklink/backend/internal/gateway Verifier

// Verifier checks a gateway payment against the amount the webhook claims.
type Verifier interface {
	Verify(ctx context.Context, reference string, amount decimal.Decimal) error
}

// paymentGetter is the part of payment.Client the verifier uses.
type paymentGetter interface {
	Get(ctx context.Context, id int) (*payment.Response, error)
}

type MercadoPagoVerifier struct {
	client   paymentGetter
	mockMode bool
	log      *slog.Logger
}

var _ Verifier = (*MercadoPagoVerifier)(nil)

// NewMercadoPagoVerifier builds a verifier backed by the Mercado Pago API.
// In mock mode every payment is accepted and no token is needed.
func NewMercadoPagoVerifier(accessToken string, mockMode bool, log *slog.Logger) (*MercadoPagoVerifier, error) {
	if log == nil {
		log = slog.Default()
	}
	if mockMode {
		log.Info("payment gateway mock mode enabled")
		return &MercadoPagoVerifier{mockMode: true, log: log}, nil
	}
	if accessToken == "" {
		return nil, ErrMissingAccessToken
	}
	cfg, err := config.New(accessToken)
	if err != nil {
		return nil, fmt.Errorf("mercadopago config: %w", err)
	}
	return &MercadoPagoVerifier{client: payment.NewClient(cfg), log: log}, nil
}

func (v *MercadoPagoVerifier) Verify(ctx context.Context, reference string, amount decimal.Decimal) error {
	if v.mockMode {
		v.log.Debug("mock payment verification", "gateway_reference", reference)
		return nil
	}
	id, err := strconv.Atoi(strings.TrimSpace(reference))
	if err != nil || id <= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidReference, reference)
	}
	resp, err := v.client.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("mercadopago get payment %d: %w", id, err)
	}
	if resp.Status != "approved" {
		return fmt.Errorf("%w: payment %d is %s", ErrNotApproved, id, resp.Status)
	}
	paid := decimal.NewFromFloat(resp.TransactionAmount).Round(2)
	if !paid.Equal(amount) {
		return fmt.Errorf("%w: gateway has %s, webhook claims %s", ErrAmountMismatch, paid.StringFixed(2), amount.StringFixed(2))
	}
	return nil
}

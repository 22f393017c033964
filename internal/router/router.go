package router

import (
	"net/http"

	"github.com/tasklink/backend/internal/escrow"
	"github.com/tasklink/backend/internal/jobs"
	"github.com/tasklink/backend/internal/offers"
)

// New returns an http.Handler that serves the API under /api/v1. auth wraps
// every route except the payment webhook, which authenticates with its own
// shared secret.
func New(auth func(http.Handler) http.Handler, offersHandler *offers.Handler, jobsHandler *jobs.Handler, escrowHandler *escrow.Handler) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	secured := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, auth(h))
	}

	secured("POST "+base+"/offers", offersHandler.CreateOffer)
	secured("GET "+base+"/offers/{id}", offersHandler.GetOffer)
	secured("POST "+base+"/offers/{id}/accept", offersHandler.AcceptOffer)
	secured("POST "+base+"/offers/{id}/reject", offersHandler.RejectOffer)

	secured("GET "+base+"/jobs", jobsHandler.ListJobs)
	secured("GET "+base+"/jobs/{id}", jobsHandler.GetJob)
	secured("GET "+base+"/jobs/{id}/timeline", jobsHandler.GetTimeline)
	secured("POST "+base+"/jobs/{id}/start", jobsHandler.StartJob)
	secured("POST "+base+"/jobs/{id}/complete", jobsHandler.CompleteJob)
	secured("POST "+base+"/jobs/{id}/approve", jobsHandler.ApproveJob)
	secured("POST "+base+"/jobs/{id}/cancel", jobsHandler.CancelJob)

	secured("GET "+base+"/jobs/{id}/transactions", escrowHandler.ListTransactions)
	secured("GET "+base+"/balance", escrowHandler.GetBalance)

	mux.HandleFunc("POST "+base+"/webhooks/payments", escrowHandler.PaymentWebhook)

	return mux
}

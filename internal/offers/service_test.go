package offers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tasklink/backend/internal/events"
	"github.com/tasklink/backend/internal/models"
	"github.com/tasklink/backend/internal/storetest"
	"github.com/tasklink/backend/internal/timeline"
)

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	store  *storetest.Store
	engine *Engine
	client models.Actor
	pro    models.Actor
	now    time.Time
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storetest.New()
	f := &fixture{
		store:  st,
		client: models.Actor{ID: uuid.New(), Name: "Clara"},
		pro:    models.Actor{ID: uuid.New(), Name: "Pedro"},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(st, st.Offers(), st.Jobs(), timeline.NewLog(st.Timeline()), st.Emitter(), 72*time.Hour, discardLogger())
	f.engine.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) offer(t *testing.T, price string) *models.Offer {
	t.Helper()
	o, err := f.engine.CreateOffer(context.Background(), f.pro, NewOffer{
		ClientID:       f.client.ID,
		ConversationID: uuid.New(),
		Description:    "Paint the living room",
		Price:          decimal.RequireFromString(price),
	})
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	return o
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestCreateOffer(t *testing.T) {
	f := newFixture(t)
	o := f.offer(t, "15000.00")

	if o.Status != models.OfferStatusOffered || o.ProfessionalID != f.pro.ID || !o.CreatedAt.Equal(f.now) {
		t.Errorf("offer = %+v", o)
	}
	stored, err := f.store.Offers().GetByID(context.Background(), o.ID)
	if err != nil || stored.Status != models.OfferStatusOffered {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
}

func TestCreateOffer_Validation(t *testing.T) {
	f := newFixture(t)
	base := NewOffer{ClientID: f.client.ID, ConversationID: uuid.New(), Description: "x", Price: decimal.NewFromInt(10)}
	tests := []struct {
		name string
		mod  func(*NewOffer)
	}{
		{"zero price", func(n *NewOffer) { n.Price = decimal.Zero }},
		{"negative price", func(n *NewOffer) { n.Price = decimal.NewFromInt(-5) }},
		{"sub-cent price", func(n *NewOffer) { n.Price = decimal.RequireFromString("10.001") }},
		{"blank description", func(n *NewOffer) { n.Description = "   " }},
		{"self offer", func(n *NewOffer) { n.ClientID = f.pro.ID }},
		{"missing client", func(n *NewOffer) { n.ClientID = uuid.Nil }},
		{"missing conversation", func(n *NewOffer) { n.ConversationID = uuid.Nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mod(&in)
			if _, err := f.engine.CreateOffer(context.Background(), f.pro, in); !errors.Is(err, models.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestAcceptOffer_CreatesJob(t *testing.T) {
	f := newFixture(t)
	o := f.offer(t, "15000.00")

	accepted, job, err := f.engine.AcceptOffer(context.Background(), o.ID, f.client)
	if err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	if accepted.Status != models.OfferStatusAccepted || accepted.RespondedAt == nil {
		t.Errorf("offer = %+v", accepted)
	}
	if job.Status != models.JobStatusPendingPayment || !job.FinalPrice.Equal(o.Price) || job.OfferID != o.ID {
		t.Errorf("job = %+v", job)
	}
	if job.ClientID != f.client.ID || job.ProfessionalID != f.pro.ID {
		t.Errorf("job parties = %s/%s", job.ClientID, job.ProfessionalID)
	}

	tl, _ := f.store.Timeline().ListByJob(context.Background(), job.ID)
	if len(tl) != 1 || tl[0].PreviousStatus != nil || *tl[0].NewStatus != models.JobStatusPendingPayment {
		t.Fatalf("timeline = %+v", tl)
	}
	evts := f.store.Events()
	if len(evts) != 1 || evts[0].Kind != events.KindJobCreated || *evts[0].JobID != job.ID {
		t.Errorf("events = %+v", evts)
	}
}

func TestAcceptOffer_Twice(t *testing.T) {
	f := newFixture(t)
	o := f.offer(t, "100")
	ctx := context.Background()

	if _, _, err := f.engine.AcceptOffer(ctx, o.ID, f.client); err != nil {
		t.Fatal(err)
	}
	_, _, err := f.engine.AcceptOffer(ctx, o.ID, f.client)
	var se *models.StateError
	if !errors.As(err, &se) || se.Current != models.OfferStatusAccepted {
		t.Fatalf("expected StateError(ACCEPTED), got %v", err)
	}
	if n := f.store.JobCount(); n != 1 {
		t.Errorf("jobs = %d, want 1", n)
	}
}

func TestAcceptOffer_ConcurrentYieldsOneJob(t *testing.T) {
	f := newFixture(t)
	o := f.offer(t, "100")

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = f.engine.AcceptOffer(context.Background(), o.ID, f.client)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, models.ErrInvalidState) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || f.store.JobCount() != 1 {
		t.Errorf("successes = %d, jobs = %d; want 1 and 1", ok, f.store.JobCount())
	}
}

func TestAcceptOffer_OnlyAddressedClient(t *testing.T) {
	f := newFixture(t)
	o := f.offer(t, "100")

	for _, a := range []models.Actor{f.pro, {ID: uuid.New(), Name: "Eve"}} {
		if _, _, err := f.engine.AcceptOffer(context.Background(), o.ID, a); !errors.Is(err, models.ErrPermissionDenied) {
			t.Errorf("%s: expected ErrPermissionDenied, got %v", a.Name, err)
		}
	}
	if f.store.JobCount() != 0 {
		t.Error("a job was created")
	}
}

func TestAcceptOffer_PastTTL(t *testing.T) {
	f := newFixture(t)
	o := f.offer(t, "100")
	f.now = f.now.Add(73 * time.Hour)

	_, _, err := f.engine.AcceptOffer(context.Background(), o.ID, f.client)
	var se *models.StateError
	if !errors.As(err, &se) || se.Current != models.OfferStatusExpired {
		t.Fatalf("expected StateError(EXPIRED), got %v", err)
	}
	stored, _ := f.store.Offers().GetByID(context.Background(), o.ID)
	if stored.Status != models.OfferStatusOffered {
		t.Errorf("status = %s; the sweep, not accept, marks it EXPIRED", stored.Status)
	}
}

// At exactly created_at+ttl the offer can no longer be accepted, so the
// sweep must pick it up too.
func TestExpiryBoundary_AcceptAndSweepAgree(t *testing.T) {
	f := newFixture(t)
	o := f.offer(t, "100")
	ctx := context.Background()
	f.now = o.CreatedAt.Add(72 * time.Hour)

	if _, _, err := f.engine.AcceptOffer(ctx, o.ID, f.client); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("accept at ttl: expected ErrInvalidState, got %v", err)
	}
	n, err := f.engine.ExpireOffers(ctx, f.now)
	if err != nil {
		t.Fatalf("ExpireOffers: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d at ttl, want 1", n)
	}
	stored, _ := f.store.Offers().GetByID(ctx, o.ID)
	if stored.Status != models.OfferStatusExpired {
		t.Errorf("status = %s, want EXPIRED", stored.Status)
	}
}

func TestExpireOffers_JustBeforeTTL(t *testing.T) {
	f := newFixture(t)
	o := f.offer(t, "100")
	if n, _ := f.engine.ExpireOffers(context.Background(), o.CreatedAt.Add(72*time.Hour-time.Nanosecond)); n != 0 {
		t.Errorf("expired %d before ttl", n)
	}
}

func TestRejectOffer(t *testing.T) {
	f := newFixture(t)
	o := f.offer(t, "100")
	ctx := context.Background()

	got, err := f.engine.RejectOffer(ctx, o.ID, f.client)
	if err != nil {
		t.Fatalf("RejectOffer: %v", err)
	}
	if got.Status != models.OfferStatusRejected {
		t.Errorf("status = %s", got.Status)
	}
	if f.store.JobCount() != 0 {
		t.Error("reject created a job")
	}
	if _, _, err := f.engine.AcceptOffer(ctx, o.ID, f.client); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("accept after reject: expected ErrInvalidState, got %v", err)
	}
	if _, err := f.engine.RejectOffer(ctx, o.ID, f.pro); !errors.Is(err, models.ErrPermissionDenied) {
		t.Errorf("reject by professional: expected ErrPermissionDenied, got %v", err)
	}
}

func TestExpireOffers(t *testing.T) {
	f := newFixture(t)
	old := f.offer(t, "100")
	f.now = f.now.Add(48 * time.Hour)
	fresh := f.offer(t, "200")
	ctx := context.Background()

	n, err := f.engine.ExpireOffers(ctx, f.now.Add(30*time.Hour))
	if err != nil {
		t.Fatalf("ExpireOffers: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}
	o1, _ := f.store.Offers().GetByID(ctx, old.ID)
	o2, _ := f.store.Offers().GetByID(ctx, fresh.ID)
	if o1.Status != models.OfferStatusExpired || o1.RespondedAt == nil {
		t.Errorf("old offer = %+v", o1)
	}
	if o2.Status != models.OfferStatusOffered {
		t.Errorf("fresh offer = %s", o2.Status)
	}

	// Idempotent.
	if n, err := f.engine.ExpireOffers(ctx, f.now.Add(30*time.Hour)); err != nil || n != 0 {
		t.Errorf("second sweep: %d, %v", n, err)
	}
	evts := f.store.Events()
	if len(evts) != 1 || evts[0].Kind != events.KindOfferExpired {
		t.Errorf("events = %+v", evts)
	}
}

func TestExpireOffers_SkipsAccepted(t *testing.T) {
	f := newFixture(t)
	o := f.offer(t, "100")
	ctx := context.Background()
	if _, _, err := f.engine.AcceptOffer(ctx, o.ID, f.client); err != nil {
		t.Fatal(err)
	}
	if n, _ := f.engine.ExpireOffers(ctx, f.now.Add(100*time.Hour)); n != 0 {
		t.Errorf("expired %d accepted offers", n)
	}
}

func TestExpireVersusAccept_ExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	o := f.offer(t, "100")
	f.now = f.now.Add(71 * time.Hour) // accept still within TTL
	ctx := context.Background()

	var wg sync.WaitGroup
	var acceptErr error
	var expired int
	wg.Add(2)
	go func() { defer wg.Done(); _, _, acceptErr = f.engine.AcceptOffer(ctx, o.ID, f.client) }()
	go func() { defer wg.Done(); expired, _ = f.engine.ExpireOffers(ctx, o.CreatedAt.Add(73*time.Hour)) }()
	wg.Wait()

	stored, _ := f.store.Offers().GetByID(ctx, o.ID)
	switch stored.Status {
	case models.OfferStatusAccepted:
		if acceptErr != nil || expired != 0 || f.store.JobCount() != 1 {
			t.Errorf("accept won but err=%v expired=%d jobs=%d", acceptErr, expired, f.store.JobCount())
		}
	case models.OfferStatusExpired:
		if !errors.Is(acceptErr, models.ErrInvalidState) || expired != 1 || f.store.JobCount() != 0 {
			t.Errorf("expiry won but err=%v expired=%d jobs=%d", acceptErr, expired, f.store.JobCount())
		}
	default:
		t.Fatalf("offer left in %s", stored.Status)
	}
}

func TestGetOffer_PartiesOnly(t *testing.T) {
	f := newFixture(t)
	o := f.offer(t, "100")
	ctx := context.Background()

	for _, a := range []models.Actor{f.client, f.pro} {
		if _, err := f.engine.GetOffer(ctx, o.ID, a); err != nil {
			t.Errorf("%s: %v", a.Name, err)
		}
	}
	if _, err := f.engine.GetOffer(ctx, o.ID, models.Actor{ID: uuid.New()}); !errors.Is(err, models.ErrPermissionDenied) {
		t.Errorf("stranger: expected ErrPermissionDenied, got %v", err)
	}
	if _, err := f.engine.GetOffer(ctx, uuid.New(), f.client); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("missing: expected ErrNotFound, got %v", err)
	}
}

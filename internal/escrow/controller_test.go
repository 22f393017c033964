package escrow

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
	"github.com/tasklink/backend/internal/jobs"
	"github.com/tasklink/backend/internal/models"
	"github.com/tasklink/backend/internal/storetest"
	"github.com/tasklink/backend/internal/timeline"
)

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	store   *storetest.Store
	ctrl    *Controller
	machine *jobs.Machine
	client  models.Actor
	pro     models.Actor
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storetest.New()
	tl := timeline.NewLog(st.Timeline())
	tr := jobs.NewTransitioner(st.Jobs(), tl, st.Emitter())
	ctrl := NewController(st, st.Ledger(), st.Jobs(), tr, tl, st.Emitter(), dec("0.10"), discardLogger())
	return &fixture{
		store:   st,
		ctrl:    ctrl,
		machine: jobs.NewMachine(st, st.Jobs(), tr, ctrl, tl, discardLogger()),
		client:  models.Actor{ID: uuid.New(), Name: "Carla"},
		pro:     models.Actor{ID: uuid.New(), Name: "Paulo"},
	}
}

func (f *fixture) seedJob(t *testing.T, price string) *models.Job {
	t.Helper()
	j := &models.Job{
		ID:             uuid.New(),
		OfferID:        uuid.New(),
		ClientID:       f.client.ID,
		ProfessionalID: f.pro.ID,
		FinalPrice:     dec(price),
		Status:         models.JobStatusPendingPayment,
		CreatedAt:      time.Now().UTC(),
		Images:         []string{},
	}
	if err := f.store.Jobs().CreateTx(context.Background(), nil, j); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return j
}

func (f *fixture) job(t *testing.T, id uuid.UUID) *models.Job {
	t.Helper()
	j, err := f.store.Jobs().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return j
}

func (f *fixture) entries(t *testing.T, jobID uuid.UUID) []*models.Transaction {
	t.Helper()
	list, err := f.store.Ledger().ListByJob(context.Background(), jobID)
	if err != nil {
		t.Fatal(err)
	}
	return list
}

func (f *fixture) pay(t *testing.T, j *models.Job, ref string) {
	t.Helper()
	if _, err := f.ctrl.OnDepositConfirmed(context.Background(), j.ID, j.FinalPrice, ref); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestFullLifecycle_ReleasesNetOfCommission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.seedJob(t, "15000.00")

	deposit, err := f.ctrl.OnDepositConfirmed(ctx, j.ID, dec("15000.00"), "mp-1001")
	if err != nil {
		t.Fatalf("OnDepositConfirmed: %v", err)
	}
	if deposit.Type != models.TxTypeDeposit || deposit.Status != models.TxStatusHeld {
		t.Errorf("deposit = %s/%s, want DEPOSIT/HELD", deposit.Type, deposit.Status)
	}
	if !deposit.Commission.Equal(dec("1500")) || !deposit.CommissionRate.Equal(dec("0.10")) {
		t.Errorf("commission = %s at %s, want 1500 at 0.10", deposit.Commission, deposit.CommissionRate)
	}
	if got := f.job(t, j.ID).Status; got != models.JobStatusPaid {
		t.Fatalf("status after deposit = %s, want PAID", got)
	}

	if _, err := f.machine.StartJob(ctx, j.ID, f.pro); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if _, err := f.machine.CompleteJob(ctx, j.ID, f.pro, jobs.Completion{Notes: "done"}); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	approved, err := f.machine.ApproveJob(ctx, j.ID, f.client, "great work")
	if err != nil {
		t.Fatalf("ApproveJob: %v", err)
	}
	if approved.Status != models.JobStatusApproved || approved.ApprovedAt == nil {
		t.Errorf("approved job = %+v", approved)
	}

	entries := f.entries(t, j.ID)
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(entries))
	}
	rel := entries[1]
	if rel.Type != models.TxTypeRelease || rel.Status != models.TxStatusReleased {
		t.Errorf("second entry = %s/%s, want RELEASE/RELEASED", rel.Type, rel.Status)
	}
	if !rel.Amount.Equal(dec("13500")) || !rel.Commission.Equal(dec("1500")) {
		t.Errorf("release = %s (commission %s), want 13500 (1500)", rel.Amount, rel.Commission)
	}

	b, err := f.ctrl.ComputeBalance(ctx, f.pro.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !b.Available.Equal(dec("13500")) || !b.Pending.IsZero() || !b.TotalCommission.Equal(dec("1500")) || b.JobsCompleted != 1 {
		t.Errorf("balance = %+v", b)
	}

	tl, _ := f.store.Timeline().ListByJob(ctx, j.ID)
	if len(tl) != 4 {
		t.Fatalf("expected 4 timeline entries, got %d", len(tl))
	}
	if *tl[0].NewStatus != models.JobStatusPaid || tl[0].ActorID != models.SystemActorID {
		t.Errorf("first entry = %+v, want system PAID", tl[0])
	}
}

func TestCancelWhilePaid_RefundsInFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.seedJob(t, "15000.00")
	f.pay(t, j, "mp-1")

	cancelled, err := f.machine.CancelJob(ctx, j.ID, f.client, "changed my mind")
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if cancelled.Status != models.JobStatusCancelled || cancelled.CancelledAt == nil {
		t.Errorf("job = %+v", cancelled)
	}
	entries := f.entries(t, j.ID)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Type != models.TxTypeRefund || !entries[1].Amount.Equal(dec("15000")) {
		t.Errorf("refund = %s %s, want REFUND 15000", entries[1].Type, entries[1].Amount)
	}
	b, _ := f.ctrl.ComputeBalance(ctx, f.pro.ID)
	if !b.Available.IsZero() || !b.Pending.IsZero() {
		t.Errorf("balance after refund = %+v", b)
	}
}

func TestCancelBeforePayment_NoLedgerEntries(t *testing.T) {
	f := newFixture(t)
	j := f.seedJob(t, "300")

	if _, err := f.machine.CancelJob(context.Background(), j.ID, f.pro, ""); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if n := len(f.entries(t, j.ID)); n != 0 {
		t.Errorf("expected no ledger entries, got %d", n)
	}
}

func TestDuplicateWebhook_OneDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.seedJob(t, "250.00")
	f.pay(t, j, "mp-dup")

	_, err := f.ctrl.OnDepositConfirmed(ctx, j.ID, dec("250.00"), "mp-dup")
	if !IsDuplicate(err) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if n := len(f.entries(t, j.ID)); n != 1 {
		t.Errorf("expected 1 entry, got %d", n)
	}
}

func TestDuplicateWebhook_Concurrent(t *testing.T) {
	f := newFixture(t)
	j := f.seedJob(t, "99.90")

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, dup := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ctrl.OnDepositConfirmed(context.Background(), j.ID, dec("99.90"), "mp-race")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case IsDuplicate(err):
				dup++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || dup != 7 {
		t.Errorf("ok=%d dup=%d, want 1 and 7", ok, dup)
	}
	if n := len(f.entries(t, j.ID)); n != 1 {
		t.Errorf("expected 1 entry, got %d", n)
	}
}

func TestDeposit_AmountMismatch(t *testing.T) {
	f := newFixture(t)
	j := f.seedJob(t, "100.00")

	_, err := f.ctrl.OnDepositConfirmed(context.Background(), j.ID, dec("90.00"), "mp-x")
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if got := f.job(t, j.ID).Status; got != models.JobStatusPendingPayment {
		t.Errorf("status = %s, want PENDING_PAYMENT", got)
	}
	if n := len(f.entries(t, j.ID)); n != 0 {
		t.Errorf("expected no entries, got %d", n)
	}
}

func TestDeposit_Validation(t *testing.T) {
	f := newFixture(t)
	j := f.seedJob(t, "100.00")
	ctx := context.Background()

	if _, err := f.ctrl.OnDepositConfirmed(ctx, j.ID, dec("100"), ""); !errors.Is(err, models.ErrValidation) {
		t.Errorf("empty reference: expected ErrValidation, got %v", err)
	}
	if _, err := f.ctrl.OnDepositConfirmed(ctx, j.ID, dec("0"), "r"); !errors.Is(err, models.ErrValidation) {
		t.Errorf("zero amount: expected ErrValidation, got %v", err)
	}
	if _, err := f.ctrl.OnDepositConfirmed(ctx, uuid.New(), dec("100"), "r"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown job: expected ErrNotFound, got %v", err)
	}
}

func TestDeposit_AfterCancellationIsRefunded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.seedJob(t, "500.00")
	if _, err := f.machine.CancelJob(ctx, j.ID, f.client, "found someone else"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.ctrl.OnDepositConfirmed(ctx, j.ID, dec("500.00"), "mp-late"); err != nil {
		t.Fatalf("late deposit: %v", err)
	}
	entries := f.entries(t, j.ID)
	if len(entries) != 2 || entries[0].Type != models.TxTypeDeposit || entries[1].Type != models.TxTypeRefund {
		t.Fatalf("entries = %+v, want DEPOSIT then REFUND", entries)
	}
	if got := f.job(t, j.ID).Status; got != models.JobStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", got)
	}
	tl, _ := f.store.Timeline().ListByJob(ctx, j.ID)
	last := tl[len(tl)-1]
	if last.NewStatus != nil || last.ActorID != models.SystemActorID {
		t.Errorf("last timeline entry = %+v, want a system note without status change", last)
	}
}

func TestDeposit_OnPaidJobWithNewReference(t *testing.T) {
	f := newFixture(t)
	j := f.seedJob(t, "80")
	f.pay(t, j, "mp-a")

	_, err := f.ctrl.OnDepositConfirmed(context.Background(), j.ID, dec("80"), "mp-b")
	var te *models.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if te.Current != models.JobStatusPaid || te.Requested != models.JobStatusPaid {
		t.Errorf("error = %+v", te)
	}
}

func TestReleaseFunds_NoDoubleRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.seedJob(t, "1000")
	f.pay(t, j, "mp-1")

	tx, _ := f.store.Begin(ctx)
	defer tx.Rollback(ctx)
	job := f.job(t, j.ID)
	if _, err := f.ctrl.ReleaseFunds(ctx, tx, job, f.client); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if _, err := f.ctrl.ReleaseFunds(ctx, tx, job, f.client); !errors.Is(err, models.ErrLedgerInconsistency) {
		t.Fatalf("second release: expected ErrLedgerInconsistency, got %v", err)
	}
}

func TestReleaseFunds_WithoutDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.seedJob(t, "1000")

	tx, _ := f.store.Begin(ctx)
	defer tx.Rollback(ctx)
	if _, err := f.ctrl.ReleaseFunds(ctx, tx, j, f.client); !errors.Is(err, models.ErrLedgerInconsistency) {
		t.Fatalf("expected ErrLedgerInconsistency, got %v", err)
	}
}

func TestRefundFunds_NoopWhenNothingHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.seedJob(t, "1000")

	tx, _ := f.store.Begin(ctx)
	defer tx.Rollback(ctx)
	refund, err := f.ctrl.RefundFunds(ctx, tx, j, f.client)
	if err != nil || refund != nil {
		t.Fatalf("expected no-op, got %v, %v", refund, err)
	}
}

func TestApprove_RollsBackWhenReleaseFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.seedJob(t, "200")
	f.pay(t, j, "mp-1")
	if _, err := f.machine.StartJob(ctx, j.ID, f.pro); err != nil {
		t.Fatal(err)
	}
	if _, err := f.machine.CompleteJob(ctx, j.ID, f.pro, jobs.Completion{}); err != nil {
		t.Fatal(err)
	}
	timelineBefore, _ := f.store.Timeline().ListByJob(ctx, j.ID)
	eventsBefore := len(f.store.Events())

	f.store.Ledger().FailAppend = errors.New("disk full")
	if _, err := f.machine.ApproveJob(ctx, j.ID, f.client, ""); err == nil {
		t.Fatal("expected approve to fail")
	}

	if got := f.job(t, j.ID); got.Status != models.JobStatusCompleted || got.ApprovedAt != nil {
		t.Errorf("job after failed approve = %s (approved_at %v), want COMPLETED", got.Status, got.ApprovedAt)
	}
	timelineAfter, _ := f.store.Timeline().ListByJob(ctx, j.ID)
	if len(timelineAfter) != len(timelineBefore) {
		t.Errorf("timeline grew from %d to %d", len(timelineBefore), len(timelineAfter))
	}
	if n := len(f.store.Events()); n != eventsBefore {
		t.Errorf("events grew from %d to %d", eventsBefore, n)
	}
	if n := len(f.entries(t, j.ID)); n != 1 {
		t.Errorf("expected only the deposit, got %d entries", n)
	}

	// Retry succeeds once the store recovers.
	if _, err := f.machine.ApproveJob(ctx, j.ID, f.client, ""); err != nil {
		t.Fatalf("retry approve: %v", err)
	}
}

func TestConcurrentApprove_ReleasesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.seedJob(t, "700")
	f.pay(t, j, "mp-1")
	f.machine.StartJob(ctx, j.ID, f.pro)
	f.machine.CompleteJob(ctx, j.ID, f.pro, jobs.Completion{})

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.machine.ApproveJob(ctx, j.ID, f.client, "")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, models.ErrInvalidTransition) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("%d approvals succeeded, want 1", ok)
	}
	releases := 0
	for _, e := range f.entries(t, j.ID) {
		if e.Type == models.TxTypeRelease {
			releases++
		}
	}
	if releases != 1 {
		t.Errorf("%d release entries, want 1", releases)
	}
}

func TestEvents_FundsMovements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.seedJob(t, "40")
	f.pay(t, j, "mp-1")
	f.machine.CancelJob(ctx, j.ID, f.pro, "")

	var kinds []string
	for _, e := range f.store.Events() {
		kinds = append(kinds, e.Kind)
	}
	want := []string{
		events.KindJobStatusChanged, events.KindFundsHeld,
		events.KindJobStatusChanged, events.KindFundsRefunded,
	}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestListTransactions_PartiesOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.seedJob(t, "10")
	f.pay(t, j, "mp-1")

	if list, err := f.ctrl.ListTransactions(ctx, j.ID, f.client); err != nil || len(list) != 1 {
		t.Errorf("client: %v, %d entries", err, len(list))
	}
	stranger := models.Actor{ID: uuid.New(), Name: "x"}
	if _, err := f.ctrl.ListTransactions(ctx, j.ID, stranger); !errors.Is(err, models.ErrPermissionDenied) {
		t.Errorf("stranger: expected ErrPermissionDenied, got %v", err)
	}
}

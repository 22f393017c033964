package timeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tasklink/backend/internal/models"
	"github.com/tasklink/backend/internal/storetest"
)

func TestRecord_CreationEntryHasNoPreviousStatus(t *testing.T) {
	st := storetest.New()
	log := NewLog(st.Timeline())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("BRT", -3*3600))
	log.SetClock(func() time.Time { return at })
	ctx := context.Background()
	actor := models.Actor{ID: uuid.New(), Name: "Clara"}
	jobID := uuid.New()

	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	e, err := log.Record(ctx, tx, Entry{
		JobID:       jobID,
		Actor:       actor,
		Description: "Offer accepted; job created for 100.00",
		NewStatus:   models.JobStatusPendingPayment,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	if e.PreviousStatus != nil {
		t.Errorf("previous_status = %q, want nil", *e.PreviousStatus)
	}
	if e.NewStatus == nil || *e.NewStatus != models.JobStatusPendingPayment {
		t.Errorf("new_status = %v", e.NewStatus)
	}
	if e.ActorID != actor.ID || e.ActorName != "Clara" {
		t.Errorf("actor = %s %q", e.ActorID, e.ActorName)
	}
	if !e.CreatedAt.Equal(at) || e.CreatedAt.Location() != time.UTC {
		t.Errorf("created_at = %v, want %v in UTC", e.CreatedAt, at)
	}
}

func TestList_ChronologicalAndPerJob(t *testing.T) {
	st := storetest.New()
	log := NewLog(st.Timeline())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	log.SetClock(func() time.Time { return now })
	ctx := context.Background()
	actor := models.Actor{ID: uuid.New(), Name: "Pedro"}
	jobID, other := uuid.New(), uuid.New()

	steps := []struct {
		job      uuid.UUID
		from, to string
	}{
		{jobID, "", models.JobStatusPendingPayment},
		{other, "", models.JobStatusPendingPayment},
		{jobID, models.JobStatusPendingPayment, models.JobStatusPaid},
		{jobID, models.JobStatusPaid, models.JobStatusInProgress},
	}
	for _, s := range steps {
		tx, _ := st.Begin(ctx)
		if _, err := log.Record(ctx, tx, Entry{JobID: s.job, Actor: actor, Description: s.to, PreviousStatus: s.from, NewStatus: s.to}); err != nil {
			t.Fatal(err)
		}
		tx.Commit(ctx)
		now = now.Add(time.Minute)
	}

	list, err := log.List(ctx, jobID)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{models.JobStatusPendingPayment, models.JobStatusPaid, models.JobStatusInProgress}
	if len(list) != len(want) {
		t.Fatalf("got %d entries, want %d", len(list), len(want))
	}
	for i, e := range list {
		if *e.NewStatus != want[i] {
			t.Errorf("entry %d new_status = %s, want %s", i, *e.NewStatus, want[i])
		}
		if i > 0 && !e.CreatedAt.After(list[i-1].CreatedAt) {
			t.Errorf("entry %d not after entry %d", i, i-1)
		}
	}
	if list[1].PreviousStatus == nil || *list[1].PreviousStatus != models.JobStatusPendingPayment {
		t.Errorf("entry 1 previous_status = %v", list[1].PreviousStatus)
	}
}

func TestRecord_RolledBackWithTransaction(t *testing.T) {
	st := storetest.New()
	log := NewLog(st.Timeline())
	ctx := context.Background()
	jobID := uuid.New()

	tx, _ := st.Begin(ctx)
	if _, err := log.Record(ctx, tx, Entry{JobID: jobID, Actor: models.System(), Description: "x", NewStatus: models.JobStatusPaid}); err != nil {
		t.Fatal(err)
	}
	tx.Rollback(ctx)

	if list, _ := log.List(ctx, jobID); len(list) != 0 {
		t.Errorf("rolled-back entry visible: %d entries", len(list))
	}
}

package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"
)

type DeliverEventArgs struct {
	Event Event `json:"event"`
}

func (DeliverEventArgs) Kind() string { return "deliver_event" }

// Notifier hands an event to whatever delivers notifications (email, push, chat).
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// LogNotifier writes events to the structured log. It is the default when no
// delivery channel is wired.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, e Event) error {
	log := n.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("event", "kind", e.Kind, "job_id", e.JobID, "offer_id", e.OfferID,
		"previous_status", e.PreviousStatus, "new_status", e.NewStatus, "recipients", len(e.Recipients))
	return nil
}

type DeliverEventWorker struct {
	river.WorkerDefaults[DeliverEventArgs]
	notifier Notifier
}

func NewDeliverEventWorker(n Notifier) *DeliverEventWorker {
	return &DeliverEventWorker{notifier: n}
}

// Work delivers one event. Returning an error lets River retry with backoff.
func (w *DeliverEventWorker) Work(ctx context.Context, job *river.Job[DeliverEventArgs]) error {
	if err := w.notifier.Notify(ctx, job.Args.Event); err != nil {
		return fmt.Errorf("notify %s: %w", job.Args.Event.Kind, err)
	}
	return nil
}

package offers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
)

// ExpireOffersArgs is the River job that runs one expiry sweep.
type ExpireOffersArgs struct{}

func (ExpireOffersArgs) Kind() string { return "expire_offers" }

// Expirer is implemented by *Engine.
type Expirer interface {
	ExpireOffers(ctx context.Context, now time.Time) (int, error)
}

type ExpireOffersWorker struct {
	river.WorkerDefaults[ExpireOffersArgs]
	expirer Expirer
	log     *slog.Logger
	now     func() time.Time
}

func NewExpireOffersWorker(e Expirer, log *slog.Logger) *ExpireOffersWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ExpireOffersWorker{expirer: e, log: log, now: time.Now}
}

func (w *ExpireOffersWorker) Work(ctx context.Context, job *river.Job[ExpireOffersArgs]) error {
	n, err := w.expirer.ExpireOffers(ctx, w.now())
	if err != nil {
		return fmt.Errorf("expire offers: %w", err)
	}
	if n > 0 {
		w.log.Info("offers expired", "count", n)
	}
	return nil
}

// PeriodicExpiry schedules the sweep every interval, starting at boot.
func PeriodicExpiry(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return ExpireOffersArgs{}, &river.InsertOpts{
				UniqueOpts: river.UniqueOpts{ByPeriod: interval},
			}
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}

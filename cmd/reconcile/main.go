// Command reconcile audits the escrow ledger. It folds every job's entries,
// checks the per-job invariants and optionally prints a professional's
// derived balance. It exits 1 when any job is inconsistent.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/tasklink/backend/internal/config"
	"github.com/tasklink/backend/internal/database"
	"github.com/tasklink/backend/internal/jobs"
	"github.com/tasklink/backend/internal/ledger"
	"github.com/tasklink/backend/internal/models"
)

func main() {
	var (
		dbURL        string
		professional string
		verbose      bool
	)
	flags := pflag.NewFlagSet("reconcile", pflag.ExitOnError)
	flags.StringVar(&dbURL, "database-url", "", "PostgreSQL URL (defaults to DATABASE_URL / config)")
	flags.StringVarP(&professional, "professional", "p", "", "print the derived balance for this professional id")
	flags.BoolVarP(&verbose, "verbose", "v", false, "print every job, not only inconsistent ones")
	_ = flags.Parse(os.Args[1:])

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if dbURL == "" {
		cfg, err := config.Load()
		if err != nil {
			slog.Error("Invalid configuration", "error", err)
			os.Exit(1)
		}
		dbURL = cfg.DatabaseURL
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, dbURL)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	jobRepo := jobs.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)

	ids, err := jobRepo.ListIDs(ctx)
	if err != nil {
		slog.Error("list jobs", "error", err)
		os.Exit(1)
	}
	byJob := make(map[uuid.UUID][]*models.Transaction, len(ids))
	for _, id := range ids {
		entries, err := ledgerRepo.ListByJob(ctx, id)
		if err != nil {
			slog.Error("list ledger entries", "job_id", id, "error", err)
			os.Exit(1)
		}
		byJob[id] = entries
	}

	violations := audit(os.Stdout, ids, byJob, verbose)

	if professional != "" {
		proID, err := uuid.Parse(professional)
		if err != nil {
			slog.Error("invalid --professional", "error", err)
			os.Exit(2)
		}
		entries, err := ledgerRepo.ListByProfessional(ctx, proID)
		if err != nil {
			slog.Error("list professional entries", "error", err)
			os.Exit(1)
		}
		printBalance(os.Stdout, ledger.FoldBalance(proID, entries))
	}

	if violations > 0 {
		fmt.Fprintf(os.Stdout, "%d of %d jobs inconsistent\n", violations, len(ids))
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "%d jobs consistent\n", len(ids))
}

// audit checks each job in ids order and returns the number of violations.
func audit(w io.Writer, ids []uuid.UUID, byJob map[uuid.UUID][]*models.Transaction, verbose bool) int {
	violations := 0
	for _, id := range ids {
		entries := byJob[id]
		if err := ledger.CheckJob(entries); err != nil {
			violations++
			fmt.Fprintf(w, "FAIL %s: %v\n", id, err)
			continue
		}
		if verbose {
			p := ledger.JobPosition(entries)
			fmt.Fprintf(w, "ok   %s held=%s released=%s refunded=%s commission=%s outstanding=%s\n",
				id, p.Held.StringFixed(2), p.Released.StringFixed(2), p.Refunded.StringFixed(2),
				p.Commission.StringFixed(2), p.Outstanding.StringFixed(2))
		}
	}
	return violations
}

func printBalance(w io.Writer, b models.Balance) {
	fmt.Fprintf(w, "professional %s\n", b.ProfessionalID)
	fmt.Fprintf(w, "  available        %s\n", b.Available.StringFixed(2))
	fmt.Fprintf(w, "  pending          %s\n", b.Pending.StringFixed(2))
	fmt.Fprintf(w, "  total earned     %s\n", b.TotalEarned.StringFixed(2))
	fmt.Fprintf(w, "  total commission %s\n", b.TotalCommission.StringFixed(2))
	fmt.Fprintf(w, "  jobs completed   %d\n", b.JobsCompleted)
}

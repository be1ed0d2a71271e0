package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/voucher"
)

const glIntegrityJob = "gl_integrity"

// IntegrityScanner lists vouchers whose ledger rows break double entry.
type IntegrityScanner interface {
	IntegrityViolations(ctx context.Context) ([]voucher.IntegrityRow, error)
}

// GLIntegrityJob checks that every posted voucher nets to zero in the general
// ledger and that no draft or voided voucher still owns ledger rows.
type GLIntegrityJob struct {
	Scanner IntegrityScanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewGLIntegrityJob initialises the integrity scan handler.
func NewGLIntegrityJob(scanner IntegrityScanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Scanner: scanner, Logger: logger, Metrics: metrics}
}

// Handle is the asynq entry point.
func (j *GLIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) error {
	_, err := j.Run(ctx)
	return err
}

// Run executes one scan and returns the violations found. Violations are
// reported through logs and metrics; they do not fail the run.
func (j *GLIntegrityJob) Run(ctx context.Context) (violations []voucher.IntegrityRow, err error) {
	if j == nil || j.Scanner == nil {
		return nil, errors.New("gl integrity: scanner not configured")
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	run := j.Metrics.Track(glIntegrityJob)
	defer func() {
		err = run.End(err)
	}()

	start := time.Now()
	violations, err = j.Scanner.IntegrityViolations(ctx)
	if err != nil {
		logger.Error("gl integrity scan failed", slog.String("job", glIntegrityJob), slog.Any("error", err))
		return nil, err
	}
	for _, v := range violations {
		logger.Warn("ledger integrity violation",
			slog.Int64("voucher_id", v.VoucherID),
			slog.String("doc_no", v.DocNo),
			slog.String("status", string(v.Status)),
			slog.String("total_debit", v.TotalDebit.StringFixed(2)),
			slog.String("total_credit", v.TotalCredit.StringFixed(2)),
			slog.Int("rows", v.Rows),
		)
	}
	j.Metrics.AddAnomalies(glIntegrityJob, len(violations))
	logger.Info("GL integrity check executed",
		slog.String("job", glIntegrityJob),
		slog.Int("violations", len(violations)),
		slog.Duration("duration", time.Since(start)),
	)
	return violations, nil
}

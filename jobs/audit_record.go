package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// AuditRecordJob persists queued audit entries.
type AuditRecordJob struct {
	Sink    audit.Sink
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditRecordJob wires the handler to its store.
func NewAuditRecordJob(sink audit.Sink, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditRecordJob {
	return &AuditRecordJob{Sink: sink, Logger: logger, Metrics: metrics}
}

// Handle verifies the entry checksum and writes it. Entries that fail to
// decode or verify are never retried.
func (j *AuditRecordJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Sink == nil {
		return errors.New("audit record: handler not configured")
	}
	run := j.Metrics.Track(TaskAuditRecord)
	defer func() {
		err = run.End(err)
	}()

	var entry audit.Entry
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		j.logger().Error("audit record: undecodable payload", slog.Any("error", err))
		return fmt.Errorf("audit record: decode: %v: %w", err, asynq.SkipRetry)
	}
	logger := j.logger().With(
		slog.String("audit_id", entry.ID.String()),
		slog.String("action", string(entry.Action)),
		slog.String("entity_id", entry.EntityID),
	)
	if err := audit.Verify(entry); err != nil {
		logger.Error("audit record: checksum rejected", slog.Any("error", err))
		return fmt.Errorf("audit record: %w: %w", err, asynq.SkipRetry)
	}
	if err := j.Sink.Write(ctx, entry); err != nil {
		logger.Warn("audit record: write failed", slog.Any("error", err))
		return err
	}
	j.Metrics.ObserveAuditLag(time.Since(entry.Timestamp))
	logger.Debug("audit record stored")
	return nil
}

func (j *AuditRecordJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

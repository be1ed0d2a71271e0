package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAudit carries audit entries waiting to be persisted.
	QueueAudit = "audit"

	// TaskAuditRecord persists one sealed audit entry.
	TaskAuditRecord = "audit:record"
	// TaskGLIntegrity scans the general ledger for unbalanced vouchers.
	TaskGLIntegrity = "ledger:gl_integrity"
)

// NewAuditRecordTask wraps a sealed entry in a task. The entry ID doubles as
// the task ID so a retried enqueue never produces a second record.
func NewAuditRecordTask(entry audit.Entry) (*asynq.Task, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode audit entry: %w", err)
	}
	return asynq.NewTask(TaskAuditRecord, data, asynq.TaskID(entry.ID.String()), asynq.Queue(QueueAudit), asynq.MaxRetry(10)), nil
}

// NewGLIntegrityTask builds the periodic ledger scan task.
func NewGLIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskGLIntegrity, nil, asynq.MaxRetry(1))
}

package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeExpenseRecord is the task type for handing a paid installment
	// to the external expense-ledger collaborator.
	TaskTypeExpenseRecord = "expense:record"
)

// ExpenseRecordPayload describes one installment payment to hand off.
type ExpenseRecordPayload struct {
	LoanID        int64     `json:"loan_id"`
	InstallmentID int64     `json:"installment_id"`
	Seq           int       `json:"seq"`
	Amount        float64   `json:"amount"`
	PaidDate      time.Time `json:"paid_date"`
	Method        string    `json:"method"`
	Reference     string    `json:"reference"`
}

// NewExpenseRecordTask constructs an Asynq task.
func NewExpenseRecordTask(payload ExpenseRecordPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeExpenseRecord, data), nil
}

// NewExpenseRecordHandler processes TaskTypeExpenseRecord tasks. The expense
// ledger itself belongs to an external collaborator; this handler only
// publishes the entry to it. Handler errors are retried by asynq.
func NewExpenseRecordHandler(logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ExpenseRecordPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		logger.Info("expense ledger hand-off",
			slog.Int64("loan_id", payload.LoanID),
			slog.Int64("installment_id", payload.InstallmentID),
			slog.Int("seq", payload.Seq),
			slog.Float64("amount", payload.Amount),
			slog.String("paid_date", payload.PaidDate.Format(time.DateOnly)),
			slog.String("reference", payload.Reference))
		return nil
	}
}

package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/lendcore/lendcore/internal/loans"
)

// Worker wraps the Asynq server.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts asynq.RedisClientOpt
	Logger    *slog.Logger
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) *Worker {
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			QueueDefault: 1,
		},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeExpenseRecord, NewExpenseRecordHandler(cfg.Logger))
	return &Worker{server: srv, mux: mux, logger: cfg.Logger}
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueExpenseRecord enqueues an expense-ledger hand-off task.
func (c *Client) EnqueueExpenseRecord(ctx context.Context, payload ExpenseRecordPayload) (*asynq.TaskInfo, error) {
	task, err := NewExpenseRecordTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// ExpenseNotifier adapts the queue client to the engine's Notifier port.
type ExpenseNotifier struct {
	client *Client
}

// NewExpenseNotifier builds the adapter.
func NewExpenseNotifier(client *Client) *ExpenseNotifier {
	return &ExpenseNotifier{client: client}
}

// InstallmentPaid enqueues the hand-off for one paid installment.
func (n *ExpenseNotifier) InstallmentPaid(ctx context.Context, paid loans.PaidNotification) error {
	if n == nil || n.client == nil {
		return nil
	}
	_, err := n.client.EnqueueExpenseRecord(ctx, ExpenseRecordPayload{
		LoanID:        paid.LoanID,
		InstallmentID: paid.InstallmentID,
		Seq:           paid.Seq,
		Amount:        paid.Amount,
		PaidDate:      paid.PaidDate,
		Method:        paid.Method,
		Reference:     paid.Reference,
	})
	return err
}

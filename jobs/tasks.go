// Package jobs defines the background tasks run by the worker: the AR
// overdue sweep, ledger verification, and idempotency key cleanup.
package jobs

import "github.com/hibiken/asynq"

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskAROverdueSweep flips open invoices past their due date to overdue.
	TaskAROverdueSweep = "ar:overdue_sweep"
	// TaskLedgerVerify recomputes balances for every company and reports drift.
	TaskLedgerVerify = "ledger:verify"
	// TaskIdempotencyCleanup removes idempotency keys past the retention window.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// NewAROverdueSweepTask constructs the overdue sweep task.
func NewAROverdueSweepTask() *asynq.Task {
	return asynq.NewTask(TaskAROverdueSweep, nil)
}

// NewLedgerVerifyTask constructs the ledger verification task.
func NewLedgerVerifyTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerVerify, nil)
}

// NewIdempotencyCleanupTask constructs the idempotency cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}

package storage

import (
	"context"
	"errors"

	"dlnIndexer/internal/model"
)

var (
	// ErrTaskNotFound is returned when a task id does not exist.
	ErrTaskNotFound = errors.New("task not found")
	// ErrOwnerInUse is returned when another running processor holds the same owner name.
	ErrOwnerInUse = errors.New("owner in use by another processor")
)

// TaskSink receives tasks discovered by the poller.
type TaskSink interface {
	// LoadSyncCheckpoint returns the last durably saved signature for a contract side.
	LoadSyncCheckpoint(ctx context.Context, side model.ContractType) (string, bool, error)
	// SaveTask inserts or refreshes a task and advances the side checkpoint atomically.
	// It reports whether a new row was created.
	SaveTask(ctx context.Context, task model.NewTask) (bool, error)
}

// TaskQueue is the processor's view of the durable queue.
type TaskQueue interface {
	// LockOwner reserves owner for the calling process until unlock is called
	// or the process dies. It fails with ErrOwnerInUse while another process holds it.
	LockOwner(ctx context.Context, owner string) (unlock func(), err error)
	CountPending(ctx context.Context) (int64, error)
	ClaimTasks(ctx context.Context, owner string, limit int) ([]model.Task, error)
	CompleteTask(ctx context.Context, task model.Task, log *model.TrnLog) error
	FailTask(ctx context.Context, id int64, message string) error
	ReleaseTasks(ctx context.Context, owner string) (int64, error)
}

// PriceStore persists cached token prices.
type PriceStore interface {
	GetTokenPrice(ctx context.Context, tokenAddress string) (model.TokenPrice, bool, error)
	UpsertTokenPrice(ctx context.Context, price model.TokenPrice) error
}

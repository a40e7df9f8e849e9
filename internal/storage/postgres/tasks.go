package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dlnIndexer/internal/model"
	"dlnIndexer/internal/storage"
)

const taskColumns = `id, signature, slot, contract_type, event_name, raw_data, status,
	error_message, block_time, block_time_int, claimed_by`

// SaveTask inserts a newly seen task or refreshes the technical fields of a known one,
// and moves the side checkpoint to the task signature in the same transaction.
// The status of an existing task is never changed.
func (s *Store) SaveTask(ctx context.Context, task model.NewTask) (bool, error) {
	if task.Signature == "" {
		return false, fmt.Errorf("task signature required")
	}
	if s.saveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.saveTimeout)
		defer cancel()
	}

	eventName := task.ContractType.EventName()
	blockTime := task.BlockTimestamp()

	var created bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		created = false

		var id int64
		err := tx.QueryRow(ctx, `SELECT id FROM tasks WHERE signature = $1 FOR UPDATE`, task.Signature).Scan(&id)
		switch {
		case err == nil:
			if _, err := tx.Exec(ctx, `
				UPDATE tasks SET
					slot = $2,
					contract_type = $3,
					event_name = $4,
					raw_data = $5,
					block_time = $6,
					block_time_int = $7,
					updated_at = now()
				WHERE id = $1
			`,
				id,
				int64(task.Slot),
				string(task.ContractType),
				eventName,
				task.RawData,
				blockTime,
				task.BlockTime,
			); err != nil {
				return fmt.Errorf("update task: %w", err)
			}
		case errors.Is(err, pgx.ErrNoRows):
			if err := tx.QueryRow(ctx, `
				INSERT INTO tasks (
					signature, slot, contract_type, event_name, raw_data, status, block_time, block_time_int, created_at, updated_at
				) VALUES ($1, $2, $3, $4, $5, 'PENDING', $6, $7, now(), now())
				ON CONFLICT (signature)
				DO UPDATE SET
					slot = EXCLUDED.slot,
					contract_type = EXCLUDED.contract_type,
					event_name = EXCLUDED.event_name,
					raw_data = EXCLUDED.raw_data,
					block_time = EXCLUDED.block_time,
					block_time_int = EXCLUDED.block_time_int,
					updated_at = now()
				RETURNING (xmax = 0)
			`,
				task.Signature,
				int64(task.Slot),
				string(task.ContractType),
				eventName,
				task.RawData,
				blockTime,
				task.BlockTime,
			).Scan(&created); err != nil {
				return fmt.Errorf("insert task: %w", err)
			}
		default:
			return fmt.Errorf("select task: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO sync_checkpoints (contract_type, last_signature, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (contract_type) DO UPDATE
			SET last_signature = EXCLUDED.last_signature, updated_at = now()
		`, string(task.ContractType), task.Signature); err != nil {
			return fmt.Errorf("save sync checkpoint: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// CountPending returns the number of tasks waiting to be claimed.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM tasks WHERE status = 'PENDING'`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending tasks: %w", err)
	}
	return count, nil
}

// ClaimTasks moves up to limit PENDING tasks at or above the process checkpoint to WORKING
// and assigns them to owner. Rows locked by a concurrent claim are skipped.
func (s *Store) ClaimTasks(ctx context.Context, owner string, limit int) ([]model.Task, error) {
	if owner == "" {
		return nil, fmt.Errorf("claim owner required")
	}
	if limit <= 0 {
		return nil, nil
	}

	var tasks []model.Task
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tasks = nil

		checkpoint, _, err := loadProcessCheckpoint(ctx, tx)
		if err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			WHERE status = 'PENDING' AND id >= $1
			ORDER BY id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, checkpoint, limit)
		if err != nil {
			return fmt.Errorf("select pending tasks: %w", err)
		}
		tasks, err = pgx.CollectRows(rows, scanTask)
		if err != nil {
			return fmt.Errorf("scan pending tasks: %w", err)
		}
		if len(tasks) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(tasks))
		for _, t := range tasks {
			ids = append(ids, t.ID)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE tasks SET status = 'WORKING', claimed_by = $1, updated_at = now()
			WHERE id = ANY($2)
		`, owner, ids); err != nil {
			return fmt.Errorf("mark tasks working: %w", err)
		}

		for i := range tasks {
			tasks[i].Status = model.TaskWorking
			tasks[i].ClaimedBy = &owner
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// CompleteTask upserts the trn log, advances the process checkpoint and marks the task READY
// in one transaction.
func (s *Store) CompleteTask(ctx context.Context, task model.Task, log *model.TrnLog) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if log != nil {
			if err := upsertTrnLog(ctx, tx, log); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO process_checkpoint (id, last_task_id, updated_at)
			VALUES (1, $1, now())
			ON CONFLICT (id) DO UPDATE
			SET last_task_id = GREATEST(process_checkpoint.last_task_id, EXCLUDED.last_task_id), updated_at = now()
		`, task.ID); err != nil {
			return fmt.Errorf("advance process checkpoint: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE tasks SET status = 'READY', error_message = NULL, claimed_by = NULL, updated_at = now()
			WHERE id = $1
		`, task.ID)
		if err != nil {
			return fmt.Errorf("mark task ready: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("mark task %d ready: %w", task.ID, storage.ErrTaskNotFound)
		}
		return nil
	})
}

// FailTask marks a task ERROR with the given message.
func (s *Store) FailTask(ctx context.Context, id int64, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = 'ERROR', error_message = $2, claimed_by = NULL, updated_at = now()
		WHERE id = $1
	`, id, message)
	if err != nil {
		return fmt.Errorf("mark task error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark task %d error: %w", id, storage.ErrTaskNotFound)
	}
	return nil
}

// ReleaseTasks returns WORKING tasks claimed by owner to PENDING and rewinds the process
// checkpoint so the released tasks can be claimed again.
func (s *Store) ReleaseTasks(ctx context.Context, owner string) (int64, error) {
	if owner == "" {
		return 0, fmt.Errorf("release owner required")
	}

	var released int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		released = 0

		rows, err := tx.Query(ctx, `
			UPDATE tasks SET status = 'PENDING', claimed_by = NULL, updated_at = now()
			WHERE status = 'WORKING' AND claimed_by = $1
			RETURNING id
		`, owner)
		if err != nil {
			return fmt.Errorf("release tasks: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return fmt.Errorf("release tasks: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		lowest := ids[0]
		for _, id := range ids[1:] {
			if id < lowest {
				lowest = id
			}
		}
		if _, err := tx.Exec(ctx, `
			UPDATE process_checkpoint SET last_task_id = LEAST(last_task_id, $1), updated_at = now()
			WHERE id = 1
		`, lowest); err != nil {
			return fmt.Errorf("rewind process checkpoint: %w", err)
		}

		released = int64(len(ids))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

// Task loads a task by id.
func (s *Store) Task(ctx context.Context, id int64) (model.Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	if err != nil {
		return model.Task{}, fmt.Errorf("select task: %w", err)
	}
	task, err := pgx.CollectExactlyOneRow(rows, scanTask)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Task{}, storage.ErrTaskNotFound
		}
		return model.Task{}, fmt.Errorf("scan task: %w", err)
	}
	return task, nil
}

func scanTask(row pgx.CollectableRow) (model.Task, error) {
	var (
		t            model.Task
		slot         int64
		contractType string
		status       string
	)
	err := row.Scan(
		&t.ID,
		&t.Signature,
		&slot,
		&contractType,
		&t.EventName,
		&t.RawData,
		&status,
		&t.ErrorMessage,
		&t.BlockTime,
		&t.BlockTimeInt,
		&t.ClaimedBy,
	)
	if err != nil {
		return model.Task{}, err
	}
	t.Slot = uint64(slot)
	t.ContractType = model.ContractType(contractType)
	t.Status = model.TaskStatus(status)
	return t, nil
}

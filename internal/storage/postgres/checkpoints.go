package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dlnIndexer/internal/model"
)

// LoadSyncCheckpoint returns the last saved signature for a contract side.
func (s *Store) LoadSyncCheckpoint(ctx context.Context, side model.ContractType) (string, bool, error) {
	if side == "" {
		return "", false, fmt.Errorf("contract type required")
	}
	var signature string
	row := s.pool.QueryRow(ctx, `SELECT last_signature FROM sync_checkpoints WHERE contract_type = $1`, string(side))
	if err := row.Scan(&signature); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("load sync checkpoint: %w", err)
	}
	return signature, true, nil
}

// LoadProcessCheckpoint returns the id of the last task the processor completed.
func (s *Store) LoadProcessCheckpoint(ctx context.Context) (int64, bool, error) {
	return loadProcessCheckpoint(ctx, s.pool)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadProcessCheckpoint(ctx context.Context, q queryRower) (int64, bool, error) {
	var id int64
	if err := q.QueryRow(ctx, `SELECT last_task_id FROM process_checkpoint WHERE id = 1`).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("load process checkpoint: %w", err)
	}
	return id, true, nil
}

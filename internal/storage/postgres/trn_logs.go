package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dlnIndexer/internal/model"
)

func upsertTrnLog(ctx context.Context, tx pgx.Tx, log *model.TrnLog) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO trn_logs (
			order_id, token_address, amount, decimals, trn_date, signature, trn_event_type, event_name,
			usd_price, usd_value, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, now(), now())
		ON CONFLICT (order_id, trn_event_type)
		DO UPDATE SET
			token_address = EXCLUDED.token_address,
			amount = EXCLUDED.amount,
			decimals = EXCLUDED.decimals,
			trn_date = EXCLUDED.trn_date,
			signature = EXCLUDED.signature,
			event_name = EXCLUDED.event_name,
			usd_price = EXCLUDED.usd_price,
			usd_value = EXCLUDED.usd_value,
			updated_at = now()
	`,
		log.OrderID,
		log.TokenAddress,
		log.Amount,
		int32(log.Decimals),
		log.TrnDate,
		log.Signature,
		string(log.TrnEventType),
		log.EventName,
		numericOrZero(log.USDPrice),
		numericOrZero(log.USDValue),
	)
	if err != nil {
		return fmt.Errorf("upsert trn log: %w", err)
	}
	return nil
}

// TrnLog loads the trn log for an order event.
func (s *Store) TrnLog(ctx context.Context, orderID string, side model.ContractType) (model.TrnLog, bool, error) {
	var (
		log       model.TrnLog
		decimals  int32
		eventType string
	)
	row := s.pool.QueryRow(ctx, `
		SELECT order_id, token_address, amount, decimals, trn_date, signature, trn_event_type, event_name,
			usd_price::text, usd_value::text
		FROM trn_logs
		WHERE order_id = $1 AND trn_event_type = $2
	`, orderID, string(side))
	err := row.Scan(
		&log.OrderID,
		&log.TokenAddress,
		&log.Amount,
		&decimals,
		&log.TrnDate,
		&log.Signature,
		&eventType,
		&log.EventName,
		&log.USDPrice,
		&log.USDValue,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TrnLog{}, false, nil
		}
		return model.TrnLog{}, false, fmt.Errorf("load trn log: %w", err)
	}
	log.Decimals = uint8(decimals)
	log.TrnEventType = model.ContractType(eventType)
	return log, true, nil
}

func numericOrZero(v string) string {
	if v == "" {
		return "0"
	}
	return v
}

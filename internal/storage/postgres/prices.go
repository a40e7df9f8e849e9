package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"dlnIndexer/internal/model"
)

// GetTokenPrice returns the cached price row for a token.
func (s *Store) GetTokenPrice(ctx context.Context, tokenAddress string) (model.TokenPrice, bool, error) {
	var (
		price    model.TokenPrice
		usd      string
		decimals int32
	)
	row := s.pool.QueryRow(ctx, `
		SELECT token_address, usd_price::text, decimals, updated_at
		FROM token_prices
		WHERE token_address = $1
	`, tokenAddress)
	if err := row.Scan(&price.TokenAddress, &usd, &decimals, &price.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TokenPrice{}, false, nil
		}
		return model.TokenPrice{}, false, fmt.Errorf("load token price: %w", err)
	}

	parsed, err := decimal.NewFromString(usd)
	if err != nil {
		return model.TokenPrice{}, false, fmt.Errorf("parse token price %q: %w", usd, err)
	}
	price.USDPrice = parsed
	price.Decimals = uint8(decimals)
	return price, true, nil
}

// UpsertTokenPrice stores the latest price for a token.
func (s *Store) UpsertTokenPrice(ctx context.Context, price model.TokenPrice) error {
	if price.TokenAddress == "" {
		return fmt.Errorf("token address required")
	}
	updatedAt := price.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO token_prices (token_address, usd_price, decimals, updated_at)
		VALUES ($1, $2::numeric, $3, $4)
		ON CONFLICT (token_address) DO UPDATE
		SET usd_price = EXCLUDED.usd_price, decimals = EXCLUDED.decimals, updated_at = EXCLUDED.updated_at
	`, price.TokenAddress, price.USDPrice.String(), int32(price.Decimals), updatedAt)
	if err != nil {
		return fmt.Errorf("upsert token price: %w", err)
	}
	return nil
}

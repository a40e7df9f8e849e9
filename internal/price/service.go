package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dlnIndexer/internal/metrics"
	"dlnIndexer/internal/model"
	"dlnIndexer/internal/storage"
)

const (
	DefaultEndpoint = "https://api.jup.ag/price/v3"
	DefaultTTL      = 15 * time.Minute

	volumeDecimals = 9
	maxBodyBytes   = 1 << 20
)

// Lookup results reported to metrics.
const (
	resultCacheHit = "cache_hit"
	resultFetched  = "fetched"
	resultZero     = "zero"
)

// Service resolves USD prices with a TTL cache kept in the price store.
type Service struct {
	store    storage.PriceStore
	client   *http.Client
	endpoint string
	apiKey   string
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithEndpoint(endpoint string) Option {
	return func(s *Service) {
		if endpoint != "" {
			s.endpoint = endpoint
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.ttl = ttl
	}
}

// WithHTTPTimeout sets the overall timeout of a price request. Zero means none.
func WithHTTPTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		s.client = &http.Client{Timeout: timeout}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		if client != nil {
			s.client = client
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a price service backed by store for caching.
// The api key is sent with every quote request.
func NewService(store storage.PriceStore, apiKey string, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:    store,
		client:   &http.Client{},
		endpoint: DefaultEndpoint,
		apiKey:   apiKey,
		ttl:      DefaultTTL,
		now:      time.Now,
		logger:   logger.Named("price"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetPrice returns the USD price of a token, or zero when it cannot be resolved.
// It never fails; problems are logged.
func (s *Service) GetPrice(ctx context.Context, tokenAddress string, decimals uint8) decimal.Decimal {
	cached, ok, err := s.store.GetTokenPrice(ctx, tokenAddress)
	if err != nil {
		s.logger.Warn("price cache read failed", zap.String("token", tokenAddress), zap.Error(err))
	} else if ok && cached.USDPrice.IsPositive() && s.now().Sub(cached.UpdatedAt) < s.ttl {
		metrics.PriceLookups.WithLabelValues(resultCacheHit).Inc()
		return cached.USDPrice
	}

	price, err := s.fetch(ctx, tokenAddress)
	if err != nil {
		s.logger.Warn("price fetch failed", zap.String("token", tokenAddress), zap.Error(err))
		metrics.PriceLookups.WithLabelValues(resultZero).Inc()
		return decimal.Zero
	}

	if err := s.store.UpsertTokenPrice(ctx, model.TokenPrice{
		TokenAddress: tokenAddress,
		USDPrice:     price,
		Decimals:     decimals,
		UpdatedAt:    s.now(),
	}); err != nil {
		s.logger.Warn("price cache write failed", zap.String("token", tokenAddress), zap.Error(err))
	}

	metrics.PriceLookups.WithLabelValues(resultFetched).Inc()
	return price
}

type quote struct {
	USDPrice json.Number `json:"usdPrice"`
}

func (s *Service) fetch(ctx context.Context, tokenAddress string) (decimal.Decimal, error) {
	endpoint, err := url.Parse(s.endpoint)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("ids", tokenAddress)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-api-key", s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("request price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decimal.Zero, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	decoder := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes))
	decoder.UseNumber()
	var quotes map[string]*quote
	if err := decoder.Decode(&quotes); err != nil {
		return decimal.Zero, fmt.Errorf("decode response: %w", err)
	}

	q, ok := quotes[tokenAddress]
	if !ok || q == nil || q.USDPrice == "" {
		return decimal.Zero, fmt.Errorf("token %s not found in response", tokenAddress)
	}
	price, err := decimal.NewFromString(q.USDPrice.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse usdPrice %q: %w", q.USDPrice, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive usdPrice %s", price)
	}
	return price, nil
}

// CalculateVolume returns rawAmount / 10^decimals * price with nine fractional digits,
// or "0" when the price is zero.
func CalculateVolume(rawAmount *big.Int, decimals uint8, price decimal.Decimal) string {
	if price.IsZero() || rawAmount == nil {
		return "0"
	}
	amount := decimal.NewFromBigInt(rawAmount, -int32(decimals))
	return amount.Mul(price).StringFixed(volumeDecimals)
}

package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"dlnIndexer/internal/chain"
	"dlnIndexer/internal/dln"
	"dlnIndexer/internal/loop"
	"dlnIndexer/internal/metrics"
	"dlnIndexer/internal/model"
	"dlnIndexer/internal/storage"
)

// Direction selects how a signature page is positioned relative to the checkpoint.
type Direction string

const (
	// DirectionUntil tails signatures newer than the checkpoint.
	DirectionUntil Direction = "until"
	// DirectionBefore walks history older than the checkpoint.
	DirectionBefore Direction = "before"
)

// Chain is the subset of the RPC client the poller needs.
type Chain interface {
	SignaturesForAddress(ctx context.Context, program solana.PublicKey, opts chain.SignaturesOptions) ([]model.SignatureInfo, error)
	Transaction(ctx context.Context, signature string) (*model.Transaction, error)
}

const defaultMaxPages = 10

// RunConfig holds runtime settings for the poller.
// MaxPages bounds how many pages of signatures one until-iteration processes.
type RunConfig struct {
	Programs     map[model.ContractType]solana.PublicKey
	PageLimit    int
	MaxPages     int
	IdleDelay    time.Duration
	ActiveDelay  time.Duration
	ErrorDelay   time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Poller discovers program transactions and captures them as tasks.
//
// The sync checkpoint only moves when a task is saved. Signatures examined
// after it are tracked per side in memory, so quiet stretches without target
// transactions are not fetched again on every iteration.
type Poller struct {
	cfg    RunConfig
	chain  Chain
	sink   storage.TaskSink
	filter *dln.Filter
	retry  retrier
	logger *zap.Logger

	mu      sync.Mutex
	scanned map[model.ContractType]string
}

type pageResult struct {
	saved  int
	seen   int
	oldest string
}

// NewPoller builds a Poller with its dependencies. A nil logger discards output.
func NewPoller(cfg RunConfig, chainClient Chain, sink storage.TaskSink, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	logger = logger.Named("poller")
	return &Poller{
		cfg:     cfg,
		chain:   chainClient,
		sink:    sink,
		filter:  dln.NewFilter(logger),
		retry:   newRetrier(cfg.MaxRetries, cfg.RetryBackoff, logger),
		logger:  logger,
		scanned: make(map[model.ContractType]string),
	}
}

func (p *Poller) validate() error {
	if p.chain == nil {
		return fmt.Errorf("chain client is nil")
	}
	if p.sink == nil {
		return fmt.Errorf("task sink is nil")
	}
	if p.cfg.PageLimit <= 0 {
		return fmt.Errorf("page limit must be greater than zero")
	}
	return nil
}

// Run polls both contract sides until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.validate(); err != nil {
		return err
	}
	p.logger.Info("poller started", zap.Int("page_limit", p.cfg.PageLimit))

	for {
		total, err := p.pollOnce(ctx)

		delay := p.cfg.ActiveDelay
		switch {
		case ctx.Err() != nil:
			p.logger.Info("poller stopped")
			return nil
		case err != nil:
			p.logger.Error("poll iteration failed", zap.Error(err), zap.Duration("error_delay", p.cfg.ErrorDelay))
			delay = p.cfg.ErrorDelay
		case total == 0:
			p.logger.Debug("no new transactions", zap.Duration("idle_delay", p.cfg.IdleDelay))
			delay = p.cfg.IdleDelay
		}

		if !loop.Sleep(ctx, delay) {
			p.logger.Info("poller stopped")
			return nil
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) (int, error) {
	total := 0
	for _, side := range model.ContractTypes {
		saved, err := p.ProcessContract(ctx, side, DirectionUntil)
		total += saved
		if err != nil {
			return total, fmt.Errorf("process %s: %w", side, err)
		}
	}
	return total, nil
}

// ColdStart walks a side's history backwards until limit tasks are saved
// or two consecutive pages come back empty.
func (p *Poller) ColdStart(ctx context.Context, limit int, side model.ContractType) (int, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}
	p.logger.Info("cold start started", zap.String("contract_type", string(side)), zap.Int("limit", limit))

	var (
		saved      int
		emptyPages int
		cursor     string
	)
	for saved < limit {
		res, err := p.processContract(ctx, side, DirectionBefore, cursor)
		if ctx.Err() != nil {
			return saved, ctx.Err()
		}
		if err != nil {
			p.logger.Error("cold start iteration failed", zap.Error(err), zap.Duration("error_delay", p.cfg.ErrorDelay))
			if !loop.Sleep(ctx, p.cfg.ErrorDelay) {
				return saved, ctx.Err()
			}
			continue
		}

		saved += res.saved
		if res.oldest != "" {
			cursor = res.oldest
		}

		delay := p.cfg.ActiveDelay
		if res.seen == 0 {
			emptyPages++
			if emptyPages >= 2 {
				p.logger.Info("history exhausted", zap.String("contract_type", string(side)), zap.Int("saved", saved))
				break
			}
			delay = p.cfg.IdleDelay
		} else {
			emptyPages = 0
			if res.saved == 0 {
				delay = p.cfg.IdleDelay
			}
		}

		if saved >= limit {
			break
		}
		if !loop.Sleep(ctx, delay) {
			return saved, ctx.Err()
		}
	}

	p.logger.Info("cold start complete", zap.String("contract_type", string(side)), zap.Int("saved", saved))
	return saved, nil
}

// ProcessContract runs one polling iteration for a side and returns the number of tasks saved.
func (p *Poller) ProcessContract(ctx context.Context, side model.ContractType, direction Direction) (int, error) {
	res, err := p.processContract(ctx, side, direction, "")
	return res.saved, err
}

func (p *Poller) processContract(ctx context.Context, side model.ContractType, direction Direction, cursor string) (pageResult, error) {
	var res pageResult

	program, ok := p.cfg.Programs[side]
	if !ok {
		return res, fmt.Errorf("no program configured for %s", side)
	}

	checkpoint, hasCheckpoint, err := p.sink.LoadSyncCheckpoint(ctx, side)
	if err != nil {
		return res, fmt.Errorf("load checkpoint: %w", err)
	}

	var signatures []model.SignatureInfo
	switch direction {
	case DirectionUntil:
		cursor = p.scannedThrough(side)
		if cursor == "" {
			cursor = checkpoint
		}
		signatures, err = p.signaturesAfter(ctx, program, cursor)
		if limit := p.cfg.MaxPages * p.cfg.PageLimit; len(signatures) > limit {
			p.logger.Info("backlog exceeds iteration limit",
				zap.String("contract_type", string(side)),
				zap.Int("backlog", len(signatures)),
				zap.Int("limit", limit),
			)
			signatures = signatures[:limit]
		}
	case DirectionBefore:
		if cursor == "" && hasCheckpoint {
			cursor = checkpoint
		}
		signatures, err = p.signaturesPage(ctx, program, chain.SignaturesOptions{Before: cursor, Limit: p.cfg.PageLimit})
	default:
		return res, fmt.Errorf("unknown direction %q", direction)
	}
	if err != nil {
		return res, fmt.Errorf("get signatures: %w", err)
	}

	res.seen = len(signatures)
	if len(signatures) == 0 {
		return res, nil
	}
	if direction == DirectionBefore {
		res.oldest = signatures[len(signatures)-1].Signature
	}

	p.logger.Info("signatures fetched",
		zap.String("contract_type", string(side)),
		zap.String("direction", string(direction)),
		zap.String("checkpoint", checkpoint),
		zap.String("cursor", cursor),
		zap.Int("count", len(signatures)),
	)

	for _, info := range signatures {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		saved, err := p.captureSignature(ctx, side, info)
		if err != nil {
			return res, err
		}
		if saved {
			res.saved++
		}
		if direction == DirectionUntil {
			p.markScanned(side, info.Signature)
		}
	}
	return res, nil
}

func (p *Poller) scannedThrough(side model.ContractType) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scanned[side]
}

func (p *Poller) markScanned(side model.ContractType, signature string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scanned[side] = signature
}

// signaturesAfter returns every signature newer than cursor, oldest first.
// Without a cursor only the newest page is returned.
func (p *Poller) signaturesAfter(ctx context.Context, program solana.PublicKey, cursor string) ([]model.SignatureInfo, error) {
	var all []model.SignatureInfo
	before := ""
	for {
		page, err := p.signaturesPage(ctx, program, chain.SignaturesOptions{
			Before: before,
			Until:  cursor,
			Limit:  p.cfg.PageLimit,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)

		if cursor == "" || len(page) < p.cfg.PageLimit {
			break
		}
		before = page[len(page)-1].Signature
	}

	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

func (p *Poller) signaturesPage(ctx context.Context, program solana.PublicKey, opts chain.SignaturesOptions) ([]model.SignatureInfo, error) {
	var page []model.SignatureInfo
	err := p.retry.do(ctx, "getSignaturesForAddress", func(ctx context.Context) error {
		var err error
		page, err = p.chain.SignaturesForAddress(ctx, program, opts)
		return err
	})
	return page, err
}

// captureSignature fetches and filters one transaction and saves it as a task.
// Failed transactions are skipped since they moved no funds. Fetch failures
// are logged and skipped; only a save failure is returned.
func (p *Poller) captureSignature(ctx context.Context, side model.ContractType, info model.SignatureInfo) (bool, error) {
	if info.Failed {
		p.logger.Debug("skip failed transaction", zap.String("signature", info.Signature))
		return false, nil
	}

	tx, err := p.transactionWithRetry(ctx, info.Signature)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		p.logger.Error("get transaction failed", zap.Error(err), zap.String("signature", info.Signature))
		return false, nil
	}
	if tx == nil {
		return false, nil
	}
	if tx.Failed {
		p.logger.Debug("skip failed transaction", zap.String("signature", info.Signature))
		return false, nil
	}
	if !p.filter.IsTarget(tx) {
		p.logger.Debug("skip transaction without target instruction",
			zap.String("signature", info.Signature),
			zap.String("contract_type", string(side)),
		)
		return false, nil
	}

	raw, err := tx.Encode()
	if err != nil {
		p.logger.Error("encode transaction failed", zap.Error(err), zap.String("signature", info.Signature))
		return false, nil
	}

	blockTime := tx.BlockTime
	if blockTime == nil {
		blockTime = info.BlockTime
	}
	created, err := p.sink.SaveTask(ctx, model.NewTask{
		Signature:    info.Signature,
		Slot:         info.Slot,
		ContractType: side,
		RawData:      raw,
		BlockTime:    blockTime,
	})
	if err != nil {
		return false, fmt.Errorf("save task %s: %w", info.Signature, err)
	}

	metrics.TxSaved.WithLabelValues(string(side)).Inc()
	metrics.LastSlot.WithLabelValues(string(side)).Set(float64(info.Slot))

	p.logger.Info("transaction saved",
		zap.String("contract_type", string(side)),
		zap.String("signature", info.Signature),
		zap.Uint64("slot", info.Slot),
		zap.Bool("created", created),
	)
	return true, nil
}

func (p *Poller) transactionWithRetry(ctx context.Context, signature string) (*model.Transaction, error) {
	var tx *model.Transaction
	err := p.retry.do(ctx, "getTransaction", func(ctx context.Context) error {
		var err error
		tx, err = p.chain.Transaction(ctx, signature)
		return err
	})
	return tx, err
}

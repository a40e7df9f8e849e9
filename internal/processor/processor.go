package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dlnIndexer/internal/dln"
	"dlnIndexer/internal/loop"
	"dlnIndexer/internal/metrics"
	"dlnIndexer/internal/model"
	"dlnIndexer/internal/price"
	"dlnIndexer/internal/storage"
)

const defaultReleaseTimeout = 10 * time.Second

// Messages recorded on tasks that cannot be turned into a trn log.
var (
	ErrMissingRawData   = errors.New("Missing raw transaction data")
	ErrEmptyTransaction = errors.New("Empty transaction data")
)

// ZeroPricePolicy decides what happens to a task whose token has no price.
type ZeroPricePolicy string

const (
	// ZeroPriceRecord writes the trn log with a zero price and value.
	ZeroPriceRecord ZeroPricePolicy = "record"
	// ZeroPriceFail marks the task ERROR.
	ZeroPriceFail ZeroPricePolicy = "fail"
)

// ParseZeroPricePolicy validates a policy name.
func ParseZeroPricePolicy(input string) (ZeroPricePolicy, error) {
	switch ZeroPricePolicy(input) {
	case ZeroPriceRecord, ZeroPriceFail:
		return ZeroPricePolicy(input), nil
	default:
		return "", fmt.Errorf("unknown zero price policy: %q", input)
	}
}

// Pricer resolves USD prices. A zero result means the price is unknown.
type Pricer interface {
	GetPrice(ctx context.Context, tokenAddress string, decimals uint8) decimal.Decimal
}

// RunConfig holds runtime settings for the processor.
type RunConfig struct {
	Owner           string
	BatchSize       int
	ActiveDelay     time.Duration
	ErrorDelay      time.Duration
	ReleaseTimeout  time.Duration
	ZeroPricePolicy ZeroPricePolicy
}

// Processor claims tasks, extracts and prices their order data and finalizes them.
type Processor struct {
	cfg       RunConfig
	queue     storage.TaskQueue
	pricer    Pricer
	extractor *dln.Extractor
	logger    *zap.Logger
}

// NewProcessor builds a Processor. Zero ReleaseTimeout and ZeroPricePolicy take
// their defaults; a nil logger discards output.
func NewProcessor(cfg RunConfig, queue storage.TaskQueue, pricer Pricer, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = defaultReleaseTimeout
	}
	if cfg.ZeroPricePolicy == "" {
		cfg.ZeroPricePolicy = ZeroPriceRecord
	}
	return &Processor{
		cfg:       cfg,
		queue:     queue,
		pricer:    pricer,
		extractor: dln.NewExtractor(),
		logger:    logger.Named("processor").With(zap.String("owner", cfg.Owner)),
	}
}

func (p *Processor) validate() error {
	if p.queue == nil {
		return fmt.Errorf("task queue is nil")
	}
	if p.pricer == nil {
		return fmt.Errorf("pricer is nil")
	}
	if p.cfg.Owner == "" {
		return fmt.Errorf("owner is required")
	}
	if p.cfg.BatchSize <= 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	return nil
}

// Run processes tasks until ctx is done. The owner name is reserved for the
// lifetime of Run, so a second processor with the same name fails to start.
// Tasks left WORKING by this owner are returned to the queue on start and again on exit.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.validate(); err != nil {
		return err
	}

	unlock, err := p.queue.LockOwner(ctx, p.cfg.Owner)
	if err != nil {
		return fmt.Errorf("reserve owner: %w", err)
	}
	defer unlock()

	if err := p.release(ctx); err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), p.cfg.ReleaseTimeout)
		defer cancel()
		if err := p.release(releaseCtx); err != nil {
			p.logger.Error("release tasks on shutdown failed", zap.Error(err))
		}
	}()

	p.logger.Info("processor started", zap.Int("batch_size", p.cfg.BatchSize))
	for {
		processed, err := p.RunOnce(ctx)

		var delay time.Duration
		switch {
		case ctx.Err() != nil:
			p.logger.Info("processor stopping")
			return nil
		case err != nil:
			p.logger.Error("process iteration failed", zap.Error(err), zap.Duration("error_delay", p.cfg.ErrorDelay))
			delay = p.cfg.ErrorDelay
		case processed == 0:
			delay = p.cfg.ActiveDelay
		}

		if !loop.Sleep(ctx, delay) {
			p.logger.Info("processor stopping")
			return nil
		}
	}
}

// RunOnce claims one batch and processes it. It returns the number of tasks claimed.
func (p *Processor) RunOnce(ctx context.Context) (int, error) {
	pending, err := p.queue.CountPending(ctx)
	if err != nil {
		return 0, err
	}
	metrics.PendingTasks.Set(float64(pending))

	tasks, err := p.queue.ClaimTasks(ctx, p.cfg.Owner, p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim tasks: %w", err)
	}
	if len(tasks) == 0 {
		return 0, nil
	}
	p.logger.Info("tasks claimed", zap.Int("count", len(tasks)), zap.Int64("pending", pending))

	var errs []error
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		if err := p.ProcessTask(ctx, task); err != nil && ctx.Err() == nil {
			errs = append(errs, err)
		}
	}
	return len(tasks), errors.Join(errs...)
}

// ProcessTask finalizes one claimed task as READY or ERROR. A task interrupted by
// cancellation is left WORKING for the release sweep.
func (p *Processor) ProcessTask(ctx context.Context, task model.Task) error {
	logger := p.logger.With(
		zap.Int64("task_id", task.ID),
		zap.String("signature", task.Signature),
		zap.String("contract_type", string(task.ContractType)),
	)

	trnLog, err := p.buildTrnLog(ctx, task)
	if err == nil {
		err = p.queue.CompleteTask(ctx, task, trnLog)
	}

	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("task interrupted, left for recovery", zap.Error(err))
			return ctx.Err()
		}

		logger.Warn("task failed", zap.Error(err))
		metrics.ProcessedTasks.WithLabelValues("error", string(task.ContractType)).Inc()
		if ferr := p.queue.FailTask(ctx, task.ID, err.Error()); ferr != nil {
			return fmt.Errorf("mark task %d error: %w", task.ID, ferr)
		}
		return nil
	}

	metrics.ProcessedTasks.WithLabelValues("success", string(task.ContractType)).Inc()
	metrics.LastProcessedSlot.WithLabelValues(string(task.ContractType)).Set(float64(task.Slot))
	metrics.LastTaskID.Set(float64(task.ID))

	logger.Info("task processed",
		zap.String("order_id", trnLog.OrderID),
		zap.String("token", trnLog.TokenAddress),
		zap.String("amount", trnLog.Amount),
		zap.String("usd_value", trnLog.USDValue),
	)
	return nil
}

func (p *Processor) buildTrnLog(ctx context.Context, task model.Task) (*model.TrnLog, error) {
	if len(task.RawData) == 0 {
		return nil, ErrMissingRawData
	}

	tx, err := model.DecodeTransaction(task.RawData)
	if err != nil {
		return nil, err
	}

	data, err := p.extractor.Extract(tx)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrEmptyTransaction
	}

	usdPrice := p.pricer.GetPrice(ctx, data.TokenAddress, data.Decimals)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if usdPrice.IsZero() {
		if p.cfg.ZeroPricePolicy == ZeroPriceFail {
			return nil, fmt.Errorf("zero price for token %s", data.TokenAddress)
		}
		p.logger.Warn("zero price, recording without value",
			zap.Int64("task_id", task.ID),
			zap.String("token", data.TokenAddress),
			zap.String("order_id", data.OrderID),
		)
	}

	eventName := task.EventName
	if eventName == "" {
		eventName = task.ContractType.EventName()
	}

	return &model.TrnLog{
		OrderID:      data.OrderID,
		TokenAddress: data.TokenAddress,
		Amount:       data.RawAmount.String(),
		Decimals:     data.Decimals,
		TrnDate:      task.BlockTime,
		Signature:    task.Signature,
		TrnEventType: task.ContractType,
		EventName:    eventName,
		USDPrice:     usdPrice.String(),
		USDValue:     price.CalculateVolume(data.RawAmount, data.Decimals, usdPrice),
	}, nil
}

func (p *Processor) release(ctx context.Context) error {
	released, err := p.queue.ReleaseTasks(ctx, p.cfg.Owner)
	if err != nil {
		return err
	}
	if released > 0 {
		p.logger.Info("working tasks returned to queue", zap.Int64("count", released))
	}
	return nil
}

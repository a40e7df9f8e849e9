package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dlnIndexer/internal/chain"
	"dlnIndexer/internal/model"
)

var (
	sourceProgram      = solana.SystemProgramID
	destinationProgram = solana.TokenProgramID
)

var createOrderData = []byte{130, 131, 98, 190, 40, 206, 68, 50, 7, 7}

type fakeChain struct {
	mu sync.Mutex

	history map[solana.PublicKey][]string // newest first
	txs     map[string]*model.Transaction
	txErrs  map[string]error
	failed  map[string]bool
	sigErr  error
	calls   []chain.SignaturesOptions
	txCalls int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		history: make(map[solana.PublicKey][]string),
		txs:     make(map[string]*model.Transaction),
		txErrs:  make(map[string]error),
		failed:  make(map[string]bool),
	}
}

// addNoise appends count non-target transactions named prefix1..prefixN, oldest first.
func (f *fakeChain) addNoise(program solana.PublicKey, prefix string, count int) {
	for i := 1; i <= count; i++ {
		sig := fmt.Sprintf("%s%d", prefix, i)
		f.history[program] = append([]string{sig}, f.history[program]...)
		f.txs[sig] = &model.Transaction{Version: model.TransactionVersion, Signature: sig}
	}
}

func (f *fakeChain) transactionCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txCalls
}

// addHistory appends count target transactions named prefix1..prefixN, oldest first.
func (f *fakeChain) addHistory(program solana.PublicKey, prefix string, count int) []string {
	var sigs []string
	for i := 1; i <= count; i++ {
		sig := fmt.Sprintf("%s%d", prefix, i)
		sigs = append(sigs, sig)
		f.history[program] = append([]string{sig}, f.history[program]...)
		f.txs[sig] = targetTx(sig, uint64(i))
	}
	return sigs
}

func (f *fakeChain) SignaturesForAddress(_ context.Context, program solana.PublicKey, opts chain.SignaturesOptions) ([]model.SignatureInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	if f.sigErr != nil {
		return nil, f.sigErr
	}

	history := f.history[program]
	start := 0
	if opts.Before != "" {
		start = len(history)
		for i, sig := range history {
			if sig == opts.Before {
				start = i + 1
				break
			}
		}
	}

	var out []model.SignatureInfo
	for _, sig := range history[start:] {
		if sig == opts.Until || (opts.Limit > 0 && len(out) == opts.Limit) {
			break
		}
		slot := uint64(0)
		if tx := f.txs[sig]; tx != nil {
			slot = tx.Slot
		}
		out = append(out, model.SignatureInfo{Signature: sig, Slot: slot, Failed: f.failed[sig]})
	}
	return out, nil
}

func (f *fakeChain) Transaction(_ context.Context, signature string) (*model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCalls++
	if err := f.txErrs[signature]; err != nil {
		return nil, err
	}
	return f.txs[signature], nil
}

type fakeSink struct {
	mu          sync.Mutex
	checkpoints map[model.ContractType]string
	saved       []model.NewTask
	seen        map[string]bool
	failOn      string
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		checkpoints: make(map[model.ContractType]string),
		seen:        make(map[string]bool),
	}
}

func (f *fakeSink) LoadSyncCheckpoint(_ context.Context, side model.ContractType) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sig, ok := f.checkpoints[side]
	return sig, ok, nil
}

func (f *fakeSink) SaveTask(_ context.Context, task model.NewTask) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if task.Signature == f.failOn {
		return false, errors.New("connection reset")
	}
	created := !f.seen[task.Signature]
	f.seen[task.Signature] = true
	f.saved = append(f.saved, task)
	f.checkpoints[task.ContractType] = task.Signature
	return created, nil
}

func (f *fakeSink) signatures() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.saved))
	for _, task := range f.saved {
		out = append(out, task.Signature)
	}
	return out
}

func targetTx(sig string, slot uint64) *model.Transaction {
	blockTime := int64(1700000000 + slot)
	return &model.Transaction{
		Version:      model.TransactionVersion,
		Signature:    sig,
		Slot:         slot,
		BlockTime:    &blockTime,
		Instructions: []model.Instruction{{ProgramIDIndex: 1, Data: createOrderData}},
	}
}

func newTestPoller(c Chain, sink *fakeSink, pageLimit int) *Poller {
	return NewPoller(RunConfig{
		Programs: map[model.ContractType]solana.PublicKey{
			model.ContractSource:      sourceProgram,
			model.ContractDestination: destinationProgram,
		},
		PageLimit:    pageLimit,
		RetryBackoff: time.Millisecond,
	}, c, sink, nil)
}

func TestProcessContractDrainsOldestFirst(t *testing.T) {
	c := newFakeChain()
	sigs := c.addHistory(sourceProgram, "s", 10)
	sink := newFakeSink()
	sink.checkpoints[model.ContractSource] = "s3"

	poller := newTestPoller(c, sink, 2)
	saved, err := poller.ProcessContract(context.Background(), model.ContractSource, DirectionUntil)
	require.NoError(t, err)

	assert.Equal(t, 7, saved)
	assert.Equal(t, sigs[3:], sink.signatures())
	assert.Equal(t, "s10", sink.checkpoints[model.ContractSource])

	for _, opts := range c.calls {
		assert.Equal(t, "s3", opts.Until)
	}
}

func TestProcessContractWithoutCheckpointTakesNewestPage(t *testing.T) {
	c := newFakeChain()
	c.addHistory(sourceProgram, "s", 10)
	sink := newFakeSink()

	poller := newTestPoller(c, sink, 3)
	saved, err := poller.ProcessContract(context.Background(), model.ContractSource, DirectionUntil)
	require.NoError(t, err)

	assert.Equal(t, 3, saved)
	assert.Equal(t, []string{"s8", "s9", "s10"}, sink.signatures())
	assert.Len(t, c.calls, 1)
}

func TestProcessContractNothingNew(t *testing.T) {
	c := newFakeChain()
	c.addHistory(sourceProgram, "s", 4)
	sink := newFakeSink()
	sink.checkpoints[model.ContractSource] = "s4"

	poller := newTestPoller(c, sink, 10)
	saved, err := poller.ProcessContract(context.Background(), model.ContractSource, DirectionUntil)
	require.NoError(t, err)
	assert.Zero(t, saved)
	assert.Empty(t, sink.signatures())
}

func TestProcessContractSkipsUnusableTransactions(t *testing.T) {
	c := newFakeChain()
	c.addHistory(sourceProgram, "s", 5)
	c.txs["s2"] = &model.Transaction{
		Version:      model.TransactionVersion,
		Signature:    "s2",
		Instructions: []model.Instruction{{Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}},
	}
	c.txs["s3"] = nil
	c.txErrs["s4"] = errors.New("rpc timeout")
	sink := newFakeSink()
	sink.checkpoints[model.ContractSource] = "s1"

	poller := newTestPoller(c, sink, 10)
	saved, err := poller.ProcessContract(context.Background(), model.ContractSource, DirectionUntil)
	require.NoError(t, err)

	assert.Equal(t, 1, saved)
	assert.Equal(t, []string{"s5"}, sink.signatures())
}

func TestProcessContractSkipsFailedTransactions(t *testing.T) {
	c := newFakeChain()
	c.addHistory(sourceProgram, "s", 4)
	c.failed["s2"] = true
	c.txs["s3"].Failed = true
	sink := newFakeSink()
	sink.checkpoints[model.ContractSource] = "s1"

	poller := newTestPoller(c, sink, 10)
	saved, err := poller.ProcessContract(context.Background(), model.ContractSource, DirectionUntil)
	require.NoError(t, err)

	assert.Equal(t, 1, saved)
	assert.Equal(t, []string{"s4"}, sink.signatures())
	assert.Equal(t, 2, c.transactionCalls())
}

func TestProcessContractDoesNotRefetchScannedSignatures(t *testing.T) {
	c := newFakeChain()
	c.addHistory(sourceProgram, "t", 1)
	c.addNoise(sourceProgram, "n", 250)
	sink := newFakeSink()
	sink.checkpoints[model.ContractSource] = "t1"

	poller := newTestPoller(c, sink, 100)
	for i := 0; i < 3; i++ {
		saved, err := poller.ProcessContract(context.Background(), model.ContractSource, DirectionUntil)
		require.NoError(t, err)
		assert.Zero(t, saved)
	}
	assert.Equal(t, 250, c.transactionCalls())
	assert.Equal(t, "t1", sink.checkpoints[model.ContractSource])

	c.mu.Lock()
	c.history[sourceProgram] = append([]string{"x1"}, c.history[sourceProgram]...)
	c.txs["x1"] = targetTx("x1", 300)
	c.mu.Unlock()

	saved, err := poller.ProcessContract(context.Background(), model.ContractSource, DirectionUntil)
	require.NoError(t, err)
	assert.Equal(t, 1, saved)
	assert.Equal(t, 251, c.transactionCalls())
	assert.Equal(t, "x1", sink.checkpoints[model.ContractSource])
}

func TestProcessContractWithoutCheckpointScansNewestPageOnce(t *testing.T) {
	c := newFakeChain()
	c.addNoise(sourceProgram, "n", 5)
	sink := newFakeSink()

	poller := newTestPoller(c, sink, 3)
	for i := 0; i < 3; i++ {
		_, err := poller.ProcessContract(context.Background(), model.ContractSource, DirectionUntil)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, c.transactionCalls())
	assert.Empty(t, sink.signatures())
}

func TestProcessContractCapsBacklogPerIteration(t *testing.T) {
	c := newFakeChain()
	c.addHistory(sourceProgram, "s", 7)
	sink := newFakeSink()
	sink.checkpoints[model.ContractSource] = "s1"

	poller := NewPoller(RunConfig{
		Programs:     map[model.ContractType]solana.PublicKey{model.ContractSource: sourceProgram},
		PageLimit:    2,
		MaxPages:     1,
		RetryBackoff: time.Millisecond,
	}, c, sink, nil)

	var perIteration []int
	for i := 0; i < 4; i++ {
		saved, err := poller.ProcessContract(context.Background(), model.ContractSource, DirectionUntil)
		require.NoError(t, err)
		perIteration = append(perIteration, saved)
	}

	assert.Equal(t, []int{2, 2, 2, 0}, perIteration)
	assert.Equal(t, []string{"s2", "s3", "s4", "s5", "s6", "s7"}, sink.signatures())
	assert.Equal(t, 6, c.transactionCalls())
}

func TestProcessContractPermanentRPCErrorIsNotRetried(t *testing.T) {
	c := newFakeChain()
	c.sigErr = fmt.Errorf("%w: until %q", chain.ErrInvalidSignature, "corrupt")
	sink := newFakeSink()
	sink.checkpoints[model.ContractSource] = "corrupt"

	poller := NewPoller(RunConfig{
		Programs:     map[model.ContractType]solana.PublicKey{model.ContractSource: sourceProgram},
		PageLimit:    10,
		MaxRetries:   5,
		RetryBackoff: time.Hour,
	}, c, sink, nil)

	_, err := poller.ProcessContract(context.Background(), model.ContractSource, DirectionUntil)
	require.ErrorIs(t, err, chain.ErrInvalidSignature)
	assert.Len(t, c.calls, 1)
}

func TestProcessContractSaveFailureAborts(t *testing.T) {
	c := newFakeChain()
	c.addHistory(sourceProgram, "s", 6)
	sink := newFakeSink()
	sink.checkpoints[model.ContractSource] = "s1"
	sink.failOn = "s4"

	poller := newTestPoller(c, sink, 10)
	saved, err := poller.ProcessContract(context.Background(), model.ContractSource, DirectionUntil)
	require.Error(t, err)

	assert.Equal(t, 2, saved)
	assert.Equal(t, []string{"s2", "s3"}, sink.signatures())
	assert.Equal(t, "s3", sink.checkpoints[model.ContractSource])
}

func TestProcessContractStoresSummary(t *testing.T) {
	c := newFakeChain()
	c.addHistory(destinationProgram, "d", 1)
	sink := newFakeSink()

	poller := newTestPoller(c, sink, 10)
	_, err := poller.ProcessContract(context.Background(), model.ContractDestination, DirectionUntil)
	require.NoError(t, err)
	require.Len(t, sink.saved, 1)

	task := sink.saved[0]
	assert.Equal(t, model.ContractDestination, task.ContractType)
	assert.Equal(t, uint64(1), task.Slot)
	require.NotNil(t, task.BlockTime)
	assert.Equal(t, int64(1700000001), *task.BlockTime)

	decoded, err := model.DecodeTransaction(task.RawData)
	require.NoError(t, err)
	assert.Equal(t, createOrderData, decoded.Instructions[0].Data)
}

func TestProcessContractBeforeWalksBackwards(t *testing.T) {
	c := newFakeChain()
	c.addHistory(sourceProgram, "s", 10)
	sink := newFakeSink()
	sink.checkpoints[model.ContractSource] = "s8"

	poller := newTestPoller(c, sink, 3)
	saved, err := poller.ProcessContract(context.Background(), model.ContractSource, DirectionBefore)
	require.NoError(t, err)

	assert.Equal(t, 3, saved)
	assert.Equal(t, []string{"s7", "s6", "s5"}, sink.signatures())
	assert.Equal(t, "s5", sink.checkpoints[model.ContractSource])
}

func TestColdStart(t *testing.T) {
	t.Run("stops at limit", func(t *testing.T) {
		c := newFakeChain()
		c.addHistory(sourceProgram, "s", 20)
		sink := newFakeSink()

		poller := newTestPoller(c, sink, 4)
		saved, err := poller.ColdStart(context.Background(), 6, model.ContractSource)
		require.NoError(t, err)

		assert.Equal(t, 8, saved)
		assert.Equal(t, []string{"s20", "s19", "s18", "s17", "s16", "s15", "s14", "s13"}, sink.signatures())
	})

	t.Run("stops when history is exhausted", func(t *testing.T) {
		c := newFakeChain()
		c.addHistory(sourceProgram, "s", 5)
		sink := newFakeSink()

		poller := newTestPoller(c, sink, 2)
		saved, err := poller.ColdStart(context.Background(), 100, model.ContractSource)
		require.NoError(t, err)
		assert.Equal(t, 5, saved)
	})

	t.Run("moves past pages without targets", func(t *testing.T) {
		c := newFakeChain()
		c.addHistory(sourceProgram, "s", 6)
		for _, sig := range []string{"s6", "s5", "s4"} {
			c.txs[sig] = &model.Transaction{Version: model.TransactionVersion, Signature: sig}
		}
		sink := newFakeSink()

		poller := newTestPoller(c, sink, 3)
		saved, err := poller.ColdStart(context.Background(), 3, model.ContractSource)
		require.NoError(t, err)
		assert.Equal(t, 3, saved)
		assert.Equal(t, []string{"s3", "s2", "s1"}, sink.signatures())
	})
}

func TestRunPollsBothSidesUntilCancelled(t *testing.T) {
	c := newFakeChain()
	c.addHistory(sourceProgram, "s", 2)
	c.addHistory(destinationProgram, "d", 2)
	sink := newFakeSink()

	poller := NewPoller(RunConfig{
		Programs: map[model.ContractType]solana.PublicKey{
			model.ContractSource:      sourceProgram,
			model.ContractDestination: destinationProgram,
		},
		PageLimit:   10,
		IdleDelay:   5 * time.Millisecond,
		ActiveDelay: 5 * time.Millisecond,
		ErrorDelay:  5 * time.Millisecond,
	}, c, sink, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, poller.Run(ctx))
	assert.Equal(t, []string{"s1", "s2", "d1", "d2"}, sink.signatures()[:4])
	assert.Equal(t, "s2", sink.checkpoints[model.ContractSource])
	assert.Equal(t, "d2", sink.checkpoints[model.ContractDestination])
}

func TestRunRejectsMissingDependencies(t *testing.T) {
	poller := NewPoller(RunConfig{PageLimit: 10}, nil, newFakeSink(), nil)
	assert.Error(t, poller.Run(context.Background()))

	poller = NewPoller(RunConfig{}, newFakeChain(), newFakeSink(), nil)
	assert.Error(t, poller.Run(context.Background()))
}

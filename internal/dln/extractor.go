package dln

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"dlnIndexer/internal/model"
)

const (
	// NativeMint is the wrapped SOL mint used as the token address of lamport transfers.
	NativeMint = "So11111111111111111111111111111111111111112"
	// NativeDecimals is the lamport precision of SOL.
	NativeDecimals uint8 = 9
	// OrderIDNotFound marks a record whose order id could not be recovered.
	OrderIDNotFound = "NOT_FOUND"

	createOrderLogMarker = "Instruction: CreateOrderWithNonce"
	programDataPrefix    = "Program data: "
	orderIDSize          = 32
	nativeFeeMultiplier  = 10
)

var orderIDPattern = regexp.MustCompile(`(?i)Order\s?Id:\s?(0x)?([a-f0-9]{64})`)

// TrnData is the financial fact extracted from one order transaction.
type TrnData struct {
	OrderID      string
	TokenAddress string
	Decimals     uint8
	RawAmount    *big.Int
	Amount       string
}

type balanceChange struct {
	mint     string
	decimals uint8
	amount   *big.Int
}

// Extractor derives order id, token and amount from a transaction summary.
type Extractor struct{}

// NewExtractor creates an Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns nil when the transaction moved no tokens and no significant lamports.
func (e *Extractor) Extract(tx *model.Transaction) (*TrnData, error) {
	if tx == nil {
		return nil, nil
	}

	change, err := balanceChangeOf(tx)
	if err != nil {
		return nil, err
	}
	if change == nil {
		return nil, nil
	}

	orderID := OrderID(tx.LogMessages)
	if orderID == "" {
		orderID = OrderIDNotFound
	}

	return &TrnData{
		OrderID:      orderID,
		TokenAddress: change.mint,
		Decimals:     change.decimals,
		RawAmount:    change.amount,
		Amount:       FormatAmount(change.amount, change.decimals),
	}, nil
}

// OrderID recovers the 64-char hex order id from program logs, or returns "".
func OrderID(logs []string) string {
	for _, line := range logs {
		if match := orderIDPattern.FindStringSubmatch(line); match != nil {
			return strings.ToLower(match[2])
		}
	}

	createIndex := -1
	for i, line := range logs {
		if strings.Contains(line, createOrderLogMarker) {
			createIndex = i
			break
		}
	}
	if createIndex < 0 {
		return ""
	}

	for _, line := range logs[createIndex+1:] {
		idx := strings.Index(line, programDataPrefix)
		if idx < 0 {
			continue
		}
		payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line[idx+len(programDataPrefix):]))
		if err != nil || len(payload) < orderIDSize {
			return ""
		}
		return strings.ToLower(hex.EncodeToString(payload[:orderIDSize]))
	}
	return ""
}

func balanceChangeOf(tx *model.Transaction) (*balanceChange, error) {
	change, err := tokenBalanceChange(tx.PreTokenBalances, tx.PostTokenBalances)
	if err != nil || change != nil {
		return change, err
	}
	return nativeBalanceChange(tx.PreBalances, tx.PostBalances, tx.Fee), nil
}

func tokenBalanceChange(pre, post []model.TokenBalance) (*balanceChange, error) {
	for _, after := range post {
		postAmount, ok := new(big.Int).SetString(after.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("invalid post token amount %q for account %d", after.Amount, after.AccountIndex)
		}

		preAmount := new(big.Int)
		for _, before := range pre {
			if before.AccountIndex != after.AccountIndex {
				continue
			}
			if _, ok := preAmount.SetString(before.Amount, 10); !ok {
				return nil, fmt.Errorf("invalid pre token amount %q for account %d", before.Amount, before.AccountIndex)
			}
			break
		}

		diff := new(big.Int).Sub(postAmount, preAmount)
		diff.Abs(diff)
		if diff.Sign() > 0 {
			return &balanceChange{mint: after.Mint, decimals: after.Decimals, amount: diff}, nil
		}
	}
	return nil, nil
}

func nativeBalanceChange(pre, post []uint64, fee uint64) *balanceChange {
	feeAmount := new(big.Int).SetUint64(fee)
	threshold := new(big.Int).Mul(feeAmount, big.NewInt(nativeFeeMultiplier))

	n := len(post)
	if len(pre) < n {
		n = len(pre)
	}
	for i := 0; i < n; i++ {
		diff := new(big.Int).Sub(new(big.Int).SetUint64(post[i]), new(big.Int).SetUint64(pre[i]))
		diff.Abs(diff)
		if diff.Cmp(threshold) <= 0 {
			continue
		}
		// account 0 is the fee payer
		if i == 0 {
			diff.Sub(diff, feeAmount)
		}
		return &balanceChange{mint: NativeMint, decimals: NativeDecimals, amount: diff}
	}
	return nil
}

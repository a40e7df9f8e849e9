package model

import (
	"encoding/json"
	"fmt"
)

// TransactionVersion is the schema version of the stored transaction summary.
const TransactionVersion = 1

// SignatureInfo is one entry of a program's signature history.
type SignatureInfo struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"block_time,omitempty"`
	Failed    bool   `json:"failed"`
}

// Transaction is the typed summary of a confirmed transaction kept in the task queue.
// Only the fields the filter and the extractor read are retained.
type Transaction struct {
	Version           int            `json:"version"`
	Signature         string         `json:"signature"`
	Slot              uint64         `json:"slot"`
	BlockTime         *int64         `json:"block_time,omitempty"`
	Fee               uint64         `json:"fee"`
	Failed            bool           `json:"failed"`
	Instructions      []Instruction  `json:"instructions"`
	LogMessages       []string       `json:"log_messages"`
	PreBalances       []uint64       `json:"pre_balances"`
	PostBalances      []uint64       `json:"post_balances"`
	PreTokenBalances  []TokenBalance `json:"pre_token_balances"`
	PostTokenBalances []TokenBalance `json:"post_token_balances"`
}

// Instruction is a top-level instruction with its decoded data bytes.
type Instruction struct {
	ProgramIDIndex int    `json:"program_id_index"`
	Data           []byte `json:"data"`
}

// TokenBalance is an SPL token balance snapshot for one account.
type TokenBalance struct {
	AccountIndex int    `json:"account_index"`
	Mint         string `json:"mint"`
	Owner        string `json:"owner,omitempty"`
	Amount       string `json:"amount"`
	Decimals     uint8  `json:"decimals"`
}

// Encode serializes the summary for storage.
func (t *Transaction) Encode() ([]byte, error) {
	t.Version = TransactionVersion
	return json.Marshal(t)
}

// DecodeTransaction parses a stored summary and checks its version.
func DecodeTransaction(data []byte) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("parse transaction summary: %w", err)
	}
	if tx.Version != TransactionVersion {
		return nil, fmt.Errorf("unsupported transaction summary version %d", tx.Version)
	}
	return &tx, nil
}

package chain

import "encoding/json"

type rpcSignature struct {
	Signature          string          `json:"signature"`
	Slot               uint64          `json:"slot"`
	BlockTime          *int64          `json:"blockTime"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

type rpcTransaction struct {
	Slot        uint64          `json:"slot"`
	BlockTime   *int64          `json:"blockTime"`
	Meta        *rpcMeta        `json:"meta"`
	Transaction rpcTxEnvelope   `json:"transaction"`
	Version     json.RawMessage `json:"version"`
}

type rpcTxEnvelope struct {
	Signatures []string   `json:"signatures"`
	Message    rpcMessage `json:"message"`
}

type rpcMessage struct {
	AccountKeys  []string         `json:"accountKeys"`
	Instructions []rpcInstruction `json:"instructions"`
}

type rpcInstruction struct {
	ProgramIDIndex int    `json:"programIdIndex"`
	Accounts       []int  `json:"accounts"`
	Data           string `json:"data"`
}

type rpcMeta struct {
	Err               json.RawMessage   `json:"err"`
	Fee               uint64            `json:"fee"`
	PreBalances       []uint64          `json:"preBalances"`
	PostBalances      []uint64          `json:"postBalances"`
	PreTokenBalances  []rpcTokenBalance `json:"preTokenBalances"`
	PostTokenBalances []rpcTokenBalance `json:"postTokenBalances"`
	LogMessages       []string          `json:"logMessages"`
}

type rpcTokenBalance struct {
	AccountIndex  int            `json:"accountIndex"`
	Mint          string         `json:"mint"`
	Owner         string         `json:"owner"`
	UITokenAmount rpcTokenAmount `json:"uiTokenAmount"`
}

type rpcTokenAmount struct {
	Amount         string `json:"amount"`
	Decimals       uint8  `json:"decimals"`
	UIAmountString string `json:"uiAmountString"`
}

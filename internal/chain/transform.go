package chain

import (
	"fmt"

	"dlnIndexer/internal/dln"
	"dlnIndexer/internal/model"
)

func buildTransaction(signature string, tx *rpcTransaction) (*model.Transaction, error) {
	instructions := make([]model.Instruction, 0, len(tx.Transaction.Message.Instructions))
	for i, ix := range tx.Transaction.Message.Instructions {
		data, err := dln.DecodeInstructionData(ix.Data, dln.EncodingBase58)
		if err != nil {
			return nil, fmt.Errorf("decode instruction %d data: %w", i, err)
		}
		instructions = append(instructions, model.Instruction{
			ProgramIDIndex: ix.ProgramIDIndex,
			Data:           data,
		})
	}

	out := &model.Transaction{
		Version:      model.TransactionVersion,
		Signature:    signature,
		Slot:         tx.Slot,
		BlockTime:    tx.BlockTime,
		Instructions: instructions,
	}

	if meta := tx.Meta; meta != nil {
		out.Fee = meta.Fee
		out.Failed = len(meta.Err) > 0 && string(meta.Err) != "null"
		out.LogMessages = meta.LogMessages
		out.PreBalances = meta.PreBalances
		out.PostBalances = meta.PostBalances
		out.PreTokenBalances = buildTokenBalances(meta.PreTokenBalances)
		out.PostTokenBalances = buildTokenBalances(meta.PostTokenBalances)
	}

	return out, nil
}

func buildTokenBalances(balances []rpcTokenBalance) []model.TokenBalance {
	if len(balances) == 0 {
		return nil
	}
	out := make([]model.TokenBalance, 0, len(balances))
	for _, b := range balances {
		out = append(out, model.TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint,
			Owner:        b.Owner,
			Amount:       b.UITokenAmount.Amount,
			Decimals:     b.UITokenAmount.Decimals,
		})
	}
	return out
}

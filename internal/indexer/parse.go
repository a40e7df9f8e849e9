package indexer

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"

	"dlnIndexer/internal/model"
)

// ParseProgram converts a base58 program address into a public key.
func ParseProgram(input string) (solana.PublicKey, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return solana.PublicKey{}, fmt.Errorf("program address is empty")
	}
	key, err := solana.PublicKeyFromBase58(input)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid program address %s: %w", input, err)
	}
	return key, nil
}

// ParsePrograms maps both contract sides to their program keys.
func ParsePrograms(source, destination string) (map[model.ContractType]solana.PublicKey, error) {
	src, err := ParseProgram(source)
	if err != nil {
		return nil, fmt.Errorf("source program: %w", err)
	}
	dst, err := ParseProgram(destination)
	if err != nil {
		return nil, fmt.Errorf("destination program: %w", err)
	}
	if src.Equals(dst) {
		return nil, fmt.Errorf("source and destination programs must differ")
	}
	return map[model.ContractType]solana.PublicKey{
		model.ContractSource:      src,
		model.ContractDestination: dst,
	}, nil
}

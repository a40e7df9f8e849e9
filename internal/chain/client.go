package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gagliardetto/solana-go"

	"dlnIndexer/internal/model"
)

// CommitmentConfirmed is the commitment level used for every request.
const CommitmentConfirmed = "confirmed"

var (
	// ErrInvalidSignature is returned for a cursor or signature that is not a base58 signature.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrMalformedTransaction is returned when a node response cannot be converted.
	ErrMalformedTransaction = errors.New("malformed transaction")
)

// JSON-RPC error codes for requests the node will never accept.
const (
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
)

// IsPermanent reports whether err cannot be fixed by sending the same request again.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrInvalidSignature) || errors.Is(err, ErrMalformedTransaction) {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case rpcInvalidRequest, rpcMethodNotFound, rpcInvalidParams:
			return true
		}
	}
	return false
}

// SignaturesOptions bounds a getSignaturesForAddress page.
// Before and Until are exclusive cursors; empty means unbounded.
type SignaturesOptions struct {
	Before string
	Until  string
	Limit  int
}

// Client wraps a JSON-RPC connection to a Solana node.
type Client struct {
	rpcClient  *rpc.Client
	commitment string
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		rpcClient:  rpcClient,
		commitment: CommitmentConfirmed,
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// SignaturesForAddress returns signatures touching the program, newest first.
func (c *Client) SignaturesForAddress(ctx context.Context, program solana.PublicKey, opts SignaturesOptions) ([]model.SignatureInfo, error) {
	params := map[string]interface{}{
		"commitment": c.commitment,
	}
	if opts.Limit > 0 {
		params["limit"] = opts.Limit
	}
	if opts.Before != "" {
		if _, err := solana.SignatureFromBase58(opts.Before); err != nil {
			return nil, fmt.Errorf("%w: before %q: %v", ErrInvalidSignature, opts.Before, err)
		}
		params["before"] = opts.Before
	}
	if opts.Until != "" {
		if _, err := solana.SignatureFromBase58(opts.Until); err != nil {
			return nil, fmt.Errorf("%w: until %q: %v", ErrInvalidSignature, opts.Until, err)
		}
		params["until"] = opts.Until
	}

	var result []rpcSignature
	if err := c.rpcClient.CallContext(ctx, &result, "getSignaturesForAddress", program.String(), params); err != nil {
		return nil, err
	}

	out := make([]model.SignatureInfo, 0, len(result))
	for _, item := range result {
		out = append(out, model.SignatureInfo{
			Signature: item.Signature,
			Slot:      item.Slot,
			BlockTime: item.BlockTime,
			Failed:    len(item.Err) > 0 && string(item.Err) != "null",
		})
	}
	return out, nil
}

// Transaction fetches a confirmed transaction and converts it to the stored summary.
// It returns nil without error when the node does not have the transaction.
func (c *Client) Transaction(ctx context.Context, signature string) (*model.Transaction, error) {
	if _, err := solana.SignatureFromBase58(signature); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSignature, signature, err)
	}

	params := map[string]interface{}{
		"encoding":                       "json",
		"commitment":                     c.commitment,
		"maxSupportedTransactionVersion": 0,
	}

	var result *rpcTransaction
	if err := c.rpcClient.CallContext(ctx, &result, "getTransaction", signature, params); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	tx, err := buildTransaction(signature, result)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedTransaction, signature, err)
	}
	return tx, nil
}

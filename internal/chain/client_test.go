package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func newRPCServer(t *testing.T, handle func(req rpcRequest) interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  handle(req),
		})
	}))
}

func testSignature(seed byte) string {
	raw := make([]byte, 64)
	for i := range raw {
		raw[i] = seed
	}
	return base58.Encode(raw)
}

func TestSignaturesForAddress(t *testing.T) {
	program := solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	until := testSignature(1)

	var gotParams map[string]interface{}
	var gotAddress string
	server := newRPCServer(t, func(req rpcRequest) interface{} {
		assert.Equal(t, "getSignaturesForAddress", req.Method)
		require.Len(t, req.Params, 2)
		require.NoError(t, json.Unmarshal(req.Params[0], &gotAddress))
		require.NoError(t, json.Unmarshal(req.Params[1], &gotParams))
		return []map[string]interface{}{
			{"signature": testSignature(3), "slot": 300, "blockTime": 1700000300, "err": nil},
			{"signature": testSignature(2), "slot": 200, "blockTime": nil, "err": map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}},
		}
	})
	defer server.Close()

	client, err := NewClient(context.Background(), server.URL)
	require.NoError(t, err)
	defer client.Close()

	sigs, err := client.SignaturesForAddress(context.Background(), program, SignaturesOptions{Until: until, Limit: 50})
	require.NoError(t, err)

	assert.Equal(t, program.String(), gotAddress)
	assert.Equal(t, until, gotParams["until"])
	assert.Equal(t, float64(50), gotParams["limit"])
	assert.NotContains(t, gotParams, "before")

	require.Len(t, sigs, 2)
	assert.Equal(t, uint64(300), sigs[0].Slot)
	assert.False(t, sigs[0].Failed)
	require.NotNil(t, sigs[0].BlockTime)
	assert.Equal(t, int64(1700000300), *sigs[0].BlockTime)
	assert.True(t, sigs[1].Failed)
	assert.Nil(t, sigs[1].BlockTime)
}

func TestSignaturesForAddressRejectsBadCursor(t *testing.T) {
	server := newRPCServer(t, func(req rpcRequest) interface{} {
		t.Fatalf("unexpected rpc call %s", req.Method)
		return nil
	})
	defer server.Close()

	client, err := NewClient(context.Background(), server.URL)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.SignaturesForAddress(context.Background(), solana.SystemProgramID, SignaturesOptions{Before: "not-a-signature"})
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.True(t, IsPermanent(err))

	_, err = client.Transaction(context.Background(), "0xabc")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{name: "invalid params", status: http.StatusOK, body: `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"Invalid param"}}`, permanent: true},
		{name: "method not found", status: http.StatusOK, body: `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"Method not found"}}`, permanent: true},
		{name: "node behind", status: http.StatusOK, body: `{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"Node is behind"}}`, permanent: false},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `too many requests`, permanent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, err := NewClient(context.Background(), server.URL)
			require.NoError(t, err)
			defer client.Close()

			_, err = client.SignaturesForAddress(context.Background(), solana.SystemProgramID, SignaturesOptions{Limit: 1})
			require.Error(t, err)
			assert.Equal(t, tt.permanent, IsPermanent(err))
		})
	}

	assert.False(t, IsPermanent(errors.New("connection reset")))
	assert.True(t, IsPermanent(fmt.Errorf("get signatures: %w", ErrMalformedTransaction)))
}

func TestTransaction(t *testing.T) {
	signature := testSignature(9)
	ixData := []byte{130, 131, 98, 190, 40, 206, 68, 50, 1, 2, 3}

	server := newRPCServer(t, func(req rpcRequest) interface{} {
		assert.Equal(t, "getTransaction", req.Method)
		var params map[string]interface{}
		require.NoError(t, json.Unmarshal(req.Params[1], &params))
		assert.Equal(t, float64(0), params["maxSupportedTransactionVersion"])
		assert.Equal(t, "json", params["encoding"])

		return map[string]interface{}{
			"slot":      321,
			"blockTime": 1700000000,
			"version":   0,
			"transaction": map[string]interface{}{
				"signatures": []string{signature},
				"message": map[string]interface{}{
					"accountKeys": []string{"payer", "program"},
					"instructions": []map[string]interface{}{
						{"programIdIndex": 1, "accounts": []int{0}, "data": base58.Encode(ixData)},
					},
				},
			},
			"meta": map[string]interface{}{
				"err":          nil,
				"fee":          5000,
				"preBalances":  []uint64{2000000000, 1},
				"postBalances": []uint64{1000000000, 1},
				"logMessages":  []string{"Program log: Instruction: CreateOrderWithNonce"},
				"preTokenBalances": []map[string]interface{}{
					{"accountIndex": 2, "mint": "mintA", "uiTokenAmount": map[string]interface{}{"amount": "10", "decimals": 6}},
				},
				"postTokenBalances": []map[string]interface{}{
					{"accountIndex": 2, "mint": "mintA", "uiTokenAmount": map[string]interface{}{"amount": "25", "decimals": 6}},
				},
			},
		}
	})
	defer server.Close()

	client, err := NewClient(context.Background(), server.URL)
	require.NoError(t, err)
	defer client.Close()

	tx, err := client.Transaction(context.Background(), signature)
	require.NoError(t, err)
	require.NotNil(t, tx)

	assert.Equal(t, signature, tx.Signature)
	assert.Equal(t, uint64(321), tx.Slot)
	assert.Equal(t, uint64(5000), tx.Fee)
	assert.False(t, tx.Failed)
	require.Len(t, tx.Instructions, 1)
	assert.Equal(t, ixData, tx.Instructions[0].Data)
	require.Len(t, tx.PostTokenBalances, 1)
	assert.Equal(t, "25", tx.PostTokenBalances[0].Amount)
	assert.Equal(t, uint8(6), tx.PostTokenBalances[0].Decimals)
}

func TestTransactionNotFound(t *testing.T) {
	server := newRPCServer(t, func(req rpcRequest) interface{} {
		return nil
	})
	defer server.Close()

	client, err := NewClient(context.Background(), server.URL)
	require.NoError(t, err)
	defer client.Close()

	tx, err := client.Transaction(context.Background(), testSignature(4))
	require.NoError(t, err)
	assert.Nil(t, tx)
}

package network

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcServer replies to every request with handler's result or error object.
func rpcServer(t *testing.T, handler func(method string, params json.RawMessage) (any, *RPCError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req struct {
			JSONRPC string          `json:"jsonrpc"`
			ID      string          `json:"id"`
			Method  string          `json:"method"`
			Params  json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.NotEmpty(t, req.ID)

		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(url string) *RPCClient {
	return NewRPCClient(Network{Name: "test", RPCURL: url})
}

func rpcError(name, cause, data string) *RPCError {
	e := &RPCError{Name: name, Code: -32000, Message: "Server error", Data: json.RawMessage(`"` + data + `"`)}
	e.Cause.Name = cause
	return e
}

func TestRPCClient_NextNonce(t *testing.T) {
	server := rpcServer(t, func(method string, params json.RawMessage) (any, *RPCError) {
		assert.Equal(t, "query", method)
		var p map[string]string
		require.NoError(t, json.Unmarshal(params, &p))
		assert.Equal(t, "view_access_key", p["request_type"])
		assert.Equal(t, "repo.testnet", p["account_id"])
		assert.Equal(t, "ed25519:abc", p["public_key"])
		return map[string]any{"nonce": 41, "permission": "FullAccess", "block_height": 1}, nil
	})
	defer server.Close()

	nonce, err := newTestClient(server.URL).NextNonce(context.Background(), "repo.testnet", "ed25519:abc")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), nonce)
}

func TestRPCClient_NextNonceMissingKey(t *testing.T) {
	server := rpcServer(t, func(string, json.RawMessage) (any, *RPCError) {
		return map[string]any{"error": "access key ed25519:abc does not exist while viewing"}, nil
	})
	defer server.Close()

	_, err := newTestClient(server.URL).NextNonce(context.Background(), "repo.testnet", "ed25519:abc")
	require.Error(t, err)
	assert.True(t, IsTerminal(err))
}

func TestRPCClient_Broadcast(t *testing.T) {
	tx := SignedTransaction{
		Transaction: Transaction{
			SignerID:    "a.testnet",
			PublicKey:   []byte{7, 7, 7},
			Nonce:       3,
			ReceiverID:  "r.testnet",
			Method:      InsertMethod,
			Args:        []byte{1, 2},
			Gas:         DefaultGas,
			PayloadHash: []byte{0x12, 0x20},
		},
		Signature: []byte{9, 9},
	}

	server := rpcServer(t, func(method string, params json.RawMessage) (any, *RPCError) {
		assert.Equal(t, "broadcast_tx_async", method)
		var p []string
		require.NoError(t, json.Unmarshal(params, &p))
		require.Len(t, p, 1)

		raw, err := base64.StdEncoding.DecodeString(p[0])
		require.NoError(t, err)
		got, err := DecodeSignedTransaction(raw)
		require.NoError(t, err)
		assert.Equal(t, tx, got)
		return "6zgh2u9DqHHiXzdy9ouTP7oGky2T4nugqzqt9wJZwNFm", nil
	})
	defer server.Close()

	hash, err := newTestClient(server.URL).Broadcast(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, "6zgh2u9DqHHiXzdy9ouTP7oGky2T4nugqzqt9wJZwNFm", hash)
}

func TestRPCClient_Status(t *testing.T) {
	tests := []struct {
		name   string
		result any
		rpcErr *RPCError
		want   Status
	}{
		{name: "success value", result: map[string]any{"status": map[string]any{"SuccessValue": ""}}, want: StatusConfirmed},
		{name: "success receipt", result: map[string]any{"status": map[string]any{"SuccessReceiptId": "x"}}, want: StatusConfirmed},
		{name: "failure", result: map[string]any{"status": map[string]any{"Failure": map[string]any{"ActionError": "x"}}}, want: StatusFailed},
		{name: "not started", result: map[string]any{"status": map[string]any{"NotStarted": nil}}, want: StatusPending},
		{name: "unknown transaction", rpcErr: rpcError("HANDLER_ERROR", "UNKNOWN_TRANSACTION", "tx not found"), want: StatusPending},
		{name: "timeout", rpcErr: rpcError("HANDLER_ERROR", "TIMEOUT_ERROR", "timeout"), want: StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := rpcServer(t, func(method string, _ json.RawMessage) (any, *RPCError) {
				assert.Equal(t, "tx", method)
				return tt.result, tt.rpcErr
			})
			defer server.Close()

			st, err := newTestClient(server.URL).Status(context.Background(), "hash", "a.testnet")
			require.NoError(t, err)
			assert.Equal(t, tt.want, st.Status)
			assert.Equal(t, "hash", st.Hash)
			if tt.want == StatusFailed {
				assert.Contains(t, st.Failure, "ActionError")
			}
		})
	}
}

func TestRPCClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		rpcErr        *RPCError
		wantTransient bool
		wantNonce     bool
		wantTerminal  bool
	}{
		{name: "invalid nonce", rpcErr: rpcError("HANDLER_ERROR", "INVALID_TRANSACTION", "{InvalidNonce: {tx_nonce: 1, ak_nonce: 5}}"), wantTransient: true, wantNonce: true},
		{name: "not enough balance", rpcErr: rpcError("HANDLER_ERROR", "INVALID_TRANSACTION", "NotEnoughBalance"), wantTerminal: true},
		{name: "invalid signature", rpcErr: rpcError("HANDLER_ERROR", "INVALID_TRANSACTION", "InvalidSignature"), wantTerminal: true},
		{name: "timeout", rpcErr: rpcError("HANDLER_ERROR", "TIMEOUT_ERROR", ""), wantTransient: true},
		{name: "internal", rpcErr: rpcError("INTERNAL_ERROR", "INTERNAL_ERROR", ""), wantTransient: true},
		{name: "validation", rpcErr: rpcError("REQUEST_VALIDATION_ERROR", "PARSE_ERROR", ""), wantTerminal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := rpcServer(t, func(string, json.RawMessage) (any, *RPCError) {
				return nil, tt.rpcErr
			})
			defer server.Close()

			_, err := newTestClient(server.URL).Broadcast(context.Background(), SignedTransaction{})
			require.Error(t, err)
			assert.Equal(t, tt.wantTransient, IsTransient(err), "transient")
			assert.Equal(t, tt.wantNonce, IsNonceConflict(err), "nonce")
			assert.Equal(t, tt.wantTerminal, IsTerminal(err), "terminal")

			var rpcErr *RPCError
			assert.True(t, errors.As(err, &rpcErr))
		})
	}
}

func TestRPCClient_HTTPErrors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, wantTransient: true},
		{name: "bad gateway", status: http.StatusBadGateway, wantTransient: true},
		{name: "unavailable", status: http.StatusServiceUnavailable, wantTransient: true},
		{name: "request timeout", status: http.StatusRequestTimeout, wantTransient: true},
		{name: "forbidden", status: http.StatusForbidden},
		{name: "not found", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte("upstream says no"))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).NextNonce(context.Background(), "a.testnet", "k")
			require.Error(t, err)
			assert.Equal(t, tt.wantTransient, IsTransient(err))
			assert.Equal(t, !tt.wantTransient, IsTerminal(err))
			assert.Equal(t, int32(1), calls.Load(), "client does not retry on its own")
		})
	}
}

func TestRPCClient_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newTestClient(url).NextNonce(context.Background(), "a.testnet", "k")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestRPCClient_ContextCancelled(t *testing.T) {
	server := rpcServer(t, func(string, json.RawMessage) (any, *RPCError) {
		return map[string]any{"nonce": 1}, nil
	})
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(server.URL).NextNonce(ctx, "a.testnet", "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTransient(err))
}

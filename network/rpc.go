package network

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// maxResponseSize limits the RPC response body to prevent memory exhaustion.
const maxResponseSize = 4 * 1024 * 1024 // 4MB

// RPC error causes with special handling.
const (
	causeUnknownTransaction = "UNKNOWN_TRANSACTION"
	causeTimeout            = "TIMEOUT_ERROR"
	causeInvalidTransaction = "INVALID_TRANSACTION"
	causeUnknownAccessKey   = "UNKNOWN_ACCESS_KEY"
	causeUnknownAccount     = "UNKNOWN_ACCOUNT"
	nameInternalError       = "INTERNAL_ERROR"
)

// RPCClient talks JSON-RPC 2.0 over HTTP to a network endpoint.
type RPCClient struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
	nextID     atomic.Uint64
}

// RPCOption configures an RPCClient.
type RPCOption func(*RPCClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) RPCOption {
	return func(client *RPCClient) {
		client.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RPCOption {
	return func(client *RPCClient) {
		client.logger = logger
	}
}

// NewRPCClient creates a client for the network's RPC endpoint.
func NewRPCClient(n Network, opts ...RPCOption) *RPCClient {
	c := &RPCClient{
		url: n.RPCURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// RPCError is an error object returned by the endpoint.
type RPCError struct {
	Name    string          `json:"name"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Cause   struct {
		Name string          `json:"name"`
		Info json.RawMessage `json:"info,omitempty"`
	} `json:"cause"`
}

func (e *RPCError) Error() string {
	detail := strings.TrimSpace(string(e.Data))
	if len(detail) > 200 {
		detail = detail[:200] + "..."
	}
	return fmt.Sprintf("rpc error %s/%s: %s %s", e.Name, e.Cause.Name, e.Message, detail)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// NextNonce implements Client using a view_access_key query.
func (c *RPCClient) NextNonce(ctx context.Context, account, publicKey string) (uint64, error) {
	var result struct {
		Nonce uint64 `json:"nonce"`
		Error string `json:"error"`
	}
	err := c.call(ctx, "query", map[string]any{
		"request_type": "view_access_key",
		"finality":     "final",
		"account_id":   account,
		"public_key":   publicKey,
	}, &result)
	if err != nil {
		return 0, fmt.Errorf("query access key of %s: %w", account, err)
	}
	if result.Error != "" {
		// Older endpoints report a missing key inside the result.
		return 0, NewTerminalError(fmt.Errorf("query access key of %s: %s", account, result.Error))
	}
	return result.Nonce + 1, nil
}

// Broadcast implements Client using broadcast_tx_async.
func (c *RPCClient) Broadcast(ctx context.Context, tx SignedTransaction) (string, error) {
	data, err := tx.Encode()
	if err != nil {
		return "", NewTerminalError(err)
	}

	var hash string
	if err := c.call(ctx, "broadcast_tx_async", []string{base64.StdEncoding.EncodeToString(data)}, &hash); err != nil {
		return "", fmt.Errorf("broadcast nonce %d: %w", tx.Transaction.Nonce, err)
	}
	return hash, nil
}

// Status implements Client using the tx method.
func (c *RPCClient) Status(ctx context.Context, hash, sender string) (TxStatus, error) {
	var result struct {
		Status map[string]json.RawMessage `json:"status"`
	}
	err := c.call(ctx, "tx", map[string]any{
		"tx_hash":           hash,
		"sender_account_id": sender,
		"wait_until":        "FINAL",
	}, &result)

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Cause.Name {
		case causeUnknownTransaction, causeTimeout:
			return TxStatus{Hash: hash, Status: StatusPending}, nil
		}
	}
	if err != nil {
		return TxStatus{}, fmt.Errorf("query status of %s: %w", hash, err)
	}

	if failure, ok := result.Status["Failure"]; ok {
		return TxStatus{Hash: hash, Status: StatusFailed, Failure: string(failure)}, nil
	}
	if _, ok := result.Status["SuccessValue"]; ok {
		return TxStatus{Hash: hash, Status: StatusConfirmed}, nil
	}
	if _, ok := result.Status["SuccessReceiptId"]; ok {
		return TxStatus{Hash: hash, Status: StatusConfirmed}, nil
	}
	return TxStatus{Hash: hash, Status: StatusPending}, nil
}

// call executes one JSON-RPC request and decodes its result into out.
func (c *RPCClient) call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      fmt.Sprintf("rdfpub-%d", c.nextID.Add(1)),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return NewTerminalError(fmt.Errorf("marshal request: %w", err))
	}

	c.logger.Debug("Sending RPC request", "method", method, "url", c.url, "bytes", len(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return NewTerminalError(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Network errors are transient
		return NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	// Read response body with size limit to prevent memory exhaustion
	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		// Endpoints also describe failures in the body of non-200 replies.
		var resp rpcResponse
		if json.Unmarshal(respBody, &resp) == nil && resp.Error != nil {
			return classifyRPCError(resp.Error)
		}
		return classifyHTTPError(httpResp.StatusCode, respBody)
	}

	var resp rpcResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return NewTransientError(fmt.Errorf("decode response: %w", err))
	}
	if resp.Error != nil {
		return classifyRPCError(resp.Error)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return NewTerminalError(fmt.Errorf("decode %s result: %w", method, err))
	}
	return nil
}

// classifyHTTPError determines if an HTTP error is transient or terminal.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("RPC endpoint error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		// Rate limiting is transient
		return NewTransientError(err)
	case statusCode == http.StatusRequestTimeout:
		return NewTransientError(err)
	case statusCode >= 500:
		// Server errors are transient
		return NewTransientError(err)
	default:
		// Unknown errors default to terminal
		return NewTerminalError(err)
	}
}

// classifyRPCError maps an RPC error object to an error class.
func classifyRPCError(e *RPCError) error {
	detail := string(e.Data) + string(e.Cause.Info)

	switch {
	case strings.Contains(detail, "InvalidNonce"):
		return NewNonceError(e)
	case e.Cause.Name == causeTimeout:
		return NewTransientError(e)
	case e.Name == nameInternalError:
		return NewTransientError(e)
	case e.Cause.Name == causeInvalidTransaction,
		e.Cause.Name == causeUnknownAccessKey,
		e.Cause.Name == causeUnknownAccount:
		// Bad signatures, insufficient balance and missing keys are final
		return NewTerminalError(e)
	default:
		return NewTerminalError(e)
	}
}

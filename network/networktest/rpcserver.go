package networktest

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/c360studio/rdfpub/network"
)

// RPCServer serves the JSON-RPC methods used by network.RPCClient on top of
// a Network, so the full client stack can run against it over HTTP. The
// Network's StartNonce must be at least 1.
//
// Routes:
//
//	POST /        JSON-RPC 2.0 (query, broadcast_tx_async, tx)
//	GET  /health  liveness
//	GET  /stats   call counters and accepted transactions
type RPCServer struct {
	net    *Network
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewRPCServer wraps n in an HTTP handler.
func NewRPCServer(n *Network, logger *slog.Logger) *RPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &RPCServer{net: n, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/stats", s.handleStats)
	s.mux.HandleFunc("/", s.handleRPC)
	return s
}

// ServeHTTP implements http.Handler.
func (s *RPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type serverRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type serverResponse struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      string            `json:"id"`
	Result  any               `json:"result,omitempty"`
	Error   *network.RPCError `json:"error,omitempty"`
}

// Stats is the body of GET /stats.
type Stats struct {
	NonceCalls     int         `json:"nonce_calls"`
	BroadcastCalls int         `json:"broadcast_calls"`
	StatusCalls    int         `json:"status_calls"`
	Accepted       []TxSummary `json:"accepted"`
}

// TxSummary describes one accepted transaction.
type TxSummary struct {
	Hash     string `json:"hash"`
	Signer   string `json:"signer"`
	Receiver string `json:"receiver"`
	Nonce    uint64 `json:"nonce"`
	ArgsLen  int    `json:"args_len"`
}

func (s *RPCServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *RPCServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := Stats{
		NonceCalls:     s.net.NonceCalls(),
		BroadcastCalls: s.net.BroadcastCalls(),
		StatusCalls:    s.net.StatusCalls(),
		Accepted:       []TxSummary{},
	}
	for _, b := range s.net.Accepted() {
		t := b.Tx.Transaction
		stats.Accepted = append(stats.Accepted, TxSummary{
			Hash:     b.Hash,
			Signer:   t.SignerID,
			Receiver: t.ReceiverID,
			Nonce:    t.Nonce,
			ArgsLen:  len(t.Args),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

func (s *RPCServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req serverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	resp := serverResponse{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case "query":
		resp.Result, resp.Error = s.query(r, req.Params)
	case "broadcast_tx_async":
		resp.Result, resp.Error = s.broadcast(r, req.Params)
	case "tx":
		resp.Result, resp.Error = s.status(r, req.Params)
	default:
		resp.Error = rpcError("REQUEST_VALIDATION_ERROR", "METHOD_NOT_FOUND", "unknown method "+req.Method)
	}

	if resp.Error != nil {
		s.logger.Debug("RPC request failed", "method", req.Method, "error", resp.Error.Cause.Name)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *RPCServer) query(r *http.Request, raw json.RawMessage) (any, *network.RPCError) {
	var p struct {
		RequestType string `json:"request_type"`
		AccountID   string `json:"account_id"`
		PublicKey   string `json:"public_key"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.RequestType != "view_access_key" {
		return nil, rpcError("REQUEST_VALIDATION_ERROR", "PARSE_ERROR", "expected a view_access_key query")
	}

	next, err := s.net.NextNonce(r.Context(), p.AccountID, p.PublicKey)
	if err != nil {
		return nil, errorObject(err)
	}
	// The access key reports the last used nonce, so a next nonce of 0 has
	// no representation.
	if next == 0 {
		return nil, rpcError("HANDLER_ERROR", "UNKNOWN_ACCESS_KEY", "access key has no used nonce; start nonces at 1 or above")
	}
	return map[string]any{"nonce": next - 1, "permission": "FullAccess"}, nil
}

func (s *RPCServer) broadcast(r *http.Request, raw json.RawMessage) (any, *network.RPCError) {
	var params []string
	if err := json.Unmarshal(raw, &params); err != nil || len(params) != 1 {
		return nil, rpcError("REQUEST_VALIDATION_ERROR", "PARSE_ERROR", "expected one base64 transaction")
	}
	data, err := base64.StdEncoding.DecodeString(params[0])
	if err != nil {
		return nil, rpcError("REQUEST_VALIDATION_ERROR", "PARSE_ERROR", err.Error())
	}
	tx, err := network.DecodeSignedTransaction(data)
	if err != nil {
		return nil, rpcError("HANDLER_ERROR", "INVALID_TRANSACTION", err.Error())
	}

	hash, err := s.net.Broadcast(r.Context(), tx)
	if err != nil {
		return nil, errorObject(err)
	}
	s.logger.Info("Accepted transaction", "hash", hash, "signer", tx.Transaction.SignerID, "nonce", tx.Transaction.Nonce)
	return hash, nil
}

func (s *RPCServer) status(r *http.Request, raw json.RawMessage) (any, *network.RPCError) {
	var p struct {
		TxHash string `json:"tx_hash"`
		Sender string `json:"sender_account_id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, rpcError("REQUEST_VALIDATION_ERROR", "PARSE_ERROR", err.Error())
	}

	st, err := s.net.Status(r.Context(), p.TxHash, p.Sender)
	if err != nil {
		return nil, errorObject(err)
	}

	switch st.Status {
	case network.StatusConfirmed:
		return map[string]any{"status": map[string]string{"SuccessValue": ""}}, nil
	case network.StatusFailed:
		return map[string]any{"status": map[string]any{"Failure": map[string]string{"ActionError": st.Failure}}}, nil
	default:
		return nil, rpcError("HANDLER_ERROR", "UNKNOWN_TRANSACTION", "transaction "+p.TxHash+" is not final")
	}
}

// errorObject maps an error class to the error object that RPCClient
// classifies back into the same class.
func errorObject(err error) *network.RPCError {
	switch {
	case network.IsNonceConflict(err):
		return rpcError("HANDLER_ERROR", "INVALID_TRANSACTION", err.Error())
	case network.IsTransient(err):
		return rpcError("INTERNAL_ERROR", "INTERNAL_ERROR", err.Error())
	default:
		var rpcErr *network.RPCError
		if errors.As(err, &rpcErr) {
			return rpcErr
		}
		return rpcError("HANDLER_ERROR", "INVALID_TRANSACTION", err.Error())
	}
}

func rpcError(name, cause, detail string) *network.RPCError {
	data, _ := json.Marshal(detail)
	e := &network.RPCError{Name: name, Code: -32000, Message: "Server error", Data: data}
	e.Cause.Name = cause
	return e
}

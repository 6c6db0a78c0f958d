// Package networktest provides an in-memory network for testing the
// submitter and pipeline without an RPC endpoint.
package networktest

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"

	"github.com/c360studio/rdfpub/network"
	"github.com/c360studio/rdfpub/signer"
)

// Broadcast records one accepted transaction.
type Broadcast struct {
	Hash string
	Tx   network.SignedTransaction
}

// Network is a thread-safe scripted network. It enforces per-account nonce
// order the way a real network does: a broadcast whose nonce is not the next
// expected one fails with a nonce conflict.
//
// Usage:
//
//	// Every transaction confirms on the first status query
//	net := networktest.New()
//
//	// First two broadcasts hit rate limiting, then succeed
//	net := networktest.New()
//	net.BroadcastErrors = []error{
//	    network.NewTransientError(errors.New("429")),
//	    network.NewTransientError(errors.New("429")),
//	}
//
//	// Execution of the third accepted transaction fails on chain
//	net.FailExecution = func(n int, _ network.SignedTransaction) string {
//	    if n == 2 { return "NotEnoughBalance" }
//	    return ""
//	}
type Network struct {
	mu sync.Mutex

	// StartNonce is the first nonce of every account.
	StartNonce uint64

	// BroadcastErrors are returned by successive Broadcast calls before the
	// nonce check. A nil entry lets that call through.
	BroadcastErrors []error

	// Reject, if set, is consulted for every broadcast that passed the nonce
	// check. A non-nil error rejects the broadcast without consuming the nonce.
	Reject func(tx network.SignedTransaction) error

	// FailExecution, if set, returns a failure reason for the n-th accepted
	// transaction (0-based). The nonce is consumed and the status is failed.
	FailExecution func(n int, tx network.SignedTransaction) string

	// PendingPolls is the number of status queries that report pending
	// before a transaction becomes final. Negative values never finalize.
	PendingPolls int

	// VerifySignatures checks every broadcast signature.
	VerifySignatures bool

	// NonceErr, if set, is returned by NextNonce.
	NonceErr error

	nonces         map[string]uint64
	accepted       []Broadcast
	status         map[string]network.TxStatus
	polls          map[string]int
	broadcastCalls int
	nonceCalls     int
	statusCalls    int
}

// New creates an empty network.
func New() *Network {
	return &Network{
		nonces: make(map[string]uint64),
		status: make(map[string]network.TxStatus),
		polls:  make(map[string]int),
	}
}

var _ network.Client = (*Network)(nil)

// NextNonce implements network.Client.
func (n *Network) NextNonce(_ context.Context, account, _ string) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nonceCalls++
	if n.NonceErr != nil {
		return 0, n.NonceErr
	}
	return n.nextLocked(account), nil
}

// Broadcast implements network.Client.
func (n *Network) Broadcast(ctx context.Context, tx network.SignedTransaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	call := n.broadcastCalls
	n.broadcastCalls++
	if call < len(n.BroadcastErrors) && n.BroadcastErrors[call] != nil {
		return "", n.BroadcastErrors[call]
	}

	t := tx.Transaction
	if n.VerifySignatures {
		payload := signer.SigningPayload{
			SignerID:    t.SignerID,
			ReceiverID:  t.ReceiverID,
			Nonce:       t.Nonce,
			PayloadHash: t.PayloadHash,
		}
		if !signer.Verify(ed25519.PublicKey(t.PublicKey), payload, tx.Signature) {
			return "", network.NewTerminalError(errors.New("InvalidSignature"))
		}
	}

	if want := n.nextLocked(t.SignerID); t.Nonce != want {
		return "", network.NewNonceError(fmt.Errorf("InvalidNonce: tx nonce %d, expected %d", t.Nonce, want))
	}

	if n.Reject != nil {
		if err := n.Reject(tx); err != nil {
			return "", err
		}
	}

	hash, err := tx.Hash()
	if err != nil {
		return "", network.NewTerminalError(err)
	}

	index := len(n.accepted)
	n.nonces[t.SignerID] = t.Nonce + 1
	n.accepted = append(n.accepted, Broadcast{Hash: hash, Tx: tx})

	st := network.TxStatus{Hash: hash, Status: network.StatusConfirmed}
	if n.FailExecution != nil {
		if reason := n.FailExecution(index, tx); reason != "" {
			st = network.TxStatus{Hash: hash, Status: network.StatusFailed, Failure: reason}
		}
	}
	n.status[hash] = st
	return hash, nil
}

// Status implements network.Client.
func (n *Network) Status(_ context.Context, hash, _ string) (network.TxStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.statusCalls++
	st, ok := n.status[hash]
	if !ok {
		return network.TxStatus{Hash: hash, Status: network.StatusPending}, nil
	}

	n.polls[hash]++
	if n.PendingPolls < 0 || n.polls[hash] <= n.PendingPolls {
		return network.TxStatus{Hash: hash, Status: network.StatusPending}, nil
	}
	return st, nil
}

func (n *Network) nextLocked(account string) uint64 {
	next, ok := n.nonces[account]
	if !ok {
		return n.StartNonce
	}
	return next
}

// Advance consumes n nonces of account outside the pipeline, as another
// client signing with the same key would.
func (n *Network) Advance(account string, count uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nonces[account] = n.nextLocked(account) + count
}

// Accepted returns the accepted transactions in broadcast order.
func (n *Network) Accepted() []Broadcast {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Broadcast(nil), n.accepted...)
}

// Nonces returns the nonces of accepted transactions for account, in order.
func (n *Network) Nonces(account string) []uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []uint64
	for _, b := range n.accepted {
		if b.Tx.Transaction.SignerID == account {
			out = append(out, b.Tx.Transaction.Nonce)
		}
	}
	return out
}

// BroadcastCalls returns the number of Broadcast calls.
func (n *Network) BroadcastCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.broadcastCalls
}

// NonceCalls returns the number of NextNonce calls.
func (n *Network) NonceCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nonceCalls
}

// StatusCalls returns the number of Status calls.
func (n *Network) StatusCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.statusCalls
}

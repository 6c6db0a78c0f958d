package submit

import (
	"fmt"
	"time"

	"github.com/c360studio/rdfpub/batch"
	"github.com/c360studio/rdfpub/signer"
)

// State is the lifecycle state of a PendingTransaction.
type State int

const (
	StateCreated State = iota
	StateNonceAssigned
	StateSigned
	StateSubmitted
	StateConfirmed
	StateRejected
	StateTimedOut
	// StateSkipped marks a batch never broadcast because the run was cancelled.
	StateSkipped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateNonceAssigned:
		return "nonce_assigned"
	case StateSigned:
		return "signed"
	case StateSubmitted:
		return "submitted"
	case StateConfirmed:
		return "confirmed"
	case StateRejected:
		return "rejected"
	case StateTimedOut:
		return "timed_out"
	case StateSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StateRejected, StateTimedOut, StateSkipped:
		return true
	default:
		return false
	}
}

// transitions lists the allowed moves. NonceAssigned and Signed may loop back
// to NonceAssigned when a retry picks a fresh nonce.
var transitions = map[State][]State{
	StateCreated:       {StateNonceAssigned, StateRejected, StateTimedOut, StateSkipped},
	StateNonceAssigned: {StateSigned, StateNonceAssigned, StateRejected, StateTimedOut, StateSkipped},
	StateSigned:        {StateSubmitted, StateNonceAssigned, StateRejected, StateTimedOut, StateSkipped},
	StateSubmitted:     {StateConfirmed, StateRejected, StateTimedOut},
}

// PendingTransaction is one batch on its way to the network. It is owned by a
// single submitter worker until it reaches a terminal state.
type PendingTransaction struct {
	Batch     *batch.Batch
	Receiver  string
	Nonce     uint64
	Signature signer.Signature
	Hash      string
	State     State
	Attempts  int
	Err       error

	submitted time.Time
}

func newPending(b *batch.Batch, receiver string) *PendingTransaction {
	return &PendingTransaction{Batch: b, Receiver: receiver, State: StateCreated}
}

// transition moves to state to, failing on a move the lifecycle does not allow.
func (p *PendingTransaction) transition(to State) error {
	for _, allowed := range transitions[p.State] {
		if allowed == to {
			p.State = to
			if to == StateSubmitted {
				p.submitted = time.Now()
			}
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", p.State, to)
}

// Outcome is the terminal report of one batch. Nonce is set only when
// NonceConsumed: a transaction rejected before acceptance hands its nonce on
// to the next batch.
type Outcome struct {
	File          string
	Seq           int
	Prepared      string
	Statements    int
	Bytes         int
	CID           string
	State         State
	Nonce         uint64
	NonceConsumed bool
	Hash          string
	Attempts      int
	Err           error
	// Latency is the time from broadcast to finality, zero when never submitted.
	Latency time.Duration
}

func (p *PendingTransaction) outcome() Outcome {
	o := Outcome{
		File:       p.Batch.File,
		Seq:        p.Batch.Seq,
		Prepared:   p.Batch.Prepared,
		Statements: p.Batch.Count,
		Bytes:      p.Batch.Size(),
		State:      p.State,
		Hash:       p.Hash,
		Attempts:   p.Attempts,
		Err:        p.Err,
	}
	if c, err := p.Batch.CID(); err == nil {
		o.CID = c.String()
	}
	if !p.submitted.IsZero() {
		o.Nonce = p.Nonce
		o.NonceConsumed = true
		o.Latency = time.Since(p.submitted)
	}
	return o
}

package submit

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/c360studio/rdfpub/network"
)

// ErrSequencerClosed is returned by operations on a closed Sequencer.
var ErrSequencerClosed = errors.New("sequencer closed")

// Sequencer owns the nonce counter of every signing account. A single owner
// goroutine serializes all access; workers talk to it through messages.
//
// Nonces are handed out as leases in ticket order: Reserve fixes a
// transaction's position in its account's sequence, and Acquire blocks until
// every earlier ticket has finished its lease. The lease holder broadcasts
// with the leased nonce and then reports whether the nonce was consumed.
type Sequencer struct {
	client   network.Client
	logger   *slog.Logger
	requests chan any
	quit     chan struct{}
	stopped  chan struct{}
	once     sync.Once
}

// SequencerOption configures a Sequencer.
type SequencerOption func(*Sequencer)

// WithSequencerLogger sets the logger.
func WithSequencerLogger(logger *slog.Logger) SequencerOption {
	return func(s *Sequencer) {
		s.logger = logger
	}
}

// NewSequencer starts a sequencer that initializes unknown accounts from
// client on first use.
func NewSequencer(client network.Client, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{
		client:   client,
		logger:   slog.Default(),
		requests: make(chan any),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.loop()
	return s
}

// Close stops the owner goroutine. Outstanding waiters fail with
// ErrSequencerClosed.
func (s *Sequencer) Close() {
	s.once.Do(func() { close(s.quit) })
	<-s.stopped
}

// Ticket is a reserved position in an account's nonce sequence.
type Ticket struct {
	seq       *Sequencer
	account   string
	publicKey string
	n         uint64
}

// Account returns the signing account of the ticket.
func (t *Ticket) Account() string { return t.account }

// Reserve takes the next position in account's sequence. Callers must reserve
// in the order transactions have to reach the network.
func (s *Sequencer) Reserve(account, publicKey string) (*Ticket, error) {
	reply := make(chan uint64, 1)
	if !s.send(reserveMsg{account: account, reply: reply}) {
		return nil, ErrSequencerClosed
	}
	select {
	case n := <-reply:
		return &Ticket{seq: s, account: account, publicKey: publicKey, n: n}, nil
	case <-s.quit:
		return nil, ErrSequencerClosed
	}
}

// Acquire waits for the ticket's turn. If ctx ends first the ticket is
// abandoned and later tickets move up.
func (t *Ticket) Acquire(ctx context.Context) (*Lease, error) {
	reply := make(chan grant, 1)
	if !t.seq.send(acquireMsg{account: t.account, ticket: t.n, reply: reply}) {
		return nil, ErrSequencerClosed
	}

	select {
	case g := <-reply:
		return &Lease{ticket: t, nonce: g.next, known: g.known}, nil
	case <-ctx.Done():
		t.seq.send(abandonMsg{account: t.account, ticket: t.n})
		return nil, ctx.Err()
	case <-t.seq.quit:
		return nil, ErrSequencerClosed
	}
}

// Lease is exclusive use of an account's next nonce. Exactly one of Commit,
// Release or Invalidate must be called.
type Lease struct {
	ticket *Ticket
	nonce  uint64
	known  bool
	once   sync.Once
}

// Nonce returns the leased nonce, querying the network when the account has
// not been initialized or was invalidated.
func (l *Lease) Nonce(ctx context.Context) (uint64, error) {
	if l.known {
		return l.nonce, nil
	}
	return l.Refresh(ctx)
}

// Refresh re-reads the next nonce from the network, after a nonce conflict.
func (l *Lease) Refresh(ctx context.Context) (uint64, error) {
	next, err := l.ticket.seq.client.NextNonce(ctx, l.ticket.account, l.ticket.publicKey)
	if err != nil {
		l.known = false
		return 0, err
	}
	if l.known && next != l.nonce {
		l.ticket.seq.logger.Debug("Nonce resynced from network",
			"account", l.ticket.account,
			"local", l.nonce,
			"network", next)
	}
	l.nonce = next
	l.known = true
	return next, nil
}

// Commit records that the leased nonce was consumed by an accepted
// transaction. The next ticket receives nonce+1.
func (l *Lease) Commit() {
	l.finish(l.nonce+1, true)
}

// Release returns the nonce unused; the next ticket receives the same nonce.
func (l *Lease) Release() {
	l.finish(l.nonce, l.known)
}

// Invalidate marks the counter unknown, for outcomes where the transaction may
// or may not have landed. The next ticket re-reads the nonce from the network.
func (l *Lease) Invalidate() {
	l.finish(0, false)
}

func (l *Lease) finish(next uint64, known bool) {
	l.once.Do(func() {
		l.ticket.seq.send(finishMsg{account: l.ticket.account, ticket: l.ticket.n, next: next, known: known})
	})
}

// Messages handled by the owner goroutine.
type (
	reserveMsg struct {
		account string
		reply   chan uint64
	}
	acquireMsg struct {
		account string
		ticket  uint64
		reply   chan grant
	}
	finishMsg struct {
		account string
		ticket  uint64
		next    uint64
		known   bool
	}
	abandonMsg struct {
		account string
		ticket  uint64
	}
)

type grant struct {
	next  uint64
	known bool
}

// accountState is the per-account sequence, touched only by the owner.
type accountState struct {
	next      uint64
	known     bool
	issued    uint64
	serving   uint64
	leased    bool
	waiters   map[uint64]chan grant
	abandoned map[uint64]bool
}

func (s *Sequencer) send(msg any) bool {
	select {
	case s.requests <- msg:
		return true
	case <-s.quit:
		return false
	}
}

func (s *Sequencer) loop() {
	defer close(s.stopped)

	accounts := make(map[string]*accountState)
	state := func(account string) *accountState {
		st, ok := accounts[account]
		if !ok {
			st = &accountState{waiters: make(map[uint64]chan grant), abandoned: make(map[uint64]bool)}
			accounts[account] = st
		}
		return st
	}

	for {
		select {
		case <-s.quit:
			return
		case msg := <-s.requests:
			switch m := msg.(type) {
			case reserveMsg:
				st := state(m.account)
				m.reply <- st.issued
				st.issued++
			case acquireMsg:
				st := state(m.account)
				st.waiters[m.ticket] = m.reply
				st.dispatch()
			case finishMsg:
				st := state(m.account)
				if st.leased && st.serving == m.ticket {
					st.next, st.known = m.next, m.known
					st.advance()
				}
			case abandonMsg:
				st := state(m.account)
				switch {
				case st.leased && st.serving == m.ticket:
					// Granted but never used: the nonce stays as it was.
					st.advance()
				case m.ticket >= st.serving:
					delete(st.waiters, m.ticket)
					st.abandoned[m.ticket] = true
					st.dispatch()
				}
			}
		}
	}
}

func (st *accountState) advance() {
	st.leased = false
	st.serving++
	st.dispatch()
}

// dispatch grants the lease to the serving ticket if it is waiting, skipping
// abandoned tickets.
func (st *accountState) dispatch() {
	for !st.leased {
		if st.abandoned[st.serving] {
			delete(st.abandoned, st.serving)
			st.serving++
			continue
		}
		reply, ok := st.waiters[st.serving]
		if !ok {
			return
		}
		delete(st.waiters, st.serving)
		st.leased = true
		reply <- grant{next: st.next, known: st.known}
	}
}

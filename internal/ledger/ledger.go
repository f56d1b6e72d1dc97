// Package ledger keeps the spendable credit balance of one account.
//
// The in-process balance is authoritative for the lifetime of a session.
// Every mutation enqueues an absolute snapshot that a single writer goroutine
// persists to the account store in mutation order. Those writes are best
// effort: a failure is logged and counted, never returned to the caller and
// never retried.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/LincolnGameplays/emprataai/internal/metrics"
	"github.com/LincolnGameplays/emprataai/internal/models"
)

var ErrInsufficientCredits = errors.New("ledger: insufficient credits")

const mirrorWriteTimeout = 5 * time.Second

// Mirror persists balance snapshots to the remote account store.
type Mirror interface {
	SaveBalance(ctx context.Context, accountID int64, plan models.Plan, credits int) error
}

// Receipt is proof of one Charge. Refund honours it at most once.
type Receipt struct {
	debited  bool
	refunded bool
}

// Debited reports whether the charge actually moved the balance (false for PRO).
func (r *Receipt) Debited() bool {
	return r != nil && r.debited
}

type snapshot struct {
	plan    models.Plan
	credits int
}

type Ledger struct {
	mu        sync.Mutex
	accountID int64
	plan      models.Plan
	credits   int
	closed    bool

	mirror  Mirror
	queue   chan snapshot
	done    chan struct{}
	once    sync.Once
	log     *slog.Logger
	metrics *metrics.Collectors
}

type Option func(*Ledger)

// WithMirror attaches the remote store and sizes the snapshot queue.
func WithMirror(m Mirror, queueSize int) Option {
	return func(l *Ledger) {
		if queueSize <= 0 {
			queueSize = 64
		}
		l.mirror = m
		l.queue = make(chan snapshot, queueSize)
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(l *Ledger) { l.metrics = m }
}

// New builds a ledger seeded from the stored account. Negative stored
// balances are clamped to zero.
func New(account models.Account, opts ...Option) *Ledger {
	l := &Ledger{
		accountID: account.ID,
		plan:      account.Plan,
		credits:   max(account.Credits, 0),
		log:       slog.New(slog.DiscardHandler),
	}
	if l.plan == "" {
		l.plan = models.PlanFree
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With("account_id", l.accountID)
	if l.mirror != nil {
		l.done = make(chan struct{})
		go l.runMirror()
	}
	return l
}

func (l *Ledger) AccountID() int64 {
	return l.accountID
}

// CanSpend reports whether one credit may be spent. PRO always may.
func (l *Ledger) CanSpend() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canSpendLocked()
}

func (l *Ledger) canSpendLocked() bool {
	return l.plan.Unlimited() || l.credits >= 1
}

// Charge atomically checks the balance and debits one credit. It must run
// before the external call it pays for. PRO accounts are never debited.
func (l *Ledger) Charge() (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.canSpendLocked() {
		l.metrics.Denied()
		return nil, ErrInsufficientCredits
	}
	if l.plan.Unlimited() {
		return &Receipt{}, nil
	}
	l.credits--
	l.metrics.Charge(string(l.plan))
	l.enqueueLocked()
	return &Receipt{debited: true}, nil
}

// Refund returns the credit taken by r. Calling it twice with the same
// receipt, or with a receipt that never debited, does nothing.
func (l *Ledger) Refund(r *Receipt) {
	if r == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if !r.debited || r.refunded {
		return
	}
	r.refunded = true
	l.credits++
	l.metrics.Refund(string(l.plan))
	l.enqueueLocked()
}

// Grant adds purchased or promotional credits.
func (l *Ledger) Grant(n int) error {
	if n <= 0 {
		return fmt.Errorf("grant must be positive, got %d", n)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credits += n
	l.enqueueLocked()
	return nil
}

// SetCredits is the administrative override of the balance.
func (l *Ledger) SetCredits(n int) error {
	if n < 0 {
		return fmt.Errorf("credits must not be negative, got %d", n)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credits = n
	l.enqueueLocked()
	return nil
}

func (l *Ledger) SetPlan(plan models.Plan) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.plan = plan
	l.enqueueLocked()
}

// Reconcile replaces the local state with the stored truth. Nothing is
// mirrored back since the values came from the store.
func (l *Ledger) Reconcile(plan models.Plan, credits int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.plan = plan
	l.credits = max(credits, 0)
}

func (l *Ledger) Snapshot() (models.Plan, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.plan, l.credits
}

func (l *Ledger) Plan() models.Plan {
	plan, _ := l.Snapshot()
	return plan
}

func (l *Ledger) Balance() int {
	_, credits := l.Snapshot()
	return credits
}

// Close flushes pending snapshots and stops the mirror writer. Later
// mutations still reach the mirror, synchronously.
func (l *Ledger) Close() {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		if l.queue != nil {
			close(l.queue)
		}
		l.mu.Unlock()
		if l.done != nil {
			<-l.done
		}
	})
}

// enqueueLocked hands the current balance to the mirror writer. Once the
// ledger is closed the writer is gone, so a late mutation (a refund finishing
// after logout) is written inline instead.
func (l *Ledger) enqueueLocked() {
	if l.mirror == nil {
		return
	}
	snap := snapshot{plan: l.plan, credits: l.credits}
	if l.closed {
		l.write(snap)
		return
	}
	select {
	case l.queue <- snap:
	default:
		l.metrics.MirrorDropped()
		l.log.Warn("ledger mirror queue full, snapshot dropped", "credits", l.credits)
	}
}

func (l *Ledger) runMirror() {
	defer close(l.done)
	for snap := range l.queue {
		l.write(snap)
	}
}

func (l *Ledger) write(snap snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
	defer cancel()
	if err := l.mirror.SaveBalance(ctx, l.accountID, snap.plan, snap.credits); err != nil {
		l.metrics.MirrorFailed()
		l.log.Error("ledger mirror write failed", "plan", snap.plan, "credits", snap.credits, "err", err)
	}
}

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/LincolnGameplays/emprataai/internal/ledger"
	"github.com/LincolnGameplays/emprataai/internal/metrics"
	"github.com/LincolnGameplays/emprataai/internal/models"
)

var ErrAccountNotFound = errors.New("session: account not found")

// AccountStore is the remote copy of accounts; it also receives the ledger
// mirror writes.
type AccountStore interface {
	ledger.Mirror
	FindByID(ctx context.Context, id int64) (*models.Account, error)
}

// Registry tracks the live sessions by account id.
type Registry struct {
	mu        sync.Mutex
	store     AccountStore
	sessions  map[int64]*Session
	queueSize int
	log       *slog.Logger
	metrics   *metrics.Collectors
}

func NewRegistry(store AccountStore, queueSize int, log *slog.Logger, m *metrics.Collectors) *Registry {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		store:     store,
		sessions:  make(map[int64]*Session),
		queueSize: queueSize,
		log:       log,
		metrics:   m,
	}
}

// Login returns the live session of the account, opening one if needed. A new
// session trusts the stored plan and balance; whatever an earlier process had
// not mirrored yet is lost.
func (r *Registry) Login(ctx context.Context, accountID int64) (*Session, error) {
	if sess, ok := r.Get(accountID); ok {
		return sess, nil
	}

	account, err := r.store.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account %d: %w", accountID, err)
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[accountID]; ok {
		return sess, nil
	}
	l := ledger.New(*account,
		ledger.WithMirror(r.store, r.queueSize),
		ledger.WithLogger(r.log),
		ledger.WithMetrics(r.metrics),
	)
	sess := New(*account, l)
	r.sessions[accountID] = sess
	r.log.Info("session opened", "account_id", accountID, "plan", account.Plan, "credits", l.Balance())
	return sess, nil
}

func (r *Registry) Get(accountID int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[accountID]
	return sess, ok
}

// Logout drops the session and flushes its pending mirror writes. It reports
// whether a session existed.
func (r *Registry) Logout(accountID int64) bool {
	r.mu.Lock()
	sess, ok := r.sessions[accountID]
	delete(r.sessions, accountID)
	r.mu.Unlock()
	if !ok {
		return false
	}
	sess.ledger.Close()
	r.log.Info("session closed", "account_id", accountID)
	return true
}

// Close logs every account out.
func (r *Registry) Close() {
	r.mu.Lock()
	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Logout(id)
	}
}

// Package session holds the per-account editing context between login and
// logout: the live ledger, the current source photo, style knobs and the last
// generated image.
package session

import (
	"errors"
	"sync"

	"github.com/LincolnGameplays/emprataai/internal/ledger"
	"github.com/LincolnGameplays/emprataai/internal/models"
)

var ErrGenerationInProgress = errors.New("session: generation already in progress")

type Session struct {
	mu       sync.Mutex
	account  models.Account
	ledger   *ledger.Ledger
	source   []byte
	style    models.StyleParams
	last     *models.Image
	inFlight bool
}

// New wraps an already seeded ledger. The style starts at the defaults.
func New(account models.Account, l *ledger.Ledger) *Session {
	return &Session{
		account: account,
		ledger:  l,
		style:   models.DefaultStyle(),
	}
}

func (s *Session) AccountID() int64 {
	return s.account.ID
}

// Account returns the stored profile with plan and credits taken from the
// live ledger.
func (s *Session) Account() models.Account {
	s.mu.Lock()
	acc := s.account
	s.mu.Unlock()
	acc.Plan, acc.Credits = s.ledger.Snapshot()
	return acc
}

func (s *Session) Ledger() *ledger.Ledger {
	return s.ledger
}

func (s *Session) SetSource(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = data
}

func (s *Session) Source() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

func (s *Session) SetStyle(style models.StyleParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.style = style
}

// UpdateStyle applies fn to a copy of the current style and stores it only
// when the result validates.
func (s *Session) UpdateStyle(fn func(*models.StyleParams)) (models.StyleParams, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.style
	fn(&next)
	if err := next.Validate(); err != nil {
		return s.style, err
	}
	s.style = next
	return next, nil
}

func (s *Session) Style() models.StyleParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.style
}

func (s *Session) SetLastImage(img *models.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = img
}

func (s *Session) LastImage() *models.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Begin marks a generation as running. A second Begin before End fails with
// ErrGenerationInProgress.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrGenerationInProgress
	}
	s.inFlight = true
	return nil
}

func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
}

func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

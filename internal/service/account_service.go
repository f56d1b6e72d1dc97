package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/LincolnGameplays/emprataai/internal/models"
	"github.com/LincolnGameplays/emprataai/internal/repository"
	"github.com/LincolnGameplays/emprataai/internal/session"
)

var ErrAccountNotFound = errors.New("account not found")

// AccountService owns every balance change that does not come from a
// generation attempt. The store is written first; a live session then gets
// the same change so its ledger stays authoritative.
type AccountService struct {
	accounts        *repository.AccountRepository
	sessions        *session.Registry
	startingCredits int
	log             *slog.Logger
}

func NewAccountService(accounts *repository.AccountRepository, sessions *session.Registry, startingCredits int, log *slog.Logger) *AccountService {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &AccountService{
		accounts:        accounts,
		sessions:        sessions,
		startingCredits: startingCredits,
		log:             log,
	}
}

// Ensure returns the Telegram user's account, signing it up with the starting
// grant on first contact.
func (s *AccountService) Ensure(ctx context.Context, telegramID int64, username, firstName, lastName string) (*models.Account, bool, error) {
	account, created, err := s.accounts.Ensure(ctx, telegramID, username, firstName, lastName, s.startingCredits)
	if err != nil {
		return nil, false, fmt.Errorf("ensure account: %w", err)
	}
	if created {
		s.log.Info("account created", "account_id", account.ID, "telegram_id", telegramID, "credits", account.Credits)
	}
	return account, created, nil
}

// Signup creates a FREE account with the starting grant.
func (s *AccountService) Signup(ctx context.Context, username string) (*models.Account, error) {
	account, err := s.accounts.Create(ctx, &models.Account{
		Username: username,
		Plan:     models.PlanFree,
		Credits:  s.startingCredits,
	})
	if err != nil {
		return nil, fmt.Errorf("signup: %w", err)
	}
	s.log.Info("account created", "account_id", account.ID, "credits", account.Credits)
	return account, nil
}

// Get returns the account; plan and credits come from the live ledger when a
// session is open.
func (s *AccountService) Get(ctx context.Context, id int64) (*models.Account, error) {
	if sess, ok := s.sessions.Get(id); ok {
		acc := sess.Account()
		return &acc, nil
	}
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// Grant adds purchased or promotional credits.
func (s *AccountService) Grant(ctx context.Context, id int64, credits int) error {
	if credits <= 0 {
		return fmt.Errorf("grant must be positive, got %d", credits)
	}
	if err := s.accounts.AddCredits(ctx, id, credits); err != nil {
		return err
	}
	s.GrantLive(id, credits)
	return nil
}

// GrantLive mirrors a grant that was already persisted (for instance inside a
// promo transaction) into the open session, if any.
func (s *AccountService) GrantLive(id int64, credits int) {
	if sess, ok := s.sessions.Get(id); ok {
		if err := sess.Ledger().Grant(credits); err != nil {
			s.log.Error("live grant rejected", "account_id", id, "err", err)
		}
	}
}

func (s *AccountService) AdminSetCredits(ctx context.Context, id int64, credits int) error {
	if credits < 0 {
		return fmt.Errorf("credits must not be negative, got %d", credits)
	}
	if err := s.mustExist(ctx, id); err != nil {
		return err
	}
	if err := s.accounts.SetCredits(ctx, id, credits); err != nil {
		return err
	}
	if sess, ok := s.sessions.Get(id); ok {
		_ = sess.Ledger().SetCredits(credits)
	}
	s.log.Info("admin set credits", "account_id", id, "credits", credits)
	return nil
}

func (s *AccountService) AdminSetPlan(ctx context.Context, id int64, plan models.Plan) error {
	if err := s.mustExist(ctx, id); err != nil {
		return err
	}
	if err := s.accounts.SetPlan(ctx, id, plan); err != nil {
		return err
	}
	if sess, ok := s.sessions.Get(id); ok {
		sess.Ledger().SetPlan(plan)
	}
	s.log.Info("admin set plan", "account_id", id, "plan", plan)
	return nil
}

// AdminReset puts the account back to FREE with the starting grant.
func (s *AccountService) AdminReset(ctx context.Context, id int64) error {
	if err := s.mustExist(ctx, id); err != nil {
		return err
	}
	if err := s.accounts.SaveBalance(ctx, id, models.PlanFree, s.startingCredits); err != nil {
		return err
	}
	if sess, ok := s.sessions.Get(id); ok {
		sess.Ledger().SetPlan(models.PlanFree)
		_ = sess.Ledger().SetCredits(s.startingCredits)
	}
	s.log.Info("admin reset account", "account_id", id)
	return nil
}

// Upgrade raises the plan. A downgrade request is ignored.
func (s *AccountService) Upgrade(ctx context.Context, id int64, plan models.Plan) error {
	account, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if planRank(plan) <= planRank(account.Plan) {
		return nil
	}
	return s.AdminSetPlan(ctx, id, plan)
}

func (s *AccountService) mustExist(ctx context.Context, id int64) error {
	if _, ok := s.sessions.Get(id); ok {
		return nil
	}
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if account == nil {
		return ErrAccountNotFound
	}
	return nil
}

func planRank(p models.Plan) int {
	switch p {
	case models.PlanStarter:
		return 1
	case models.PlanPro:
		return 2
	default:
		return 0
	}
}

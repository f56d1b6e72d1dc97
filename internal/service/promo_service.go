package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/LincolnGameplays/emprataai/internal/models"
	"github.com/LincolnGameplays/emprataai/internal/repository"
)

var (
	ErrPromoInvalid         = errors.New("promo code invalid")
	ErrPromoExhausted       = errors.New("promo code exhausted")
	ErrPromoAlreadyRedeemed = errors.New("promo code already redeemed")
)

type PromoService struct {
	promos   *repository.PromoRepository
	accounts *AccountService
}

func NewPromoService(promos *repository.PromoRepository, accounts *AccountService) *PromoService {
	return &PromoService{promos: promos, accounts: accounts}
}

// Apply redeems code for the account once and returns the credits granted.
func (s *PromoService) Apply(ctx context.Context, accountID int64, code string) (int, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, ErrPromoInvalid
	}
	promo, err := s.promos.GetByCode(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("get promo: %w", err)
	}
	if promo == nil {
		return 0, ErrPromoInvalid
	}

	tx, err := s.promos.DB().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var uses, maxUses, credits int
	row := tx.QueryRowContext(ctx, `SELECT uses, max_uses, credits FROM promo_codes WHERE id = ? FOR UPDATE`, promo.ID)
	if err := row.Scan(&uses, &maxUses, &credits); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrPromoInvalid
		}
		return 0, fmt.Errorf("lock promo: %w", err)
	}
	if uses >= maxUses {
		return 0, ErrPromoExhausted
	}
	if credits <= 0 {
		return 0, ErrPromoInvalid
	}

	row = tx.QueryRowContext(ctx, `SELECT 1 FROM promo_redemptions WHERE account_id = ? AND promo_code_id = ?`, accountID, promo.ID)
	var dummy int
	if err := row.Scan(&dummy); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("check redemption: %w", err)
		}
	} else {
		return 0, ErrPromoAlreadyRedeemed
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO promo_redemptions (account_id, promo_code_id) VALUES (?, ?)`, accountID, promo.ID); err != nil {
		return 0, fmt.Errorf("insert redemption: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE promo_codes SET uses = uses + 1 WHERE id = ?`, promo.ID); err != nil {
		return 0, fmt.Errorf("increment promo uses: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET credits = credits + ?, updated_at = NOW() WHERE id = ?`, credits, accountID); err != nil {
		return 0, fmt.Errorf("add promo credits: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit promo tx: %w", err)
	}

	s.accounts.GrantLive(accountID, credits)
	return credits, nil
}

func (s *PromoService) List(ctx context.Context) ([]models.PromoCode, error) {
	return s.promos.List(ctx)
}

func (s *PromoService) GetByID(ctx context.Context, id int64) (*models.PromoCode, error) {
	return s.promos.GetByID(ctx, id)
}

func (s *PromoService) Create(ctx context.Context, code string, maxUses, credits int) (*models.PromoCode, error) {
	code = strings.TrimSpace(code)
	if code == "" || maxUses <= 0 || credits <= 0 {
		return nil, fmt.Errorf("code, max_uses and credits are required")
	}
	return s.promos.Create(ctx, &models.PromoCode{Code: code, MaxUses: maxUses, Credits: credits})
}

func (s *PromoService) Update(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	if promo.Uses > promo.MaxUses {
		return nil, fmt.Errorf("uses cannot exceed max_uses")
	}
	return s.promos.Update(ctx, promo)
}

func (s *PromoService) Delete(ctx context.Context, id int64) error {
	return s.promos.Delete(ctx, id)
}

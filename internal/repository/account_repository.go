package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/LincolnGameplays/emprataai/internal/models"
)

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, COALESCE(telegram_id, 0), COALESCE(username, ''), COALESCE(first_name, ''), COALESCE(last_name, ''), plan, credits, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.Account, error) {
	var a models.Account
	var plan string
	if err := row.Scan(&a.ID, &a.TelegramID, &a.Username, &a.FirstName, &a.LastName, &plan, &a.Credits, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := models.ParsePlan(plan)
	if err != nil {
		return nil, fmt.Errorf("account %d: %w", a.ID, err)
	}
	a.Plan = parsed
	return &a, nil
}

func (r *AccountRepository) FindByID(ctx context.Context, id int64) (*models.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return account, nil
}

func (r *AccountRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*models.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE telegram_id = ?`, telegramID)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return account, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	const query = `
INSERT INTO accounts (telegram_id, username, first_name, last_name, plan, credits)
VALUES (NULLIF(?, 0), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?)`
	if account.Plan == "" {
		account.Plan = models.PlanFree
	}
	res, err := r.db.ExecContext(ctx, query, account.TelegramID, account.Username, account.FirstName, account.LastName, account.Plan, account.Credits)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	account.ID = id
	return account, nil
}

func (r *AccountRepository) UpdateProfile(ctx context.Context, accountID int64, username, firstName, lastName string) error {
	const query = `
UPDATE accounts SET username = NULLIF(?, ''), first_name = NULLIF(?, ''), last_name = NULLIF(?, ''), updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, username, firstName, lastName, accountID); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// Ensure returns the account bound to telegramID, creating it with the
// starting grant when missing. The bool reports whether it was created.
func (r *AccountRepository) Ensure(ctx context.Context, telegramID int64, username, firstName, lastName string, startingCredits int) (*models.Account, bool, error) {
	account, err := r.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, false, err
	}
	if account != nil {
		if account.Username != username || account.FirstName != firstName || account.LastName != lastName {
			if err := r.UpdateProfile(ctx, account.ID, username, firstName, lastName); err != nil {
				return nil, false, err
			}
			account.Username, account.FirstName, account.LastName = username, firstName, lastName
		}
		return account, false, nil
	}
	created, err := r.Create(ctx, &models.Account{
		TelegramID: telegramID,
		Username:   username,
		FirstName:  firstName,
		LastName:   lastName,
		Plan:       models.PlanFree,
		Credits:    startingCredits,
	})
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// SaveBalance overwrites the stored plan and balance with a ledger snapshot.
func (r *AccountRepository) SaveBalance(ctx context.Context, accountID int64, plan models.Plan, credits int) error {
	const query = `UPDATE accounts SET plan = ?, credits = ?, updated_at = NOW() WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, plan, credits, accountID)
	if err != nil {
		return fmt.Errorf("save balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("balance rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("save balance: account %d not found", accountID)
	}
	return nil
}

func (r *AccountRepository) AddCredits(ctx context.Context, accountID int64, delta int) error {
	const query = `UPDATE accounts SET credits = GREATEST(credits + ?, 0), updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, delta, accountID); err != nil {
		return fmt.Errorf("add credits: %w", err)
	}
	return nil
}

func (r *AccountRepository) SetPlan(ctx context.Context, accountID int64, plan models.Plan) error {
	const query = `UPDATE accounts SET plan = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, plan, accountID); err != nil {
		return fmt.Errorf("set plan: %w", err)
	}
	return nil
}

func (r *AccountRepository) SetCredits(ctx context.Context, accountID int64, credits int) error {
	const query = `UPDATE accounts SET credits = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, credits, accountID); err != nil {
		return fmt.Errorf("set credits: %w", err)
	}
	return nil
}

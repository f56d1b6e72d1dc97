package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/LincolnGameplays/emprataai/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	const query = `
INSERT INTO payments (account_id, package_id, provider, method, provider_charge_id, currency, amount, status, raw_payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, payment.AccountID, payment.PackageID, payment.Provider, payment.Method, payment.ProviderCharge, payment.Currency, payment.Amount, payment.Status, payment.RawPayload)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	payment.ID = id
	return nil
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, paymentID int64, status string, payload string) error {
	const query = `UPDATE payments SET status = ?, raw_payload = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, status, payload, paymentID); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

// MarkPaid flips a pending payment to paid. It reports false when another
// webhook delivery already did so.
func (r *PaymentRepository) MarkPaid(ctx context.Context, paymentID int64, payload string) (bool, error) {
	const query = `UPDATE payments SET status = ?, raw_payload = ?, updated_at = NOW() WHERE id = ? AND status <> ?`
	res, err := r.db.ExecContext(ctx, query, models.PaymentPaid, payload, paymentID, models.PaymentPaid)
	if err != nil {
		return false, fmt.Errorf("mark payment paid: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("payment rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *PaymentRepository) FindByProviderCharge(ctx context.Context, provider, chargeID string) (*models.Payment, error) {
	const query = `
SELECT id, account_id, package_id, provider, method, provider_charge_id, currency, amount, status, COALESCE(raw_payload, ''), created_at, COALESCE(updated_at, created_at) as updated_at
FROM payments WHERE provider = ? AND provider_charge_id = ? LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, provider, chargeID)
	var p models.Payment
	var packageID sql.NullInt64
	var method string
	if err := row.Scan(&p.ID, &p.AccountID, &packageID, &p.Provider, &method, &p.ProviderCharge, &p.Currency, &p.Amount, &p.Status, &p.RawPayload, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	p.Method = models.PaymentMethod(method)
	if packageID.Valid {
		p.PackageID = &packageID.Int64
	}
	return &p, nil
}

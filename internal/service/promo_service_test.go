package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LincolnGameplays/emprataai/internal/models"
	"github.com/LincolnGameplays/emprataai/internal/repository"
	"github.com/LincolnGameplays/emprataai/internal/session"
)

var promoCols = []string{"id", "code", "max_uses", "uses", "credits", "created_at"}

func newPromoFixture(t *testing.T, live models.Account) (sqlmock.Sqlmock, *PromoService, *session.Registry) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry := session.NewRegistry(&memoryAccounts{accounts: map[int64]models.Account{live.ID: live}}, 16, nil, nil)
	t.Cleanup(registry.Close)
	_, err = registry.Login(context.Background(), live.ID)
	require.NoError(t, err)

	accounts := NewAccountService(repository.NewAccountRepository(db), registry, models.StartingCredits, nil)
	return mock, NewPromoService(repository.NewPromoRepository(db), accounts), registry
}

func TestPromoApplyGrantsCredits(t *testing.T) {
	mock, svc, registry := newPromoFixture(t, models.Account{ID: 1, Plan: models.PlanFree, Credits: 0})

	mock.ExpectQuery(regexp.QuoteMeta("FROM promo_codes WHERE code = ?")).
		WithArgs("CHEF10").
		WillReturnRows(sqlmock.NewRows(promoCols).AddRow(3, "CHEF10", 100, 4, 10, time.Now()))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT uses, max_uses, credits FROM promo_codes WHERE id = ? FOR UPDATE")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"uses", "max_uses", "credits"}).AddRow(4, 100, 10))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM promo_redemptions")).
		WithArgs(int64(1), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO promo_redemptions")).
		WithArgs(int64(1), int64(3)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE promo_codes SET uses = uses + 1")).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET credits = credits + ?")).
		WithArgs(10, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	granted, err := svc.Apply(context.Background(), 1, " CHEF10 ")
	require.NoError(t, err)
	assert.Equal(t, 10, granted)

	sess, _ := registry.Get(1)
	assert.Equal(t, 10, sess.Ledger().Balance())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoApplyRejectsSecondRedemption(t *testing.T) {
	mock, svc, registry := newPromoFixture(t, models.Account{ID: 1, Plan: models.PlanFree, Credits: 0})

	mock.ExpectQuery(regexp.QuoteMeta("FROM promo_codes WHERE code = ?")).
		WillReturnRows(sqlmock.NewRows(promoCols).AddRow(3, "CHEF10", 100, 5, 10, time.Now()))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"uses", "max_uses", "credits"}).AddRow(5, 100, 10))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM promo_redemptions")).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectRollback()

	_, err := svc.Apply(context.Background(), 1, "CHEF10")
	require.ErrorIs(t, err, ErrPromoAlreadyRedeemed)

	sess, _ := registry.Get(1)
	assert.Equal(t, 0, sess.Ledger().Balance())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoApplyUnknownAndExhausted(t *testing.T) {
	mock, svc, _ := newPromoFixture(t, models.Account{ID: 1, Plan: models.PlanFree})

	_, err := svc.Apply(context.Background(), 1, "  ")
	require.ErrorIs(t, err, ErrPromoInvalid)

	mock.ExpectQuery(regexp.QuoteMeta("FROM promo_codes WHERE code = ?")).
		WillReturnRows(sqlmock.NewRows(promoCols))
	_, err = svc.Apply(context.Background(), 1, "NOPE")
	require.ErrorIs(t, err, ErrPromoInvalid)

	mock.ExpectQuery(regexp.QuoteMeta("FROM promo_codes WHERE code = ?")).
		WillReturnRows(sqlmock.NewRows(promoCols).AddRow(4, "FULL", 1, 1, 5, time.Now()))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"uses", "max_uses", "credits"}).AddRow(1, 1, 5))
	mock.ExpectRollback()
	_, err = svc.Apply(context.Background(), 1, "FULL")
	require.ErrorIs(t, err, ErrPromoExhausted)

	require.NoError(t, mock.ExpectationsWereMet())
}

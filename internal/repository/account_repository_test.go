package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/LincolnGameplays/emprataai/internal/models"
)

var accountCols = []string{"id", "telegram_id", "username", "first_name", "last_name", "plan", "credits", "created_at", "updated_at"}

func newMock(t *testing.T) (sqlmock.Sqlmock, *AccountRepository) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return mock, NewAccountRepository(db)
}

func TestAccountRepositoryEnsureCreatesWithStartingGrant(t *testing.T) {
	mock, repo := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE telegram_id = ?")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(accountCols))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
		WithArgs(int64(42), "chef", "Ana", "", "free", 3).
		WillReturnResult(sqlmock.NewResult(7, 1))

	account, created, err := repo.Ensure(context.Background(), 42, "chef", "Ana", "", models.StartingCredits)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(7), account.ID)
	require.Equal(t, models.PlanFree, account.Plan)
	require.Equal(t, 3, account.Credits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepositoryEnsureReturnsExisting(t *testing.T) {
	mock, repo := newMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE telegram_id = ?")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(7, 42, "chef", "Ana", "", "pro", 0, now, now))

	account, created, err := repo.Ensure(context.Background(), 42, "chef", "Ana", "", models.StartingCredits)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, models.PlanPro, account.Plan)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepositoryFindByIDMissing(t *testing.T) {
	mock, repo := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = ?")).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(accountCols))

	account, err := repo.FindByID(context.Background(), 9)
	require.NoError(t, err)
	require.Nil(t, account)
}

func TestAccountRepositoryFindByIDRejectsUnknownPlan(t *testing.T) {
	mock, repo := newMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = ?")).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(9, 0, "", "", "", "gold", 1, now, now))

	_, err := repo.FindByID(context.Background(), 9)
	require.ErrorContains(t, err, "unknown plan")
}

func TestAccountRepositorySaveBalance(t *testing.T) {
	mock, repo := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET plan = ?, credits = ?")).
		WithArgs("starter", 2, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SaveBalance(context.Background(), 7, models.PlanStarter, 2))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET plan = ?, credits = ?")).
		WithArgs("free", 0, int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorContains(t, repo.SaveBalance(context.Background(), 8, models.PlanFree, 0), "not found")

	require.NoError(t, mock.ExpectationsWereMet())
}

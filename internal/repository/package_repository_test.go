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

var packageCols = []string{"id", "title", "description", "currency", "price_minor_units", "credits", "upgrade_plan", "is_active", "created_at", "updated_at"}

func TestPackageRepositoryGetDefault(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPackageRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_packages WHERE is_active = 1")).
		WillReturnRows(sqlmock.NewRows(packageCols).AddRow(1, "Pacote Starter", "", "BRL", 2990, 30, "starter", true, now, now))

	pkg, err := repo.GetDefault(context.Background())
	require.NoError(t, err)
	require.NotNil(t, pkg)
	require.Equal(t, models.PlanStarter, pkg.UpgradePlan)
	require.Equal(t, 30, pkg.Credits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPackageRepositoryGetDefaultEmptyCatalogue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPackageRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_packages WHERE is_active = 1")).
		WillReturnRows(sqlmock.NewRows(packageCols))

	pkg, err := repo.GetDefault(context.Background())
	require.NoError(t, err)
	require.Nil(t, pkg)
}

func TestPackageRepositoryRejectsUnknownUpgradePlan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPackageRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_packages WHERE id = ?")).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(packageCols).AddRow(9, "Gold", "", "BRL", 100, 1, "gold", true, now, now))

	_, err = repo.GetByID(context.Background(), 9)
	require.Error(t, err)
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/LincolnGameplays/emprataai/internal/models"
)

type PackageRepository struct {
	db *sql.DB
}

func NewPackageRepository(db *sql.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

const packageColumns = `id, title, COALESCE(description, ''), currency, price_minor_units, credits, COALESCE(upgrade_plan, ''), is_active, created_at, updated_at`

func scanPackage(row interface{ Scan(...any) error }) (*models.Package, error) {
	var pkg models.Package
	var upgrade string
	if err := row.Scan(&pkg.ID, &pkg.Title, &pkg.Description, &pkg.Currency, &pkg.PriceMinorUnits, &pkg.Credits, &upgrade, &pkg.IsActive, &pkg.CreatedAt, &pkg.UpdatedAt); err != nil {
		return nil, err
	}
	if upgrade != "" {
		plan, err := models.ParsePlan(upgrade)
		if err != nil {
			return nil, fmt.Errorf("package %d: %w", pkg.ID, err)
		}
		pkg.UpgradePlan = plan
	}
	return &pkg, nil
}

func (r *PackageRepository) List(ctx context.Context) ([]models.Package, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+packageColumns+` FROM credit_packages ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var packages []models.Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		packages = append(packages, *pkg)
	}
	return packages, rows.Err()
}

func (r *PackageRepository) GetDefault(ctx context.Context) (*models.Package, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+packageColumns+` FROM credit_packages WHERE is_active = 1 ORDER BY id ASC LIMIT 1`)
	pkg, err := scanPackage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get default package: %w", err)
	}
	return pkg, nil
}

func (r *PackageRepository) GetByID(ctx context.Context, id int64) (*models.Package, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+packageColumns+` FROM credit_packages WHERE id = ?`, id)
	pkg, err := scanPackage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get package: %w", err)
	}
	return pkg, nil
}

func (r *PackageRepository) Create(ctx context.Context, pkg *models.Package) (*models.Package, error) {
	const query = `
INSERT INTO credit_packages (title, description, currency, price_minor_units, credits, upgrade_plan, is_active)
VALUES (?, NULLIF(?, ''), ?, ?, ?, NULLIF(?, ''), ?)`
	res, err := r.db.ExecContext(ctx, query, pkg.Title, pkg.Description, pkg.Currency, pkg.PriceMinorUnits, pkg.Credits, string(pkg.UpgradePlan), pkg.IsActive)
	if err != nil {
		return nil, fmt.Errorf("create package: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("package last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *PackageRepository) Update(ctx context.Context, pkg *models.Package) (*models.Package, error) {
	const query = `
UPDATE credit_packages
SET title = ?, description = NULLIF(?, ''), currency = ?, price_minor_units = ?, credits = ?, upgrade_plan = NULLIF(?, ''), is_active = ?, updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, pkg.Title, pkg.Description, pkg.Currency, pkg.PriceMinorUnits, pkg.Credits, string(pkg.UpgradePlan), pkg.IsActive, pkg.ID); err != nil {
		return nil, fmt.Errorf("update package: %w", err)
	}
	return r.GetByID(ctx, pkg.ID)
}

func (r *PackageRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM credit_packages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete package: %w", err)
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/LincolnGameplays/emprataai/internal/config"
	"github.com/LincolnGameplays/emprataai/internal/models"
	"github.com/LincolnGameplays/emprataai/internal/repository"
)

var ErrPackageNotFound = errors.New("package not found")

// PackageService manages the purchasable credit packs.
type PackageService struct {
	cfg  config.Config
	repo *repository.PackageRepository
}

type CreatePackageInput struct {
	Title           string
	Description     string
	Currency        string
	PriceMinorUnits int
	Credits         int
	UpgradePlan     string
	IsActive        *bool
}

type UpdatePackageInput struct {
	Title           *string
	Description     *string
	Currency        *string
	PriceMinorUnits *int
	Credits         *int
	UpgradePlan     *string
	IsActive        *bool
}

func NewPackageService(cfg config.Config, repo *repository.PackageRepository) *PackageService {
	return &PackageService{cfg: cfg, repo: repo}
}

// EnsureDefaultPackage seeds one pack from configuration when the catalogue is empty.
func (s *PackageService) EnsureDefaultPackage(ctx context.Context) error {
	pkg, err := s.repo.GetDefault(ctx)
	if err != nil {
		return err
	}
	if pkg != nil {
		return nil
	}
	defaultPackage := &models.Package{
		Title:           "Pacote Starter",
		Description:     fmt.Sprintf("%d créditos de geração sem marca d'água", s.cfg.PaymentCreditsPerPackage),
		Currency:        s.cfg.PaymentCurrency,
		PriceMinorUnits: s.cfg.PaymentPriceMinorUnits,
		Credits:         s.cfg.PaymentCreditsPerPackage,
		UpgradePlan:     models.PlanStarter,
		IsActive:        true,
	}
	if _, err := s.repo.Create(ctx, defaultPackage); err != nil {
		return fmt.Errorf("create default package: %w", err)
	}
	return nil
}

func (s *PackageService) List(ctx context.Context) ([]models.Package, error) {
	return s.repo.List(ctx)
}

func (s *PackageService) Create(ctx context.Context, input CreatePackageInput) (*models.Package, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if input.Currency == "" {
		input.Currency = s.cfg.PaymentCurrency
	}
	if input.PriceMinorUnits <= 0 {
		return nil, fmt.Errorf("price must be positive")
	}
	upgrade, err := parseUpgrade(input.UpgradePlan)
	if err != nil {
		return nil, err
	}
	if err := checkGrant(input.Credits, upgrade); err != nil {
		return nil, err
	}
	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}
	return s.repo.Create(ctx, &models.Package{
		Title:           input.Title,
		Description:     input.Description,
		Currency:        input.Currency,
		PriceMinorUnits: input.PriceMinorUnits,
		Credits:         input.Credits,
		UpgradePlan:     upgrade,
		IsActive:        isActive,
	})
}

func (s *PackageService) Update(ctx context.Context, id int64, input UpdatePackageInput) (*models.Package, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrPackageNotFound
	}
	if input.Title != nil {
		existing.Title = *input.Title
	}
	if input.Description != nil {
		existing.Description = *input.Description
	}
	if input.Currency != nil && *input.Currency != "" {
		existing.Currency = *input.Currency
	}
	if input.PriceMinorUnits != nil && *input.PriceMinorUnits > 0 {
		existing.PriceMinorUnits = *input.PriceMinorUnits
	}
	if input.Credits != nil && *input.Credits >= 0 {
		existing.Credits = *input.Credits
	}
	if input.UpgradePlan != nil {
		upgrade, err := parseUpgrade(*input.UpgradePlan)
		if err != nil {
			return nil, err
		}
		existing.UpgradePlan = upgrade
	}
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}
	if err := checkGrant(existing.Credits, existing.UpgradePlan); err != nil {
		return nil, err
	}
	return s.repo.Update(ctx, existing)
}

func (s *PackageService) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func (s *PackageService) GetDefault(ctx context.Context) (*models.Package, error) {
	return s.repo.GetDefault(ctx)
}

func (s *PackageService) GetByID(ctx context.Context, id int64) (*models.Package, error) {
	return s.repo.GetByID(ctx, id)
}

// parseUpgrade accepts an empty value (no upgrade) or a paid plan.
func parseUpgrade(raw string) (models.Plan, error) {
	if raw == "" {
		return "", nil
	}
	plan, err := models.ParsePlan(raw)
	if err != nil {
		return "", err
	}
	if plan == models.PlanFree {
		return "", fmt.Errorf("a package cannot upgrade to the free plan")
	}
	return plan, nil
}

// checkGrant requires a package to grant credits, upgrade the plan, or both.
func checkGrant(credits int, upgrade models.Plan) error {
	if credits < 0 {
		return fmt.Errorf("credits must not be negative")
	}
	if credits == 0 && upgrade == "" {
		return fmt.Errorf("package must grant credits or upgrade the plan")
	}
	return nil
}

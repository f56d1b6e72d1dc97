package models

import (
	"fmt"
	"strings"
	"time"
)

// Plan is the subscription tier of an account.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
)

// StartingCredits is the grant every new account receives at signup.
const StartingCredits = 3

// ParsePlan accepts any casing of free, starter or pro.
func ParsePlan(raw string) (Plan, error) {
	switch Plan(strings.ToLower(strings.TrimSpace(raw))) {
	case PlanFree:
		return PlanFree, nil
	case PlanStarter:
		return PlanStarter, nil
	case PlanPro:
		return PlanPro, nil
	default:
		return "", fmt.Errorf("unknown plan %q", raw)
	}
}

// Unlimited reports whether the plan bypasses credit accounting.
func (p Plan) Unlimited() bool {
	return p == PlanPro
}

// Watermarked reports whether exports for this plan carry the brand watermark.
func (p Plan) Watermarked() bool {
	return p == PlanFree
}

type Account struct {
	ID         int64     `json:"id"`
	TelegramID int64     `json:"telegram_id,omitempty"`
	Username   string    `json:"username,omitempty"`
	FirstName  string    `json:"first_name,omitempty"`
	LastName   string    `json:"last_name,omitempty"`
	Plan       Plan      `json:"plan"`
	Credits    int       `json:"credits"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const (
	DefaultVibe  = "rustico"
	DefaultAngle = "front"
	DefaultLight = 50
)

// StyleParams are the user-facing knobs of one generation.
type StyleParams struct {
	Vibe  string `json:"vibe"`
	Angle string `json:"angle"`
	Light int    `json:"light"`
}

func DefaultStyle() StyleParams {
	return StyleParams{Vibe: DefaultVibe, Angle: DefaultAngle, Light: DefaultLight}
}

func (s StyleParams) Validate() error {
	if strings.TrimSpace(s.Vibe) == "" {
		return fmt.Errorf("vibe is required")
	}
	if strings.TrimSpace(s.Angle) == "" {
		return fmt.Errorf("angle is required")
	}
	if s.Light < 0 || s.Light > 100 {
		return fmt.Errorf("light must be between 0 and 100, got %d", s.Light)
	}
	return nil
}

// Image is a generator output: a fetchable URL, inline bytes, or both.
type Image struct {
	URL   string `json:"url,omitempty"`
	Bytes []byte `json:"-"`
	Mime  string `json:"mime,omitempty"`
}

func (i *Image) Empty() bool {
	return i == nil || (i.URL == "" && len(i.Bytes) == 0)
}

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

type GenerationLog struct {
	ID        int64
	AttemptID string
	AccountID int64
	Provider  string
	Style     StyleParams
	Outcome   Outcome
	Charged   bool
	CreatedAt time.Time
}

type PromoCode struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	MaxUses   int       `json:"max_uses"`
	Uses      int       `json:"uses"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"created_at"`
}

type PaymentMethod string

const (
	MethodTelegram   PaymentMethod = "telegram"
	MethodPix        PaymentMethod = "pix"
	MethodCreditCard PaymentMethod = "credit_card"
)

const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentCanceled = "canceled"
)

type Payment struct {
	ID             int64
	AccountID      int64
	PackageID      *int64
	Provider       string
	Method         PaymentMethod
	ProviderCharge string
	Currency       string
	Amount         int
	Status         string
	RawPayload     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Package is a purchasable credit pack, optionally upgrading the plan.
type Package struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Currency        string    `json:"currency"`
	PriceMinorUnits int       `json:"price_minor_units"`
	Credits         int       `json:"credits"`
	UpgradePlan     Plan      `json:"upgrade_plan,omitempty"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

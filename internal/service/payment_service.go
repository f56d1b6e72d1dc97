package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/LincolnGameplays/emprataai/internal/config"
	"github.com/LincolnGameplays/emprataai/internal/models"
	"github.com/LincolnGameplays/emprataai/internal/repository"
)

const (
	providerTelegram = "telegram"
	providerCheckout = "checkout"
)

var ErrPaymentNotFound = errors.New("payment not found")

type PaymentService struct {
	cfg      config.Config
	log      *slog.Logger
	payments *repository.PaymentRepository
	packages *PackageService
	accounts *AccountService
	client   *http.Client
}

func NewPaymentService(cfg config.Config, log *slog.Logger, payments *repository.PaymentRepository, packages *PackageService, accounts *AccountService) *PaymentService {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &PaymentService{
		cfg:      cfg,
		log:      log,
		payments: payments,
		packages: packages,
		accounts: accounts,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Checkout is a pending gateway charge the buyer still has to pay.
type Checkout struct {
	PaymentID    int64                `json:"payment_id"`
	ChargeID     string               `json:"charge_id"`
	Method       models.PaymentMethod `json:"method"`
	Status       string               `json:"status"`
	URL          string               `json:"checkout_url,omitempty"`
	PixCopyPaste string               `json:"pix_copy_paste,omitempty"`
	Package      *models.Package      `json:"package"`
}

// SendInvoice offers the default package in chat, either as a native
// Telegram invoice or as a gateway checkout link.
func (s *PaymentService) SendInvoice(ctx context.Context, bot *tgbotapi.BotAPI, account *models.Account, chatID int64) error {
	pkg, err := s.packages.GetDefault(ctx)
	if err != nil {
		return fmt.Errorf("get default package: %w", err)
	}
	if pkg == nil {
		return fmt.Errorf("no active package configured")
	}

	switch strings.ToLower(s.cfg.PaymentProvider) {
	case providerTelegram:
		return s.sendTelegramInvoice(pkg, bot, chatID)
	case providerCheckout, "":
		checkout, err := s.CreateCheckout(ctx, account.ID, pkg.ID)
		if err != nil {
			return err
		}
		if _, err := bot.Send(tgbotapi.NewMessage(chatID, checkoutText(checkout))); err != nil {
			return fmt.Errorf("send checkout link: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported payment provider: %s", s.cfg.PaymentProvider)
	}
}

func (s *PaymentService) sendTelegramInvoice(pkg *models.Package, bot *tgbotapi.BotAPI, chatID int64) error {
	prices := []tgbotapi.LabeledPrice{
		{
			Label:  fmt.Sprintf("%d créditos", pkg.Credits),
			Amount: pkg.PriceMinorUnits,
		},
	}
	payload, _ := json.Marshal(map[string]any{
		"package_id": pkg.ID,
	})
	description := pkg.Description
	if description == "" {
		description = "Recarga de créditos"
	}

	invoice := tgbotapi.NewInvoice(chatID,
		pkg.Title,
		description,
		string(payload),
		s.cfg.TelegramPaymentProviderToken,
		"topup",
		pkg.Currency,
		prices,
	)
	if _, err := bot.Send(invoice); err != nil {
		return fmt.Errorf("send invoice: %w", err)
	}
	return nil
}

func (s *PaymentService) HandlePreCheckout(bot *tgbotapi.BotAPI, query *tgbotapi.PreCheckoutQuery) error {
	response := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: query.ID,
		OK:                 true,
	}
	if _, err := bot.Request(response); err != nil {
		return fmt.Errorf("answer pre-checkout: %w", err)
	}
	return nil
}

// HandleSuccessfulPayment fulfils a Telegram invoice. Telegram delivers it once.
func (s *PaymentService) HandleSuccessfulPayment(ctx context.Context, accountID int64, payment *tgbotapi.SuccessfulPayment) (*models.Package, error) {
	var payload struct {
		PackageID int64 `json:"package_id"`
	}
	if err := json.Unmarshal([]byte(payment.InvoicePayload), &payload); err != nil {
		return nil, fmt.Errorf("parse payment payload: %w", err)
	}
	pkg, err := s.packageFromPayload(ctx, payload.PackageID)
	if err != nil {
		return nil, err
	}

	packageID := pkg.ID
	record := &models.Payment{
		AccountID:      accountID,
		PackageID:      &packageID,
		Provider:       providerTelegram,
		Method:         models.MethodTelegram,
		ProviderCharge: payment.ProviderPaymentChargeID,
		Currency:       payment.Currency,
		Amount:         payment.TotalAmount,
		Status:         models.PaymentPaid,
		RawPayload:     string(jsonMustMarshal(payment)),
	}
	if err := s.payments.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	if err := s.fulfil(ctx, accountID, pkg); err != nil {
		return nil, err
	}
	return pkg, nil
}

func (s *PaymentService) packageFromPayload(ctx context.Context, packageID int64) (*models.Package, error) {
	var pkg *models.Package
	var err error
	if packageID > 0 {
		pkg, err = s.packages.GetByID(ctx, packageID)
		if err != nil {
			return nil, fmt.Errorf("get package: %w", err)
		}
	}
	if pkg == nil {
		pkg, err = s.packages.GetDefault(ctx)
		if err != nil {
			return nil, fmt.Errorf("fallback package: %w", err)
		}
	}
	if pkg == nil {
		return nil, ErrPackageNotFound
	}
	return pkg, nil
}

type gatewayCharge struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	CheckoutURL  string `json:"checkout_url"`
	PixCopyPaste string `json:"pix_copy_paste"`
}

// CreateCheckout opens a PIX or credit card charge on the gateway for the
// package and records it as pending.
func (s *PaymentService) CreateCheckout(ctx context.Context, accountID, packageID int64) (*Checkout, error) {
	pkg, err := s.packageFromPayload(ctx, packageID)
	if err != nil {
		return nil, err
	}
	method := models.PaymentMethod(s.cfg.CheckoutMethod)
	if method == "" {
		method = models.MethodPix
	}

	charge, err := s.createGatewayCharge(ctx, accountID, pkg, method)
	if err != nil {
		return nil, err
	}

	packageRef := pkg.ID
	record := &models.Payment{
		AccountID:      accountID,
		PackageID:      &packageRef,
		Provider:       providerCheckout,
		Method:         method,
		ProviderCharge: charge.ID,
		Currency:       pkg.Currency,
		Amount:         pkg.PriceMinorUnits,
		Status:         charge.Status,
		RawPayload:     string(jsonMustMarshal(charge)),
	}
	if err := s.payments.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	s.log.Info("checkout created", "account_id", accountID, "payment_id", record.ID, "method", method, "package_id", pkg.ID)

	return &Checkout{
		PaymentID:    record.ID,
		ChargeID:     charge.ID,
		Method:       method,
		Status:       charge.Status,
		URL:          charge.CheckoutURL,
		PixCopyPaste: charge.PixCopyPaste,
		Package:      pkg,
	}, nil
}

func (s *PaymentService) createGatewayCharge(ctx context.Context, accountID int64, pkg *models.Package, method models.PaymentMethod) (*gatewayCharge, error) {
	if s.cfg.CheckoutBaseURL == "" || s.cfg.CheckoutAPIKey == "" {
		return nil, fmt.Errorf("checkout gateway is not configured")
	}
	body, _ := json.Marshal(map[string]any{
		"amount":             pkg.PriceMinorUnits,
		"currency":           pkg.Currency,
		"method":             method,
		"description":        fmt.Sprintf("%s (%d créditos)", pkg.Title, pkg.Credits),
		"external_reference": fmt.Sprintf("account:%d:package:%d", accountID, pkg.ID),
		"return_url":         s.cfg.CheckoutReturnURL,
	})
	idempotenceKey := uuid.NewString()

	var parsed gatewayCharge
	backoff := retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.CheckoutBaseURL+"/payments", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build checkout request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.cfg.CheckoutAPIKey)
		req.Header.Set("Idempotency-Key", idempotenceKey)

		resp, err := s.client.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("checkout request: %w", err))
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("checkout gateway status=%d", resp.StatusCode))
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("checkout gateway status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return fmt.Errorf("decode checkout response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if parsed.ID == "" || (parsed.CheckoutURL == "" && parsed.PixCopyPaste == "") {
		return nil, fmt.Errorf("invalid checkout response (missing id or payment instructions)")
	}
	if parsed.Status == "" {
		parsed.Status = models.PaymentPending
	}
	return &parsed, nil
}

// HandleCheckoutWebhook applies a gateway status update. Repeated deliveries
// of the same paid event grant credits only once.
func (s *PaymentService) HandleCheckoutWebhook(ctx context.Context, payload []byte) error {
	var evt struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("parse webhook: %w", err)
	}
	if evt.ID == "" {
		return fmt.Errorf("webhook missing payment id")
	}

	pmt, err := s.payments.FindByProviderCharge(ctx, providerCheckout, evt.ID)
	if err != nil {
		return fmt.Errorf("find payment: %w", err)
	}
	if pmt == nil {
		return fmt.Errorf("%w: id=%s", ErrPaymentNotFound, evt.ID)
	}
	if pmt.Status == models.PaymentPaid {
		return nil
	}

	switch evt.Status {
	case models.PaymentPaid, "approved", "succeeded":
	default:
		if err := s.payments.UpdateStatus(ctx, pmt.ID, evt.Status, string(payload)); err != nil {
			return fmt.Errorf("update payment status: %w", err)
		}
		return nil
	}

	if pmt.PackageID == nil {
		return fmt.Errorf("payment missing package_id")
	}
	pkg, err := s.packages.GetByID(ctx, *pmt.PackageID)
	if err != nil {
		return fmt.Errorf("get package: %w", err)
	}
	if pkg == nil {
		return ErrPackageNotFound
	}

	flipped, err := s.payments.MarkPaid(ctx, pmt.ID, string(payload))
	if err != nil {
		return err
	}
	if !flipped {
		return nil
	}
	if err := s.fulfil(ctx, pmt.AccountID, pkg); err != nil {
		if revertErr := s.payments.UpdateStatus(ctx, pmt.ID, models.PaymentPending, string(payload)); revertErr != nil {
			s.log.Error("revert payment status", "payment_id", pmt.ID, "err", revertErr)
		}
		return err
	}
	return nil
}

// fulfil applies the plan upgrade before the credit grant. The grant is the
// last step that can fail, so a payment reverted to pending never has credits
// attached and a redelivery cannot grant twice.
func (s *PaymentService) fulfil(ctx context.Context, accountID int64, pkg *models.Package) error {
	if pkg.UpgradePlan != "" {
		if err := s.accounts.Upgrade(ctx, accountID, pkg.UpgradePlan); err != nil {
			return fmt.Errorf("upgrade plan: %w", err)
		}
	}
	if pkg.Credits > 0 {
		if err := s.accounts.Grant(ctx, accountID, pkg.Credits); err != nil {
			return fmt.Errorf("grant package credits: %w", err)
		}
	}
	s.log.Info("package fulfilled", "account_id", accountID, "package_id", pkg.ID, "credits", pkg.Credits, "upgrade", pkg.UpgradePlan)
	return nil
}

func checkoutText(c *Checkout) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pacote: %s\nValor: %.2f %s\n", c.Package.Title, float64(c.Package.PriceMinorUnits)/100, c.Package.Currency)
	if c.PixCopyPaste != "" {
		fmt.Fprintf(&b, "PIX copia e cola:\n%s\n", c.PixCopyPaste)
	}
	if c.URL != "" {
		fmt.Fprintf(&b, "Link de pagamento: %s\n", c.URL)
	}
	b.WriteString("Os créditos entram automaticamente assim que o pagamento for confirmado.")
	return b.String()
}

func jsonMustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service and its collaborators.
type Config struct {
	LogLevel                     slog.Level
	BotToken                     string
	MySQLDSN                     string
	StartingCredits              int
	CanonicalSize                int
	ExportQuality                int
	KIEAPIKey                    string
	KIEBaseURL                   string
	KIEModel                     string
	KIEPollInterval              time.Duration
	KIEMaxPolls                  int
	OpenAIAPIKey                 string
	OpenAIImageModel             string
	RequestTimeout               time.Duration
	MirrorQueueSize              int
	TelegramPaymentProviderToken string
	PaymentCurrency              string
	PaymentPriceMinorUnits       int
	PaymentCreditsPerPackage     int
	PaymentProvider              string
	CheckoutBaseURL              string
	CheckoutAPIKey               string
	CheckoutMethod               string
	CheckoutReturnURL            string
	HTTPListenAddr               string
	AdminUsername                string
	AdminPassword                string
	S3Endpoint                   string
	S3Region                     string
	S3AccessKey                  string
	S3SecretKey                  string
	S3Bucket                     string
	S3PublicBaseURL              string
	S3UsePathStyle               bool
	S3Prefix                     string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultKIEBaseURL = "https://api.kie.ai"

	cfg := Config{
		LogLevel:                 parseLevel(getEnv("LOG_LEVEL", "info")),
		StartingCredits:          getInt("STARTING_CREDITS", 3),
		CanonicalSize:            getInt("CANONICAL_SIZE", 1080),
		ExportQuality:            getInt("EXPORT_QUALITY", 92),
		KIEBaseURL:               normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		KIEModel:                 getEnv("KIE_MODEL", "nano-banana-pro"),
		KIEPollInterval:          time.Second * time.Duration(getInt("KIE_POLL_INTERVAL_SECONDS", 2)),
		KIEMaxPolls:              getInt("KIE_MAX_POLLS", 60),
		OpenAIImageModel:         getEnv("OPENAI_IMAGE_MODEL", "dall-e-3"),
		RequestTimeout:           time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),
		MirrorQueueSize:          getInt("LEDGER_MIRROR_QUEUE", 64),
		PaymentCurrency:          getEnv("PAYMENT_CURRENCY", "BRL"),
		PaymentPriceMinorUnits:   getInt("PAYMENT_PRICE_MINOR_UNITS", 2990),
		PaymentCreditsPerPackage: getInt("PAYMENT_CREDITS_PER_PACKAGE", 30),
		PaymentProvider:          strings.ToLower(getEnv("PAYMENT_PROVIDER", "checkout")),
		CheckoutBaseURL:          strings.TrimRight(getEnv("CHECKOUT_BASE_URL", ""), "/"),
		CheckoutMethod:           strings.ToLower(getEnv("CHECKOUT_METHOD", "pix")),
		CheckoutReturnURL:        getEnv("CHECKOUT_RETURN_URL", ""),
		HTTPListenAddr:           getEnv("HTTP_LISTEN_ADDR", ":8080"),
		AdminUsername:            getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:            getEnv("ADMIN_PASSWORD", "change-me"),
		S3Endpoint:               getEnv("S3_ENDPOINT", ""),
		S3Region:                 os.Getenv("S3_REGION"),
		S3AccessKey:              os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:              os.Getenv("S3_SECRET_KEY"),
		S3Bucket:                 os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:          os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:           getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:                 getEnv("S3_PREFIX", "emprata"),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.KIEAPIKey = os.Getenv("KIE_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.CheckoutAPIKey = os.Getenv("CHECKOUT_API_KEY")
	cfg.TelegramPaymentProviderToken = os.Getenv("TELEGRAM_PAYMENT_PROVIDER_TOKEN")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	if c.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if c.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if c.KIEAPIKey == "" {
		missing = append(missing, "KIE_API_KEY")
	}
	switch c.PaymentProvider {
	case "telegram":
		if c.TelegramPaymentProviderToken == "" {
			missing = append(missing, "TELEGRAM_PAYMENT_PROVIDER_TOKEN")
		}
	case "checkout":
		if c.CheckoutBaseURL == "" {
			missing = append(missing, "CHECKOUT_BASE_URL")
		}
		if c.CheckoutAPIKey == "" {
			missing = append(missing, "CHECKOUT_API_KEY")
		}
	default:
		return fmt.Errorf("unsupported PAYMENT_PROVIDER %q", c.PaymentProvider)
	}
	if c.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if c.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if c.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if c.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if c.S3PublicBaseURL == "" {
		missing = append(missing, "S3_PUBLIC_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}

	if c.StartingCredits < 0 {
		return fmt.Errorf("STARTING_CREDITS must not be negative")
	}
	if c.CanonicalSize <= 0 {
		return fmt.Errorf("CANONICAL_SIZE must be positive")
	}
	if c.ExportQuality < 1 || c.ExportQuality > 100 {
		return fmt.Errorf("EXPORT_QUALITY must be within 1..100")
	}
	switch c.CheckoutMethod {
	case "pix", "credit_card":
	default:
		return fmt.Errorf("unsupported CHECKOUT_METHOD %q", c.CheckoutMethod)
	}
	return nil
}

// normalizeKIEBaseURL ensures we always hit the API host. The bare kie.ai domain
// serves the marketing site and answers with HTML.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return parsed.String()
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// loadEnvFile overloads the first .env it finds. A missing file is fine: the
// container deployments inject plain environment variables.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}

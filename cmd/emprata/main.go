package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/LincolnGameplays/emprataai/internal/config"
	"github.com/LincolnGameplays/emprataai/internal/database"
	"github.com/LincolnGameplays/emprataai/internal/generator"
	"github.com/LincolnGameplays/emprataai/internal/httpapi"
	"github.com/LincolnGameplays/emprataai/internal/kie"
	"github.com/LincolnGameplays/emprataai/internal/metrics"
	"github.com/LincolnGameplays/emprataai/internal/openaiimg"
	"github.com/LincolnGameplays/emprataai/internal/repository"
	"github.com/LincolnGameplays/emprataai/internal/service"
	"github.com/LincolnGameplays/emprataai/internal/session"
	"github.com/LincolnGameplays/emprataai/internal/storage"
	"github.com/LincolnGameplays/emprataai/internal/telegram"
	"github.com/LincolnGameplays/emprataai/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	collectors := metrics.New()

	accountRepo := repository.NewAccountRepository(db)
	generationRepo := repository.NewGenerationRepository(db)
	promoRepo := repository.NewPromoRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	packageRepo := repository.NewPackageRepository(db)

	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	images := &generator.Fallback{
		Primary: kie.NewClient(cfg, logr),
		Log:     logr,
	}
	if cfg.OpenAIAPIKey != "" {
		images.Secondary = openaiimg.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIImageModel, "", cfg.RequestTimeout)
	}

	sessions := session.NewRegistry(accountRepo, cfg.MirrorQueueSize, logr, collectors)
	defer sessions.Close()

	accountService := service.NewAccountService(accountRepo, sessions, cfg.StartingCredits, logr)
	packageService := service.NewPackageService(cfg, packageRepo)
	generationService := service.NewGenerationService(logr, images, uploader, generationRepo, collectors, cfg.CanonicalSize)
	exportService := service.NewExportService(logr, collectors, cfg.CanonicalSize, cfg.ExportQuality, cfg.RequestTimeout)
	promoService := service.NewPromoService(promoRepo, accountService)
	paymentService := service.NewPaymentService(cfg, logr, paymentRepo, packageService, accountService)

	if err := packageService.EnsureDefaultPackage(ctx); err != nil {
		log.Fatalf("ensure default package: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}
	bot := telegram.NewBot(cfg, botAPI, logr, accountService, sessions, generationService, exportService, promoService, paymentService)

	server := httpapi.NewServer(cfg.HTTPListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, collectors,
		accountService, sessions, generationService, exportService, packageService, promoService, paymentService)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx)
	})

	g.Go(func() error {
		return bot.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("emprata stopped", "err", err)
	}
	logr.Info("shutting down, flushing sessions")
}

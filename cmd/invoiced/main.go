// invoiced is the invoice scanning server: it OCRs uploaded receipt
// images, parses the text into structured invoices and stores them in
// Postgres.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"invoice-scanner/internal/common"
	"invoice-scanner/internal/export"
	"invoice-scanner/internal/ocr"
	"invoice-scanner/internal/parser"
	"invoice-scanner/internal/repository"
	"invoice-scanner/internal/server"
	"invoice-scanner/internal/taxonomy"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment")
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, pool, err := repository.Open(ctx, repository.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		DialTimeout:     cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		logger.Error("opening database", "error", err)
		os.Exit(1)
	}
	defer repository.Close(db, pool, logger)

	if err := repository.HealthCheck(ctx, pool, cfg.Database.HealthTimeout, logger); err != nil {
		logger.Error("database health check failed", "error", err)
		os.Exit(1)
	}
	if err := repository.Migrate(db, logger); err != nil {
		logger.Error("running migrations", "error", err)
		os.Exit(1)
	}

	categories := repository.NewCategoryRepository(db, logger)
	if err := categories.Seed(ctx, taxonomy.DefaultCategories()); err != nil {
		logger.Error("seeding categories", "error", err)
		os.Exit(1)
	}
	invoices := repository.NewInvoiceRepository(db, logger)

	ocrClient := ocr.NewClient(ocr.Config{
		Endpoint: cfg.OCR.Endpoint,
		APIKey:   cfg.OCR.APIKey,
		Language: cfg.OCR.Language,
		Engine:   cfg.OCR.Engine,
		Timeout:  cfg.OCR.Timeout,
	}, logger)

	srv := server.New(
		parser.New(cfg.Parser.TotalPolicy),
		ocrClient,
		invoices,
		categories,
		export.NewService(invoices, logger),
		db,
		cfg.OCR.EnhanceImage,
		logger,
	)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	go func() {
		logger.Info("server.listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("server.shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("server.stopped")
}

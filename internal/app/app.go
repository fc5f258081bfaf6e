package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/linemk/market-checkout/internal/config"
	"github.com/linemk/market-checkout/internal/events"
	"github.com/linemk/market-checkout/internal/iyzipay"
	"github.com/linemk/market-checkout/internal/lib/logger"
)

type App struct {
	Config *config.Config
	Logger *slog.Logger
	DB     *sql.DB
	// Iyzipay - единственный клиент провайдера на процесс, ключи читаются один раз при старте
	Iyzipay *iyzipay.Client
	Events  *events.Publisher

	closeEvents func()
}

// NewApp подключается к БД и NATS и собирает клиента провайдера
func NewApp(log *slog.Logger, cfg *config.Config) (*App, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	publisher, closeEvents, err := events.Connect(logger.Component(log, "events"), cfg.NATS.URL, cfg.NATS.Subject)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	client := iyzipay.NewClient(logger.Component(log, "iyzipay"), iyzipay.Options{
		BaseURL:   cfg.Iyzipay.BaseURL,
		APIKey:    cfg.Iyzipay.APIKey,
		SecretKey: cfg.Iyzipay.SecretKey,
		Timeout:   cfg.Iyzipay.Timeout,
	}, nil)

	return &App{
		Config:      cfg,
		Logger:      log,
		DB:          db,
		Iyzipay:     client,
		Events:      publisher,
		closeEvents: closeEvents,
	}, nil
}

// Close освобождает соединения в обратном порядке
func (a *App) Close() {
	a.closeEvents()
	if err := a.DB.Close(); err != nil {
		a.Logger.Error("failed to close database", slog.Any("error", err))
	}
}

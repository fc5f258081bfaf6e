package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linemk/market-checkout/internal/app"
	"github.com/linemk/market-checkout/internal/app/handlers"
	"github.com/linemk/market-checkout/internal/config"
	"github.com/linemk/market-checkout/internal/domain/models"
	"github.com/linemk/market-checkout/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/market-checkout/internal/lib/logger"
	"github.com/linemk/market-checkout/internal/lib/logger/handlers/urllog"
	"github.com/linemk/market-checkout/internal/service"
	"github.com/linemk/market-checkout/internal/storage"
	"github.com/pkg/errors"
)

func main() {
	// загрузка конфигурации
	cfg := config.MustLoad()

	// инициализация логгера, зависит от настройки окружения
	log := logger.SetupLogger(cfg.Env)
	log.Info("starting app", slog.String("env", cfg.Env))

	// объект приложения: конфиг, БД, NATS и клиент провайдера
	application, err := app.NewApp(log, cfg)
	if err != nil {
		log.Error("failed to initialize app", slog.Any("error", err))
		panic(errors.Wrap(err, "failed to initialize app"))
	}
	defer application.Close()

	commission, err := service.NewCommission(cfg.Commission.StaticFee, cfg.Commission.PercentageFee)
	if err != nil {
		panic(errors.Wrap(err, "invalid commission config"))
	}

	router := chi.NewRouter()
	// настройка middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(urllog.CustomLoggerMiddleware(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)

	// реализация слоев по работе с БД по каждому направлению
	userRepo := storage.NewUserRepository(application.DB)
	orderRepo := storage.NewOrderRepository(application.DB)
	paymentRepo := storage.NewPaymentRepository(application.DB)
	submerchantRepo := storage.NewSubmerchantRepository(application.DB)
	stockRepo := storage.NewStockRepository(application.DB)
	locker := storage.NewOrderLocker(application.DB)

	authService := service.NewAuthService(logger.Component(log, "auth"), userRepo, time.Duration(cfg.JWT.TokenTTL)*time.Minute)
	registry := service.NewSubmerchantRegistry(logger.Component(log, "submerchant"), application.Iyzipay, submerchantRepo, cfg.Iyzipay.Locale, cfg.Iyzipay.Currency)
	gateway := service.NewPaymentGateway(logger.Component(log, "gateway"), application.Iyzipay, registry, paymentRepo, commission, service.GatewayOptions{
		Locale:      cfg.Iyzipay.Locale,
		Currency:    cfg.Iyzipay.Currency,
		CallbackURL: cfg.Iyzipay.CallbackURL,
	})
	checkoutLog := logger.Component(log, "checkout")
	machine := service.NewOrderMachine(checkoutLog, application.DB, orderRepo, paymentRepo, stockRepo, gateway)
	probe := service.NewRedirectProbe(checkoutLog, gateway, paymentRepo)
	checkoutService := service.NewCheckoutService(checkoutLog, locker, orderRepo, paymentRepo, userRepo, machine, probe,
		application.Events, service.NewLogReporter(log), service.CheckoutOptions{
			AdvanceAttempts: cfg.Checkout.AdvanceAttempts,
			LockTimeout:     cfg.Checkout.LockTimeout,
		})

	// эндпоинт для аутентификации
	router.Post("/api/auth", handlers.AuthHandler(log, authService))
	// возврат с 3-D Secure приходит из браузера формой провайдера, без токена
	router.Post("/api/checkout/{orderID}/3ds", handlers.ThreeDSCallbackHandler(log, checkoutService))

	router.Group(func(r chi.Router) {
		r.Use(jwtmiddleware.NewJWTMiddleware())
		// шаг оформления заказа
		r.Put("/api/checkout/{orderID}", handlers.CheckoutHandler(log, checkoutService))

		r.Group(func(r chi.Router) {
			r.Use(jwtmiddleware.RequireRole(models.RoleAdmin))
			r.Post("/api/admin/vendors/{vendorID}/submerchant", handlers.RegisterSubmerchantHandler(log, registry))
			r.Get("/api/admin/vendors/{vendorID}/submerchant", handlers.GetSubmerchantHandler(log, registry))
			r.Delete("/api/admin/vendors/{vendorID}/submerchant", handlers.DeleteSubmerchantHandler(log, registry))
		})
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("starting server", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.Any("error", err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	stopSign := <-stop
	log.Info("received shutdown signal", slog.String("signal", stopSign.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", slog.Any("error", err))
	}
	log.Info("server gracefully stopped")
}

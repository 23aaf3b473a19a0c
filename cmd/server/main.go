package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/marketplace-settlement/internal/app"
	"github.com/ignatzorin/marketplace-settlement/internal/config"
	httpHandlers "github.com/ignatzorin/marketplace-settlement/internal/http/handlers"
	httpRouter "github.com/ignatzorin/marketplace-settlement/internal/http/router"
	"github.com/ignatzorin/marketplace-settlement/internal/logger"
	"github.com/ignatzorin/marketplace-settlement/internal/scheduler"
	"github.com/ignatzorin/marketplace-settlement/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	if cfg.Env == "development" {
		logger.Init("debug")
		logger.SetTextFormatter()
	} else {
		logger.Init("info")
	}

	// Вебсокеты. Hub живёт до сигнала остановки.
	hub := ws.NewHub()
	go hub.Run(ctx)

	settlement, err := app.Build(ctx, cfg, hub)
	if err != nil {
		logger.L().WithError(err).Fatal("main: не удалось собрать сервисы")
	}
	defer settlement.Close()

	// Фоновые задачи: авто-освобождение, сверка и плановые выплаты.
	jobs, err := scheduler.NewManager(ctx)
	if err != nil {
		logger.L().WithError(err).Fatal("main: не удалось создать планировщик")
	}
	if err := jobs.RegisterJobs(cfg, settlement.Escrows, settlement.Payouts); err != nil {
		logger.L().WithError(err).Fatal("main: не удалось зарегистрировать задачи")
	}
	jobs.Start()
	defer jobs.Stop()

	// HTTP хэндлеры.
	escrowHandler := httpHandlers.NewEscrowHandler(settlement.Escrows, cfg.DefaultCurrency)
	commissionHandler := httpHandlers.NewCommissionHandler(settlement.Commissions)
	payoutHandler := httpHandlers.NewPayoutHandler(settlement.Payouts)
	notificationHandler := httpHandlers.NewNotificationHandler(settlement.Notifications)
	healthHandler := httpHandlers.NewHealthHandler(settlement.DB, cfg.Gateway.Provider)
	wsHandler := httpHandlers.NewWSHandler(hub, settlement.Tokens, cfg.AllowedOrigins)

	engine := httpRouter.SetupRouter(cfg, escrowHandler, commissionHandler, payoutHandler, notificationHandler, healthHandler, wsHandler, settlement.Tokens)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.L().WithError(err).Error("main: ошибка остановки http сервера")
		}
	}()

	logger.L().WithFields(logrus.Fields{
		"port":    cfg.HTTPPort,
		"gateway": cfg.Gateway.Provider,
		"jobs":    jobs.Jobs(),
	}).Info("main: HTTP сервер запущен")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.L().WithError(err).Error("main: сервер завершился с ошибкой")
	}
}

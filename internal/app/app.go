// Package app собирает зависимости сервиса расчётов: базу, шлюз и доменные сервисы.
// Им пользуются и HTTP-сервер, и CLI.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/marketplace-settlement/internal/config"
	"github.com/ignatzorin/marketplace-settlement/internal/db"
	"github.com/ignatzorin/marketplace-settlement/internal/gateway"
	"github.com/ignatzorin/marketplace-settlement/internal/logger"
	"github.com/ignatzorin/marketplace-settlement/internal/repository"
	"github.com/ignatzorin/marketplace-settlement/internal/service"
)

// App готовые сервисы поверх одного подключения к базе.
type App struct {
	DB            *sqlx.DB
	Gateway       gateway.Gateway
	Tokens        *service.TokenManager
	Notifications *service.NotificationService
	Escrows       *service.EscrowService
	Commissions   *service.CommissionService
	Payouts       *service.PayoutService
}

// Build подключается к базе, применяет миграции и собирает сервисы.
// pusher доставляет уведомления онлайн-пользователям и может быть nil.
func Build(ctx context.Context, cfg *config.Config, pusher service.NotificationPusher) (*App, error) {
	conn, err := db.NewPostgres(ctx, cfg.DatabaseURL, db.DefaultPoolOptions())
	if err != nil {
		return nil, err
	}

	if _, err := db.RunMigrations(ctx, conn, cfg.MigrationsPath); err != nil {
		_ = conn.Close()
		return nil, err
	}

	a, err := wire(conn, cfg, pusher)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return a, nil
}

func wire(conn *sqlx.DB, cfg *config.Config, pusher service.NotificationPusher) (*App, error) {
	gw, err := gateway.New(cfg.Gateway)
	if err != nil {
		return nil, err
	}

	platformFee, err := decimal.NewFromString(cfg.Commission.PlatformFeePct)
	if err != nil {
		return nil, fmt.Errorf("app: неверный COMMISSION_PLATFORM_FEE_PCT %q: %w", cfg.Commission.PlatformFeePct, err)
	}

	escrowRepo := repository.NewEscrowRepository(conn)
	commissionRepo := repository.NewCommissionRepository(conn)
	orderRepo := repository.NewOrderRepository(conn)
	vendorRepo := repository.NewVendorRepository(conn)
	notificationRepo := repository.NewNotificationRepository(conn)

	notifications := service.NewNotificationService(notificationRepo, pusher)

	commissions, err := service.NewCommissionService(commissionRepo, orderRepo, vendorRepo, notifications, service.CommissionConfig{
		Workers:        cfg.Commission.Workers,
		PerLineItem:    cfg.Commission.PerLineItem,
		PlatformFeePct: platformFee,
	})
	if err != nil {
		return nil, err
	}

	escrows := service.NewEscrowService(escrowRepo, orderRepo, vendorRepo, commissionRepo, gw, notifications, service.EscrowConfig{
		AutoReleaseDays:  cfg.Escrow.AutoReleaseDays,
		AutoReleaseBatch: cfg.Escrow.AutoReleaseBatch,
		AdminUserIDs:     cfg.AdminUserIDs,
	})

	payouts := service.NewPayoutService(commissionRepo, vendorRepo, gw, notifications)

	logger.L().WithField("gateway", cfg.Gateway.Provider).Info("app: сервисы расчётов собраны")

	return &App{
		DB:            conn,
		Gateway:       gw,
		Tokens:        service.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL),
		Notifications: notifications,
		Escrows:       escrows,
		Commissions:   commissions,
		Payouts:       payouts,
	}, nil
}

// Close останавливает пул воркеров и закрывает базу.
func (a *App) Close() {
	a.Commissions.Close()
	if err := a.DB.Close(); err != nil {
		logger.L().WithError(err).Warn("app: ошибка закрытия базы")
	}
}

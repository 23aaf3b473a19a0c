package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ignatzorin/marketplace-settlement/internal/app"
	"github.com/ignatzorin/marketplace-settlement/internal/config"
	"github.com/ignatzorin/marketplace-settlement/internal/dto"
	"github.com/ignatzorin/marketplace-settlement/internal/service"
)

func autoReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auto-release",
		Short: "Освободить удержания с истёкшим сроком подтверждения",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, _ *config.Config, a *app.App) error {
				n, err := a.Escrows.AutoReleaseDue(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "освобождено сделок: %d\n", n)
				return nil
			})
		},
	}
}

func commissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commissions",
		Short: "Расчёт и просмотр комиссий",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "calculate [order-id]",
		Short: "Рассчитать комиссии по заказу",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("неверный order-id: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, _ *config.Config, a *app.App) error {
				result, err := a.Commissions.CalculateOrderCommissions(ctx, orderID)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list [order-id]",
		Short: "Показать комиссии заказа",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("неверный order-id: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, _ *config.Config, a *app.App) error {
				items, err := a.Commissions.ListOrderCommissions(ctx, orderID)
				if err != nil {
					return err
				}
				return printJSON(cmd, dto.NewListResponse(items, len(items), 0))
			})
		},
	})

	return cmd
}

func payoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payout [vendor-id]",
		Short: "Выплатить продавцу pending-комиссии (или всем продавцам с --all)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			rawIDs, _ := cmd.Flags().GetStringSlice("commission")

			if all {
				if len(args) > 0 || len(rawIDs) > 0 {
					return fmt.Errorf("--all нельзя совмещать с vendor-id и --commission")
				}
				return withApp(cmd, func(ctx context.Context, _ *config.Config, a *app.App) error {
					n, err := a.Payouts.PayAllPending(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "выполнено пакетов выплат: %d\n", n)
					return nil
				})
			}

			if len(args) != 1 {
				return fmt.Errorf("укажите vendor-id или --all")
			}
			vendorID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("неверный vendor-id: %w", err)
			}
			ids := make([]uuid.UUID, 0, len(rawIDs))
			for _, raw := range rawIDs {
				id, err := uuid.Parse(raw)
				if err != nil {
					return fmt.Errorf("неверный commission id %q: %w", raw, err)
				}
				ids = append(ids, id)
			}

			return withApp(cmd, func(ctx context.Context, _ *config.Config, a *app.App) error {
				batch, err := a.Payouts.ProcessVendorPayout(ctx, vendorID, ids)
				if err != nil {
					return err
				}
				return printJSON(cmd, dto.NewPayoutResponse(batch))
			})
		},
	}

	cmd.Flags().Bool("all", false, "Выплатить всем продавцам с pending-комиссиями")
	cmd.Flags().StringSliceP("commission", "c", nil, "Ограничить выплату этими комиссиями")

	return cmd
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Закрыть или вернуть в pending выплаты, застрявшие в processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			return withApp(cmd, func(ctx context.Context, cfg *config.Config, a *app.App) error {
				if olderThan <= 0 {
					olderThan = cfg.Payout.StuckAfter
				}
				n, err := a.Payouts.ReconcileStuckPayouts(ctx, olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "сверено пакетов: %d\n", n)
				return nil
			})
		},
	}

	cmd.Flags().Duration("older-than", 0, "Возраст зависшей выплаты (по умолчанию PAYOUT_STUCK_AFTER)")

	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Выпустить access-токен для служебных вызовов API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("неверный user-id: %w", err)
			}
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.AccessTokenTTL
			}

			token, exp, err := service.NewTokenManager(cfg.JWTSecret, ttl).GenerateAccess(userID, role)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"access_token": token,
				"expires_at":   exp.UTC().Format(time.RFC3339),
				"role":         role,
			})
		},
	}

	cmd.Flags().String("role", "admin", "Роль: buyer, vendor или admin")
	cmd.Flags().Duration("ttl", 0, "Срок жизни токена (по умолчанию JWT_ACCESS_TTL)")

	return cmd
}

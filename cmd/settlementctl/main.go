package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ignatzorin/marketplace-settlement/internal/app"
	"github.com/ignatzorin/marketplace-settlement/internal/config"
	"github.com/ignatzorin/marketplace-settlement/internal/logger"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "settlementctl",
		Short:         "Операции расчётов маркетплейса: авто-освобождение, комиссии, выплаты",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("log-level", "info", "Уровень логов")

	rootCmd.AddCommand(autoReleaseCmd())
	rootCmd.AddCommand(commissionsCmd())
	rootCmd.AddCommand(payoutCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp собирает сервисы для одной команды. Уведомления доставляются синхронно,
// иначе процесс завершится раньше, чем они сохранятся.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, a *app.App) error) error {
	level, _ := cmd.Flags().GetString("log-level")
	logger.Init(level)
	logger.SetTextFormatter()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	a.Notifications.Synchronous()

	return fn(ctx, cfg, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

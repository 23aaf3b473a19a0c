package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/marketplace-settlement/internal/config"
	"github.com/ignatzorin/marketplace-settlement/internal/goroutine"
	"github.com/ignatzorin/marketplace-settlement/internal/logger"
)

// Job периодическая задача расчётов.
type Job interface {
	Name() string
	Schedule() gocron.JobDefinition
	Execute(ctx context.Context)
}

// Manager планировщик фоновых задач.
type Manager struct {
	scheduler gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewManager создаёт планировщик. ctx ограничивает время жизни всех задач.
func NewManager(ctx context.Context) (*Manager, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("scheduler: create %w", err)
	}
	jobCtx, cancel := context.WithCancel(ctx)
	return &Manager{scheduler: s, ctx: jobCtx, cancel: cancel}, nil
}

// RegisterJobs регистрирует задачи из конфигурации. Задача с нулевым интервалом пропускается.
func (m *Manager) RegisterJobs(cfg *config.Config, escrows AutoReleaser, payouts PayoutRunner) error {
	jobs := []Job{
		NewAutoReleaseJob(escrows, cfg.Escrow.AutoReleaseInterval),
		NewReconcileJob(payouts, cfg.Payout.StuckAfter),
	}
	if cfg.Payout.SweepInterval > 0 {
		jobs = append(jobs, NewPayoutSweepJob(payouts, cfg.Payout.SweepInterval))
	}

	for _, job := range jobs {
		if err := m.Register(job); err != nil {
			return err
		}
	}
	return nil
}

// Register добавляет задачу. Пока предыдущий запуск не завершился, новый не стартует.
func (m *Manager) Register(job Job) error {
	_, err := m.scheduler.NewJob(
		job.Schedule(),
		gocron.NewTask(func() { m.run(job) }),
		gocron.WithName(job.Name()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduler: register %s %w", job.Name(), err)
	}
	return nil
}

func (m *Manager) run(job Job) {
	if m.ctx.Err() != nil {
		return
	}
	defer goroutine.Recover(job.Name())

	started := time.Now()
	entry := logger.L().WithField("job", job.Name())
	entry.Debug("задача запущена")

	job.Execute(m.ctx)

	entry.WithFields(logrus.Fields{"took": time.Since(started).String()}).Debug("задача завершена")
}

// Jobs возвращает имена зарегистрированных задач.
func (m *Manager) Jobs() []string {
	jobs := m.scheduler.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

// Start запускает планировщик.
func (m *Manager) Start() {
	m.scheduler.Start()
	logger.L().WithField("jobs", m.Jobs()).Info("планировщик запущен")
}

// Stop отменяет текущие задачи и дожидается их завершения.
func (m *Manager) Stop() {
	m.cancel()
	if err := m.scheduler.Shutdown(); err != nil {
		logger.L().WithError(err).Error("не удалось остановить планировщик")
		return
	}
	logger.L().Info("планировщик остановлен")
}

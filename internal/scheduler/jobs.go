package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/ignatzorin/marketplace-settlement/internal/logger"
)

// AutoReleaser освобождает сделки с истёкшим сроком.
type AutoReleaser interface {
	AutoReleaseDue(ctx context.Context) (int, error)
}

// PayoutRunner выплаты продавцам.
type PayoutRunner interface {
	PayAllPending(ctx context.Context) (int, error)
	ReconcileStuckPayouts(ctx context.Context, olderThan time.Duration) (int, error)
}

const (
	JobAutoRelease = "escrow_auto_release"
	JobPayoutSweep = "payout_sweep"
	JobReconcile   = "payout_reconcile"
)

// AutoReleaseJob освобождает удержания, по которым покупатель не ответил в срок.
type AutoReleaseJob struct {
	escrows  AutoReleaser
	interval time.Duration
}

func NewAutoReleaseJob(escrows AutoReleaser, interval time.Duration) *AutoReleaseJob {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &AutoReleaseJob{escrows: escrows, interval: interval}
}

func (j *AutoReleaseJob) Name() string { return JobAutoRelease }

func (j *AutoReleaseJob) Schedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

func (j *AutoReleaseJob) Execute(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, j.interval)
	defer cancel()

	n, err := j.escrows.AutoReleaseDue(ctx)
	entry := logger.L().WithField("job", JobAutoRelease)
	if err != nil {
		entry.WithError(err).Error("авто-освобождение не выполнено")
		return
	}
	if n > 0 {
		entry.WithField("released", n).Info("удержания освобождены по сроку")
	}
}

// PayoutSweepJob выплачивает всем продавцам накопленные комиссии.
type PayoutSweepJob struct {
	payouts  PayoutRunner
	interval time.Duration
}

func NewPayoutSweepJob(payouts PayoutRunner, interval time.Duration) *PayoutSweepJob {
	return &PayoutSweepJob{payouts: payouts, interval: interval}
}

func (j *PayoutSweepJob) Name() string { return JobPayoutSweep }

func (j *PayoutSweepJob) Schedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

func (j *PayoutSweepJob) Execute(ctx context.Context) {
	n, err := j.payouts.PayAllPending(ctx)
	entry := logger.L().WithField("job", JobPayoutSweep)
	if err != nil {
		entry.WithError(err).Error("плановая выплата не выполнена")
		return
	}
	entry.WithField("batches_paid", n).Info("плановая выплата завершена")
}

// ReconcileJob дозакрывает пакеты выплат, застрявшие в processing.
type ReconcileJob struct {
	payouts    PayoutRunner
	stuckAfter time.Duration
}

func NewReconcileJob(payouts PayoutRunner, stuckAfter time.Duration) *ReconcileJob {
	if stuckAfter <= 0 {
		stuckAfter = 30 * time.Minute
	}
	return &ReconcileJob{payouts: payouts, stuckAfter: stuckAfter}
}

func (j *ReconcileJob) Name() string { return JobReconcile }

// Schedule проверяет застрявшие пакеты вдвое чаще порога.
func (j *ReconcileJob) Schedule() gocron.JobDefinition {
	return gocron.DurationJob(j.stuckAfter / 2)
}

func (j *ReconcileJob) Execute(ctx context.Context) {
	n, err := j.payouts.ReconcileStuckPayouts(ctx, j.stuckAfter)
	entry := logger.L().WithField("job", JobReconcile)
	if err != nil {
		entry.WithError(err).Error("сверка выплат не выполнена")
		return
	}
	if n > 0 {
		entry.WithField("batches", n).Warn("закрыты зависшие пакеты выплат")
	}
}

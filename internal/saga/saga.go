package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/marketplace-settlement/internal/logger"
)

// Статусы шага саги.
const (
	StepPending            = "pending"
	StepCompleted          = "completed"
	StepFailed             = "failed"
	StepCompensated        = "compensated"
	StepCompensationFailed = "compensation_failed"
)

// Action действие или компенсация шага.
type Action func(ctx context.Context) error

// Step шаг саги. Compensate может быть nil, если шаг не откатывается
// (уведомления, финальный возврат средств).
type Step struct {
	Name       string
	Action     Action
	Compensate Action
}

// StepRecord журнал выполнения одного шага.
type StepRecord struct {
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	ExecutedAt time.Time `json:"executed_at,omitempty"`
}

// StepError ошибка шага, остановившая сагу.
type StepError struct {
	Saga string
	Step string
	Err  error
	// CompensationFailed выставляется, если хотя бы одна компенсация не прошла.
	CompensationFailed bool
}

func (e *StepError) Error() string {
	return fmt.Sprintf("saga %s: step %s: %v", e.Saga, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Saga упорядоченный список шагов. Шаги выполняются последовательно; при ошибке шага N
// компенсации шагов 1..N-1 запускаются в обратном порядке.
type Saga struct {
	name   string
	fields logrus.Fields
	steps  []Step
	now    func() time.Time
}

// New создаёт сагу; fields попадают в каждую запись лога (например, escrow_id).
func New(name string, fields logrus.Fields) *Saga {
	if fields == nil {
		fields = logrus.Fields{}
	}
	return &Saga{name: name, fields: fields, now: func() time.Time { return time.Now().UTC() }}
}

// Step добавляет шаг.
func (s *Saga) Step(name string, action, compensate Action) *Saga {
	s.steps = append(s.steps, Step{Name: name, Action: action, Compensate: compensate})
	return s
}

// Name возвращает имя саги.
func (s *Saga) Name() string {
	return s.name
}

// Run выполняет шаги. Возвращает журнал шагов и *StepError при неудаче.
func (s *Saga) Run(ctx context.Context) ([]StepRecord, error) {
	records := make([]StepRecord, len(s.steps))
	for i, step := range s.steps {
		records[i] = StepRecord{Name: step.Name, Status: StepPending}
	}

	for i, step := range s.steps {
		entry := s.log(step.Name)

		if err := step.Action(ctx); err != nil {
			records[i].Status = StepFailed
			records[i].Error = err.Error()
			records[i].ExecutedAt = s.now()
			entry.WithError(err).Warn("шаг саги завершился ошибкой, запускаем компенсацию")

			compensationFailed := s.compensate(ctx, records, i)
			return records, &StepError{Saga: s.name, Step: step.Name, Err: err, CompensationFailed: compensationFailed}
		}

		records[i].Status = StepCompleted
		records[i].ExecutedAt = s.now()
		entry.Debug("шаг саги выполнен")
	}

	return records, nil
}

// compensate откатывает шаги, выполненные до failed, в обратном порядке.
// Компенсация выполняется даже при отменённом контексте запроса.
func (s *Saga) compensate(ctx context.Context, records []StepRecord, failed int) bool {
	cctx := context.WithoutCancel(ctx)
	anyFailed := false

	for i := failed - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}

		entry := s.log(step.Name)
		if err := step.Compensate(cctx); err != nil {
			anyFailed = true
			records[i].Status = StepCompensationFailed
			records[i].Error = err.Error()
			entry.WithError(err).WithField("manual_intervention", true).
				Error("компенсация шага саги не выполнена, требуется ручное вмешательство")
			continue
		}

		records[i].Status = StepCompensated
		records[i].ExecutedAt = s.now()
		entry.Info("шаг саги компенсирован")
	}

	return anyFailed
}

func (s *Saga) log(step string) *logrus.Entry {
	return logger.Saga(s.name, step).WithFields(s.fields)
}

package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/ignatzorin/marketplace-settlement/internal/domain/valueobject"
	"github.com/ignatzorin/marketplace-settlement/internal/pkg/apperror"
)

type sandboxIntentState string

const (
	sandboxHeld      sandboxIntentState = "requires_capture"
	sandboxCaptured  sandboxIntentState = "succeeded"
	sandboxCancelled sandboxIntentState = "canceled"
	sandboxRefunded  sandboxIntentState = "refunded"
)

type sandboxIntent struct {
	id       string
	amount   valueobject.Money
	captured valueobject.Money
	state    sandboxIntentState
	captures int
}

// SandboxGateway шлюз в памяти для локальной разработки и тестов.
// Повтор с тем же ключом идемпотентности возвращает прежний результат.
type SandboxGateway struct {
	mu        sync.Mutex
	seq       int
	intents   map[string]*sandboxIntent
	holdKeys  map[string]string
	transfers map[string]string
	sent      map[string]valueobject.Money
	failNext  map[string]error
}

func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{
		intents:   make(map[string]*sandboxIntent),
		holdKeys:  make(map[string]string),
		transfers: make(map[string]string),
		sent:      make(map[string]valueobject.Money),
		failNext:  make(map[string]error),
	}
}

// FailNext заставляет следующий вызов операции op ("hold", "capture", "cancel",
// "refund", "transfer") вернуть err.
func (g *SandboxGateway) FailNext(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext[op] = err
}

func (g *SandboxGateway) injected(op string) error {
	if err, ok := g.failNext[op]; ok {
		delete(g.failNext, op)
		return err
	}
	return nil
}

func (g *SandboxGateway) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_sandbox_%06d", prefix, g.seq)
}

func (g *SandboxGateway) Hold(_ context.Context, req HoldRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.injected("hold"); err != nil {
		return "", err
	}
	if req.IdempotencyKey != "" {
		if id, ok := g.holdKeys[req.IdempotencyKey]; ok {
			return id, nil
		}
	}
	if req.PaymentMethodID == "" {
		return "", ErrPaymentMethodRequired
	}
	if !req.Amount.Amount.IsPositive() {
		return "", ErrDeclined
	}

	id := g.nextID("pi")
	g.intents[id] = &sandboxIntent{id: id, amount: req.Amount, state: sandboxHeld}
	if req.IdempotencyKey != "" {
		g.holdKeys[req.IdempotencyKey] = id
	}
	return id, nil
}

func (g *SandboxGateway) Capture(_ context.Context, intentID string, amount *valueobject.Money, _ string) (Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.injected("capture"); err != nil {
		return Receipt{}, err
	}
	intent, ok := g.intents[intentID]
	if !ok {
		return Receipt{}, apperror.New(apperror.ErrCodeNotFound, "payment intent не найден")
	}
	if intent.state != sandboxHeld {
		return Receipt{}, ErrInvalidState
	}

	captured := intent.amount
	if amount != nil {
		if amount.Currency != intent.amount.Currency || amount.Amount.GreaterThan(intent.amount.Amount) {
			return Receipt{}, ErrDeclined
		}
		captured = *amount
	}
	intent.captured = captured
	intent.state = sandboxCaptured
	intent.captures++
	return Receipt{ID: intent.id, Amount: captured}, nil
}

func (g *SandboxGateway) Cancel(_ context.Context, intentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.injected("cancel"); err != nil {
		return err
	}
	intent, ok := g.intents[intentID]
	if !ok {
		return apperror.New(apperror.ErrCodeNotFound, "payment intent не найден")
	}
	switch intent.state {
	case sandboxCancelled:
		return nil
	case sandboxHeld:
		intent.state = sandboxCancelled
		return nil
	default:
		return ErrInvalidState
	}
}

func (g *SandboxGateway) Refund(_ context.Context, intentID string, _ string) (Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.injected("refund"); err != nil {
		return Receipt{}, err
	}
	intent, ok := g.intents[intentID]
	if !ok {
		return Receipt{}, apperror.New(apperror.ErrCodeNotFound, "payment intent не найден")
	}
	if intent.state != sandboxCaptured {
		return Receipt{}, ErrInvalidState
	}
	intent.state = sandboxRefunded
	return Receipt{ID: "re_" + intent.id, Amount: intent.captured}, nil
}

func (g *SandboxGateway) Transfer(_ context.Context, req TransferRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.injected("transfer"); err != nil {
		return "", err
	}
	if req.IdempotencyKey != "" {
		if id, ok := g.transfers[req.IdempotencyKey]; ok {
			return id, nil
		}
	}
	if req.Destination == "" || !req.Amount.Amount.IsPositive() {
		return "", ErrDeclined
	}

	id := g.nextID("tr")
	g.sent[id] = req.Amount
	if req.IdempotencyKey != "" {
		g.transfers[req.IdempotencyKey] = id
	}
	return id, nil
}

// IntentState возвращает состояние удержания ("" если не найдено).
func (g *SandboxGateway) IntentState(intentID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if intent, ok := g.intents[intentID]; ok {
		return string(intent.state)
	}
	return ""
}

// Captures возвращает число успешных списаний по удержанию.
func (g *SandboxGateway) Captures(intentID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if intent, ok := g.intents[intentID]; ok {
		return intent.captures
	}
	return 0
}

// TransferCount возвращает число выполненных переводов.
func (g *SandboxGateway) TransferCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

package valueobject

import "github.com/ignatzorin/marketplace-settlement/internal/pkg/apperror"

type EscrowStatus string

const (
	EscrowStatusPending           EscrowStatus = "pending"
	EscrowStatusHeld              EscrowStatus = "held"
	EscrowStatusReleased          EscrowStatus = "released"
	EscrowStatusPartiallyReleased EscrowStatus = "partially_released"
	EscrowStatusDisputed          EscrowStatus = "disputed"
	EscrowStatusRefunded          EscrowStatus = "refunded"
	EscrowStatusCancelled         EscrowStatus = "cancelled"
)

var escrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowStatusPending:           {EscrowStatusHeld, EscrowStatusCancelled},
	EscrowStatusHeld:              {EscrowStatusReleased, EscrowStatusDisputed, EscrowStatusRefunded, EscrowStatusPartiallyReleased},
	EscrowStatusReleased:          {EscrowStatusDisputed},
	EscrowStatusDisputed:          {EscrowStatusReleased, EscrowStatusRefunded, EscrowStatusPartiallyReleased},
	EscrowStatusPartiallyReleased: {},
	EscrowStatusRefunded:          {},
	EscrowStatusCancelled:         {},
}

func (s EscrowStatus) IsValid() bool {
	_, ok := escrowTransitions[s]
	return ok
}

func (s EscrowStatus) CanTransitionTo(newStatus EscrowStatus) bool {
	for _, status := range escrowTransitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

// IsTerminal сообщает, что из статуса больше нельзя двигать деньги.
// released остаётся открытым только для спора.
func (s EscrowStatus) IsTerminal() bool {
	switch s {
	case EscrowStatusRefunded, EscrowStatusCancelled, EscrowStatusPartiallyReleased:
		return true
	}
	return false
}

// PayoutEligibleEscrowStatuses статусы, в которых деньги заказа ушли продавцу
// и его комиссии можно выплачивать.
var PayoutEligibleEscrowStatuses = []EscrowStatus{EscrowStatusReleased, EscrowStatusPartiallyReleased}

// AllowsVendorPayout сообщает, что комиссии по заказу с таким escrow можно выплачивать.
func (s EscrowStatus) AllowsVendorPayout() bool {
	for _, status := range PayoutEligibleEscrowStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func NewEscrowStatus(status string) (EscrowStatus, error) {
	s := EscrowStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус escrow")
	}
	return s, nil
}

type CommissionStatus string

const (
	CommissionStatusPending    CommissionStatus = "pending"
	CommissionStatusProcessing CommissionStatus = "processing"
	CommissionStatusPaid       CommissionStatus = "paid"
	CommissionStatusFailed     CommissionStatus = "failed"
	CommissionStatusRefunded   CommissionStatus = "refunded"
)

var commissionTransitions = map[CommissionStatus][]CommissionStatus{
	CommissionStatusPending:    {CommissionStatusProcessing, CommissionStatusRefunded},
	CommissionStatusProcessing: {CommissionStatusPaid, CommissionStatusPending, CommissionStatusFailed},
	CommissionStatusFailed:     {CommissionStatusPending},
	CommissionStatusPaid:       {},
	CommissionStatusRefunded:   {},
}

func (s CommissionStatus) IsValid() bool {
	_, ok := commissionTransitions[s]
	return ok
}

func (s CommissionStatus) CanTransitionTo(newStatus CommissionStatus) bool {
	for _, status := range commissionTransitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

func NewCommissionStatus(status string) (CommissionStatus, error) {
	s := CommissionStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус комиссии")
	}
	return s, nil
}

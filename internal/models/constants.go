package models

import "github.com/google/uuid"

// Роли пользователей, которые приходят в access-токене.
const (
	RoleBuyer  = "buyer"
	RoleVendor = "vendor"
	RoleAdmin  = "admin"
	// RoleSystem не выдаётся пользователям: от её имени работают плановые задачи.
	RoleSystem = "system"
)

// ValidRoles список ролей, допустимых в токене.
var ValidRoles = map[string]struct{}{
	RoleBuyer:  {},
	RoleVendor: {},
	RoleAdmin:  {},
}

// Actor инициатор операции.
type Actor struct {
	ID   uuid.UUID
	Role string
}

// SystemActor инициатор плановых задач (авто-освобождение, выплаты по расписанию).
var SystemActor = Actor{Role: RoleSystem}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

func (a Actor) IsSystem() bool {
	return a.Role == RoleSystem
}

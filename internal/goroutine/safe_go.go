// Package goroutine запускает фоновую работу так, чтобы panic не ронял процесс.
package goroutine

import (
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/marketplace-settlement/internal/logger"
)

// Go запускает именованную фоновую задачу с перехватом panic.
func Go(task string, fn func()) {
	go func() {
		defer Recover(task)
		fn()
	}()
}

// Recover пишет перехваченную panic в лог вместе со стеком. Вызывать только через defer.
func Recover(task string) {
	if r := recover(); r != nil {
		logger.L().WithFields(logrus.Fields{
			"task":  task,
			"stack": string(debug.Stack()),
		}).Errorf("panic в фоновой задаче: %v", r)
	}
}

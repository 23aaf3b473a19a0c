package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

var Log *logrus.Logger

// fallback используется, пока Init не вызван (например, в unit-тестах).
var fallback = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Init инициализирует структурированный логгер.
func Init(level string) {
	Log = logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	// Используем JSON формат для production, text для development
	Log.SetFormatter(&logrus.JSONFormatter{})
}

// SetTextFormatter устанавливает текстовый формат логов (для development).
func SetTextFormatter() {
	if Log != nil {
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}

// L возвращает глобальный логгер или заглушку, если логгер ещё не инициализирован.
func L() *logrus.Logger {
	if Log != nil {
		return Log
	}
	return fallback
}

// Saga возвращает запись лога с полями шага саги.
func Saga(saga, step string) *logrus.Entry {
	return L().WithFields(logrus.Fields{
		"saga": saga,
		"step": step,
	})
}

// Package validation проверяет свободный текст, который пользователи оставляют в сделках.
package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ignatzorin/marketplace-settlement/internal/pkg/apperror"
)

const (
	MaxDisputeReasonLength = 2000
	MaxNotesLength         = 2000
)

// ValidateLength проверяет длину строки в символах.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("%s должен быть не менее %d символов", fieldName, min))
	}
	if max > 0 && length > max {
		return apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("%s должен быть не более %d символов", fieldName, max))
	}
	return nil
}

// FreeText обрезает пробелы по краям и отклоняет управляющие символы, кроме переводов строк и табуляции.
// Пустая строка допустима: обязательность проверяет вызывающий.
func FreeText(fieldName, value string, max int) (string, error) {
	value = strings.TrimSpace(value)
	if !utf8.ValidString(value) {
		return "", apperror.New(apperror.ErrCodeValidation, fieldName+" содержит некорректную кодировку")
	}
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return "", apperror.New(apperror.ErrCodeValidation, fieldName+" содержит недопустимые символы")
		}
	}
	if err := ValidateLength(fieldName, value, 0, max); err != nil {
		return "", err
	}
	return value, nil
}

// DisputeReason причина спора.
func DisputeReason(reason string) (string, error) {
	return FreeText("reason", reason, MaxDisputeReasonLength)
}

// Notes комментарий администратора к возврату или решению спора.
func Notes(notes string) (string, error) {
	return FreeText("notes", notes, MaxNotesLength)
}

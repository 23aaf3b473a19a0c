package valueobject

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/marketplace-settlement/internal/pkg/apperror"
)

// Валюты без дробной части (ISO 4217 exponent 0), как их понимают карточные процессоры.
var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {}, "krw": {},
	"mga": {}, "pyg": {}, "rwf": {}, "ugx": {}, "vnd": {}, "vuv": {}, "xaf": {},
	"xof": {}, "xpf": {},
}

// Валюты с тремя знаками после запятой.
var threeDecimalCurrencies = map[string]struct{}{
	"bhd": {}, "jod": {}, "kwd": {}, "omr": {}, "tnd": {},
}

var hundred = decimal.NewFromInt(100)

// NormalizeCurrency приводит код валюты к нижнему регистру и проверяет формат.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", apperror.New(apperror.ErrCodeValidation, "код валюты должен состоять из трёх букв")
	}
	for _, r := range code {
		if r < 'a' || r > 'z' {
			return "", apperror.New(apperror.ErrCodeValidation, "код валюты должен состоять из трёх букв")
		}
	}
	return code, nil
}

// MaxMinorUnitExponent наибольшее число знаков минорной единицы среди поддерживаемых валют.
// Денежные колонки хранилища должны держать не меньше знаков.
const MaxMinorUnitExponent int32 = 3

// MinorUnitExponent возвращает количество знаков минорной единицы валюты.
func MinorUnitExponent(currency string) int32 {
	c := strings.ToLower(currency)
	if _, ok := zeroDecimalCurrencies[c]; ok {
		return 0
	}
	if _, ok := threeDecimalCurrencies[c]; ok {
		return 3
	}
	return 2
}

type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NewMoney создаёт денежную сумму; сумма не может быть отрицательной.
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	if amount.IsNegative() {
		return Money{}, apperror.New(apperror.ErrCodeValidation, "сумма не может быть отрицательной")
	}
	cur, err := NormalizeCurrency(currency)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: amount, Currency: cur}, nil
}

// NewPositiveMoney как NewMoney, но требует строго положительную сумму.
func NewPositiveMoney(amount decimal.Decimal, currency string) (Money, error) {
	m, err := NewMoney(amount, currency)
	if err != nil {
		return Money{}, err
	}
	if !m.Amount.IsPositive() {
		return Money{}, apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
	}
	if !m.Amount.Equal(m.Round().Amount) {
		return Money{}, apperror.New(apperror.ErrCodeValidation,
			fmt.Sprintf("сумма содержит больше %d знаков после запятой для валюты %s", MinorUnitExponent(m.Currency), m.Currency))
	}
	return m, nil
}

// Round округляет сумму до минорной единицы валюты (half away from zero).
func (m Money) Round() Money {
	return Money{Amount: m.Amount.Round(MinorUnitExponent(m.Currency)), Currency: m.Currency}
}

// Percent возвращает round(amount * rate / 100) в минорных единицах валюты.
func (m Money) Percent(rate decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(rate).Div(hundred), Currency: m.Currency}.Round()
}

// Sub вычитает сумму той же валюты.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, apperror.New(apperror.ErrCodeValidation, "нельзя вычитать суммы в разных валютах")
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// MinorUnits переводит сумму в целое число минорных единиц (центы и т.п.).
func (m Money) MinorUnits() int64 {
	return m.Round().Amount.Shift(MinorUnitExponent(m.Currency)).IntPart()
}

// FromMinorUnits обратное преобразование для ответов платёжного шлюза.
func FromMinorUnits(units int64, currency string) Money {
	return Money{
		Amount:   decimal.NewFromInt(units).Shift(-MinorUnitExponent(currency)),
		Currency: strings.ToLower(currency),
	}
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(MinorUnitExponent(m.Currency)), strings.ToUpper(m.Currency))
}

// ValidateRate проверяет процент комиссии: 0 <= rate <= 100.
func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return apperror.New(apperror.ErrCodeValidation, "процент комиссии должен быть в диапазоне 0..100")
	}
	return nil
}

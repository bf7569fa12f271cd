// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: ошибки, русская плюрализация, форматирование сумм и дат.
package common

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PluralizeDays возвращает правильную форму слова «день» для числа n.
//
// Правила:
//   - 1, 21, 31 → "день"
//   - 2-4, 22-24 → "дня"
//   - 5-20, 25-30 → "дней"
func PluralizeDays(n int) string {
	absN := n
	if absN < 0 {
		absN = -absN
	}
	lastDigit := absN % 10
	lastTwoDigits := absN % 100

	if lastDigit == 1 && lastTwoDigits != 11 {
		return "день"
	}
	if lastDigit >= 2 && lastDigit <= 4 && (lastTwoDigits < 12 || lastTwoDigits > 14) {
		return "дня"
	}
	return "дней"
}

// FormatNumber форматирует сумму с разделителями тысяч (пробелами)
// и фиксированным числом знаков после запятой.
//
// Пример: FormatNumber(decimal.RequireFromString("12500.5"), 2) → "12 500.50"
func FormatNumber(d decimal.Decimal, places int32) string {
	s := d.StringFixed(places)

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign = "-"
		s = s[1:]
	}

	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i:]
	}

	// Вставляем пробел каждые три цифры справа налево
	var sb strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			sb.WriteByte(' ')
		}
		sb.WriteRune(r)
	}

	return sign + sb.String() + fracPart
}

// FormatDateTime форматирует время в формат "02.01.2006 15:04" в указанной зоне.
// Если зона не задана — используется UTC.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02.01.2006 15:04")
}

// LoadLocation загружает часовой пояс, при ошибке возвращает UTC.
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

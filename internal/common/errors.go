// Package common — errors.go определяет ошибки, которые используются во всех
// модулях леджера. Обработчики HTTP различают их через errors.Is
// и отдают клиенту стабильный код ошибки.
package common

import (
	"errors"
	"fmt"
)

// ErrValidation — родительская ошибка для некорректного ввода.
// Всё, что её оборачивает, отклоняется до любой мутации.
var ErrValidation = errors.New("некорректный запрос")

// Ошибки валидации
var (
	// ErrInvalidAmount — сумма ноль или отрицательная
	ErrInvalidAmount = fmt.Errorf("%w: сумма должна быть положительной", ErrValidation)
	// ErrInvalidPrecision — слишком много знаков после запятой для актива
	ErrInvalidPrecision = fmt.Errorf("%w: слишком много знаков после запятой", ErrValidation)
	// ErrInvalidAsset — неизвестный тип актива
	ErrInvalidAsset = fmt.Errorf("%w: неизвестный тип актива", ErrValidation)
	// ErrReasonRequired — админ-действие без причины
	ErrReasonRequired = fmt.Errorf("%w: для админ-действия нужна причина", ErrValidation)
	// ErrSelfTransfer — перевод самому себе
	ErrSelfTransfer = fmt.Errorf("%w: нельзя переводить самому себе", ErrValidation)
	// ErrInvalidWallet — адрес кошелька не похож на 0x + 40 hex
	ErrInvalidWallet = fmt.Errorf("%w: некорректный адрес кошелька", ErrValidation)
	// ErrInvalidStatus — недопустимый статус узла или заявки
	ErrInvalidStatus = fmt.Errorf("%w: недопустимый статус", ErrValidation)
)

// Ошибки счетов
var (
	// ErrInsufficientFunds — на счёте недостаточно средств
	ErrInsufficientFunds = errors.New("недостаточно средств на счёте")
	// ErrAssetBlocked — списание этого актива заблокировано
	ErrAssetBlocked = errors.New("актив заблокирован")
	// ErrAccountBlocked — счёт полностью заблокирован
	ErrAccountBlocked = errors.New("счёт заблокирован")
	// ErrAccountNotFound — счёт не найден
	ErrAccountNotFound = errors.New("счёт не найден")
	// ErrAccountExists — счёт уже открыт
	ErrAccountExists = errors.New("счёт уже существует")
	// ErrRecipientNotFound — получатель перевода не найден по email
	ErrRecipientNotFound = errors.New("получатель не найден")
)

// Ошибки узлов и стейков
var (
	// ErrNodeNotFound — узел не найден
	ErrNodeNotFound = errors.New("узел не найден")
	// ErrNodeFull — на узле не хватает свободной ёмкости
	ErrNodeFull = errors.New("на узле недостаточно свободной ёмкости")
	// ErrTargetNodeFull — на целевом узле реорганизации не хватает ёмкости
	ErrTargetNodeFull = errors.New("на целевом узле недостаточно свободной ёмкости")
	// ErrNodeInactive — узел выключен администратором
	ErrNodeInactive = errors.New("узел неактивен")
	// ErrNodeNotEmpty — не удалось вернуть стейки перед удалением узла
	ErrNodeNotEmpty = errors.New("не удалось вернуть стейки узла")
	// ErrStakeNotFound — стейк не найден (или уже снят)
	ErrStakeNotFound = errors.New("стейк не найден")
	// ErrStakeLocked — стейк ещё заблокирован
	ErrStakeLocked = errors.New("стейк ещё заблокирован")
	// ErrSameNode — реорганизация в тот же узел
	ErrSameNode = errors.New("стейк уже находится на этом узле")
)

// Ошибки казначейства и внешних переводов
var (
	// ErrNothingToDistribute — в казначействе нет комиссий для распределения
	ErrNothingToDistribute = errors.New("нет комиссий для распределения")
	// ErrWalletAlreadyUsed — адрес кошелька уже использовался для импорта
	ErrWalletAlreadyUsed = errors.New("кошелёк уже использован")
	// ErrTransferNotFound — заявка на перевод не найдена
	ErrTransferNotFound = errors.New("заявка на перевод не найдена")
	// ErrTransferProcessed — заявка уже обработана в другом статусе
	ErrTransferProcessed = errors.New("заявка уже обработана")
	// ErrNothingToImport — на внешнем кошельке нулевой баланс
	ErrNothingToImport = errors.New("на внешнем кошельке нет токенов")
	// ErrLedgerNotInitialized — казначейство ещё не создано (нет genesis)
	ErrLedgerNotInitialized = errors.New("леджер не инициализирован")
)

// Повторяемые ошибки
var (
	// ErrConcurrencyConflict — конфликт блокировок, можно повторить
	ErrConcurrencyConflict = errors.New("конфликт параллельных изменений, повторите запрос")
	// ErrExternalVerificationTimeout — внешний верификатор не ответил вовремя
	ErrExternalVerificationTimeout = errors.New("внешняя проверка баланса не ответила вовремя")
)

// Ошибки админки
var (
	// ErrUnauthorized — нет или неверный токен
	ErrUnauthorized = errors.New("требуется авторизация")
	// ErrNotAdmin — токен не админский
	ErrNotAdmin = errors.New("у вас нет прав администратора")
	// ErrWrongPassword — неверный логин или пароль
	ErrWrongPassword = errors.New("неверный логин или пароль")
	// ErrTooManyAttempts — слишком много неудачных попыток входа
	ErrTooManyAttempts = errors.New("слишком много попыток, подождите 1 час")
)

// IsRetryable сообщает, можно ли безопасно повторить операцию.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrExternalVerificationTimeout)
}

// Package httpx — общие помощники HTTP-слоя: JSON-ответы, разбор тела,
// отображение ошибок леджера в HTTP-статусы и значения контекста запроса.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/altyn-ledger/internal/common"
)

// ErrorResponse — тело ответа с ошибкой.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"request_id,omitempty"`
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// Конкретные ошибки валидации стоят раньше ErrValidation: они её оборачивают.
var errorMappings = []errorMapping{
	{common.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{common.ErrInvalidPrecision, http.StatusBadRequest, "INVALID_PRECISION"},
	{common.ErrInvalidAsset, http.StatusBadRequest, "INVALID_ASSET"},
	{common.ErrReasonRequired, http.StatusBadRequest, "REASON_REQUIRED"},
	{common.ErrSelfTransfer, http.StatusBadRequest, "SELF_TRANSFER"},
	{common.ErrInvalidWallet, http.StatusBadRequest, "INVALID_WALLET"},
	{common.ErrInvalidStatus, http.StatusBadRequest, "INVALID_STATUS"},
	{common.ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR"},

	{common.ErrInsufficientFunds, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
	{common.ErrAssetBlocked, http.StatusForbidden, "ASSET_BLOCKED"},
	{common.ErrAccountBlocked, http.StatusForbidden, "ACCOUNT_BLOCKED"},
	{common.ErrAccountNotFound, http.StatusNotFound, "ACCOUNT_NOT_FOUND"},
	{common.ErrAccountExists, http.StatusConflict, "ACCOUNT_EXISTS"},
	{common.ErrRecipientNotFound, http.StatusNotFound, "RECIPIENT_NOT_FOUND"},

	{common.ErrNodeNotFound, http.StatusNotFound, "NODE_NOT_FOUND"},
	{common.ErrTargetNodeFull, http.StatusConflict, "TARGET_NODE_FULL"},
	{common.ErrNodeFull, http.StatusConflict, "NODE_FULL"},
	{common.ErrNodeInactive, http.StatusConflict, "NODE_INACTIVE"},
	{common.ErrNodeNotEmpty, http.StatusConflict, "NODE_NOT_EMPTY"},
	{common.ErrStakeNotFound, http.StatusNotFound, "STAKE_NOT_FOUND"},
	{common.ErrStakeLocked, http.StatusConflict, "STAKE_LOCKED"},
	{common.ErrSameNode, http.StatusConflict, "SAME_NODE"},

	{common.ErrNothingToDistribute, http.StatusConflict, "NOTHING_TO_DISTRIBUTE"},
	{common.ErrWalletAlreadyUsed, http.StatusConflict, "WALLET_ALREADY_USED"},
	{common.ErrTransferNotFound, http.StatusNotFound, "TRANSFER_NOT_FOUND"},
	{common.ErrTransferProcessed, http.StatusConflict, "TRANSFER_PROCESSED"},
	{common.ErrNothingToImport, http.StatusUnprocessableEntity, "NOTHING_TO_IMPORT"},
	{common.ErrLedgerNotInitialized, http.StatusServiceUnavailable, "LEDGER_NOT_INITIALIZED"},

	{common.ErrConcurrencyConflict, http.StatusConflict, "CONCURRENCY_CONFLICT"},
	{common.ErrExternalVerificationTimeout, http.StatusGatewayTimeout, "EXTERNAL_VERIFICATION_TIMEOUT"},

	{common.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
	{common.ErrNotAdmin, http.StatusForbidden, "FORBIDDEN"},
	{common.ErrWrongPassword, http.StatusUnauthorized, "WRONG_PASSWORD"},
	{common.ErrTooManyAttempts, http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS"},
}

// StatusOf возвращает HTTP-статус и код ошибки.
func StatusOf(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// JSON пишет v как JSON с заданным статусом.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Ошибка записи JSON-ответа")
	}
}

// Error пишет ошибку в стандартном формате. Внутренние ошибки логируются,
// а клиенту уходит общее сообщение.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusOf(err)
	resp := ErrorResponse{
		Code:      code,
		Message:   err.Error(),
		Retryable: common.IsRetryable(err),
		RequestID: RequestID(r.Context()),
	}
	if status == http.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{
			"request_id": resp.RequestID,
			"path":       r.URL.Path,
		}).Error("Внутренняя ошибка")
		resp.Message = "внутренняя ошибка сервера"
	}
	JSON(w, status, resp)
}

// Decode читает JSON-тело запроса в v. Неизвестные поля отклоняются.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: некорректное тело запроса: %v", common.ErrValidation, err)
	}
	return nil
}

// PathInt64 разбирает числовой параметр пути.
func PathInt64(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: некорректный %s %q", common.ErrValidation, name, raw)
	}
	return v, nil
}

package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodePermissionDenied  ErrorCode = "PERMISSION_DENIED"
	ErrCodeStateConflict     ErrorCode = "STATE_CONFLICT"
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeLockTimeout       ErrorCode = "LOCK_TIMEOUT"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// AppError - типизированная ошибка бизнес-логики со стабильным кодом
// и сообщением для клиента.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodePermissionDenied:
		return http.StatusForbidden
	case ErrCodeStateConflict, ErrCodeLockTimeout:
		return http.StatusConflict
	case ErrCodeValidation, ErrCodeInsufficientFunds:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeNotFound
}

func IsPermissionDenied(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodePermissionDenied
}

func IsStateConflict(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeStateConflict
}

func IsLockTimeout(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeLockTimeout
}

// Не-найдено и конфликты состояния.
var (
	ErrUserNotFound        = New(ErrCodeNotFound, "пользователь не найден")
	ErrGiftNotFound        = New(ErrCodeNotFound, "подарок не найден")
	ErrAuctionNotFound     = New(ErrCodeNotFound, "аукцион не найден или уже завершён")
	ErrOfferNotFound       = New(ErrCodeNotFound, "оффер не найден")
	ErrBundleNotFound      = New(ErrCodeNotFound, "бандл не найден")
	ErrBundleOfferNotFound = New(ErrCodeNotFound, "оффер на бандл не найден")

	ErrAuctionExpired       = New(ErrCodeStateConflict, "аукцион уже истёк")
	ErrAuctionNotExpired    = New(ErrCodeStateConflict, "аукцион ещё не истёк")
	ErrAuctionHasBids       = New(ErrCodeStateConflict, "на аукционе есть ставки, используйте отмену")
	ErrAuctionAlreadyExists = New(ErrCodeStateConflict, "по этому подарку уже идёт аукцион")
	ErrGiftNotAvailable     = New(ErrCodeStateConflict, "подарок недоступен для аукциона")
	ErrGiftNotOnSale        = New(ErrCodeStateConflict, "подарок не выставлен на продажу")
	ErrGiftInBundle         = New(ErrCodeStateConflict, "подарок заблокирован в бандле")
	ErrOfferAlreadyExists   = New(ErrCodeStateConflict, "оффер по этому подарку уже существует")
	ErrBundleNotActive      = New(ErrCodeStateConflict, "бандл не активен")
	ErrBundleOfferExists    = New(ErrCodeStateConflict, "оффер на этот бандл уже существует")

	ErrCannotBidOwnAuction = New(ErrCodePermissionDenied, "нельзя ставить на собственный аукцион")
	ErrCannotOfferOwnGift  = New(ErrCodePermissionDenied, "нельзя делать оффер на собственный подарок")
	ErrCannotBuyOwnBundle  = New(ErrCodePermissionDenied, "нельзя купить собственный бандл")
	ErrNotAuctionOwner     = New(ErrCodePermissionDenied, "только владелец аукциона может это сделать")
	ErrNotGiftOwner        = New(ErrCodePermissionDenied, "только владелец подарка может это сделать")
	ErrOfferPermission     = New(ErrCodePermissionDenied, "нет прав на действие с этим оффером")
	ErrBundlePermission    = New(ErrCodePermissionDenied, "нет прав на действие с этим бандлом")

	ErrUnauthorized = New(ErrCodeUnauthorized, "требуется авторизация")
)

// BidTooLow - ставка ниже рассчитанного минимума.
func BidTooLow(amount, minBid int64) *AppError {
	return New(ErrCodeValidation,
		fmt.Sprintf("ставка %d нанотонов ниже минимальной %d", amount, minBid))
}

// OfferPriceTooLow - цена оффера ниже минимального процента от цены лота.
func OfferPriceTooLow(price, minPrice int64, minPercent int) *AppError {
	return New(ErrCodeValidation,
		fmt.Sprintf("цена оффера %d нанотонов ниже минимальной %d (%d%% от цены)", price, minPrice, minPercent))
}

// InsufficientBalance - доступного баланса не хватает на операцию.
func InsufficientBalance(required, available int64) *AppError {
	return New(ErrCodeInsufficientFunds,
		fmt.Sprintf("недостаточно средств: требуется %d, доступно %d нанотонов", required, available))
}

// InvalidBundleItems - некорректный состав бандла.
func InvalidBundleItems(reason string) *AppError {
	return New(ErrCodeValidation, "некорректный состав бандла: "+reason)
}

// LockTimeout - не удалось получить блокировку ресурса за отведённое
// время; операция безопасна для повтора.
func LockTimeout(key string) *AppError {
	return New(ErrCodeLockTimeout,
		fmt.Sprintf("ресурс %s занят другой операцией, повторите попытку", key))
}

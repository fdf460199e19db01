package common

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tonmarket/gifts-backend/internal/http/middleware"
	"github.com/tonmarket/gifts-backend/internal/pkg/apperror"
)

var (
	// ErrUserNotInContext возвращается, когда auth middleware не положил
	// id пользователя в контекст запроса.
	ErrUserNotInContext = errors.New("пользователь не найден в контексте")
)

// CurrentUserID извлекает id пользователя из gin контекста.
func CurrentUserID(c *gin.Context) (int64, error) {
	raw, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, ErrUserNotInContext
	}

	userID, ok := raw.(int64)
	if !ok {
		return 0, ErrUserNotInContext
	}
	return userID, nil
}

// ParseIDParam парсит числовой id из параметра пути.
func ParseIDParam(c *gin.Context, paramName string) (int64, error) {
	param := c.Param(paramName)
	if param == "" {
		return 0, fmt.Errorf("параметр %s отсутствует", paramName)
	}

	id, err := strconv.ParseInt(param, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("параметр %s должен быть положительным числом", paramName)
	}
	return id, nil
}

// Pagination извлекает limit/offset из query параметров.
func Pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// RespondError отвечает типизированной ошибкой движка: код и статус
// берутся из AppError, неизвестные ошибки маскируются как внутренние.
func RespondError(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, gin.H{
			"error": appErr.Message,
			"code":  appErr.Code,
		})
		return
	}

	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "внутренняя ошибка сервера",
		"code":  apperror.ErrCodeInternal,
	})
}

// RespondUnauthorized отвечает 401.
func RespondUnauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "требуется авторизация"
	}
	c.JSON(http.StatusUnauthorized, gin.H{"error": message, "code": apperror.ErrCodeUnauthorized})
}

// RespondBadRequest отвечает 400.
func RespondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message, "code": apperror.ErrCodeValidation})
}

// RespondList отвечает страницей списка.
func RespondList(c *gin.Context, items interface{}, total int) {
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

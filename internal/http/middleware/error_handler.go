package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/marketplace-settlement/internal/logger"
	"github.com/ignatzorin/marketplace-settlement/internal/pkg/apperror"
	"github.com/ignatzorin/marketplace-settlement/internal/repository"
)

// ErrorHandler обрабатывает ошибки, добавленные хэндлерами через c.Error.
// Внутренние ошибки маскируются, ошибки приложения отдаются с кодом и деталями.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		appErr := classify(err)

		entry := logger.L().WithFields(logrus.Fields{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
			"code":   appErr.Code,
		}).WithError(err)
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			entry.Error("Request error")
		} else {
			entry.Debug("Request error")
		}

		message := appErr.Message
		if appErr.HTTPStatus >= http.StatusInternalServerError && appErr.Code != apperror.ErrCodeUnavailable {
			message = "внутренняя ошибка сервера"
		}

		body := gin.H{"error": message, "code": appErr.Code}
		if len(appErr.Details) > 0 {
			body["details"] = appErr.Details
		}
		if appErr.Retryable() {
			body["retryable"] = true
		}
		c.JSON(appErr.HTTPStatus, body)
	}
}

// classify сводит ошибку к AppError; sentinel-ошибки репозиториев становятся 404/409.
func classify(err error) *apperror.AppError {
	if appErr, ok := apperror.As(err); ok {
		return appErr
	}
	switch {
	case errors.Is(err, repository.ErrEscrowNotFound):
		return apperror.ErrEscrowNotFound
	case errors.Is(err, repository.ErrCommissionNotFound):
		return apperror.ErrCommissionNotFound
	case errors.Is(err, repository.ErrVendorNotFound):
		return apperror.ErrVendorNotFound
	case errors.Is(err, repository.ErrOrderNotFound):
		return apperror.ErrOrderNotFound
	case errors.Is(err, repository.ErrEscrowStatusConflict), errors.Is(err, repository.ErrEscrowOrderExists):
		return apperror.New(apperror.ErrCodeConflict, err.Error())
	default:
		return apperror.Wrap(err, apperror.ErrCodeInternal, "внутренняя ошибка сервера")
	}
}

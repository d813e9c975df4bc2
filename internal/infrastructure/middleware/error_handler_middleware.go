package middleware

import (
	"errors"

	"sharecast/internal/core/domain"
	apperrors "sharecast/pkg/errors"
	"sharecast/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware renders the last handler error. AppErrors keep their
// code and status; other errors are classified first.
func ErrorHandlerMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		appErr := apperrors.GetAppError(err)
		if appErr == nil {
			appErr = classify(err)
		}

		log.Errorw("control request failed",
			logger.Coded("http_request_failed", err,
				"code", appErr.Code,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"context", appErr.Context)...)

		if c.Writer.Written() {
			return
		}
		c.JSON(appErr.HTTPStatus, gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
			"details": appErr.Context,
		})
	}
}

func classify(err error) *apperrors.AppError {
	if errors.Is(err, domain.ErrBridgeClosed) {
		return apperrors.NewServiceUnavailableError("media bridge closed")
	}
	return apperrors.NewInternalError("Internal server error")
}

// RecoveryMiddleware turns handler panics into 500 responses.
func RecoveryMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorw("panic recovered",
					logger.Coded("http_panic", nil,
						"panic", r,
						"path", c.Request.URL.Path,
						"method", c.Request.Method)...)

				appErr := apperrors.NewInternalError("Internal server error")
				c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
					"error":   string(appErr.Code),
					"message": appErr.Message,
				})
			}
		}()

		c.Next()
	}
}

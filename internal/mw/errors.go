package mw

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"planter-backend/internal/apperr"
)

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// AbortWithError writes err as {"error":{"kind","message"}} and stops the chain.
// Wrapped causes are logged, never sent.
func AbortWithError(c *gin.Context, logger *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{
		"kind":    string(kind),
		"message": apperr.Message(err),
	}})
}

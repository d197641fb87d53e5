package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"planter-backend/internal/model"
	"planter-backend/internal/mw"
)

// GetVerifyUser handles GET /api/verify_user. The user guard has already checked the credentials.
func (h *Handler) GetVerifyUser(c *gin.Context) {
	user := c.MustGet(mw.UserKey).(*model.User)
	c.JSON(http.StatusOK, gin.H{"uuid": user.UUID, "name": user.Name})
}

type plotSummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// GetUserPlots handles GET /api/users/:uuid/plots.
func (h *Handler) GetUserPlots(c *gin.Context) {
	plots, err := h.accounts.PlotsForUser(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		mw.AbortWithError(c, h.logger, err)
		return
	}
	out := make([]plotSummary, len(plots))
	for i, p := range plots {
		out[i] = plotSummary{ID: p.ID, Name: p.Name}
	}
	c.JSON(http.StatusOK, gin.H{"plots": out})
}

// GetHealth handles GET /healthz.
func (h *Handler) GetHealth(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"planter-backend/internal/apperr"
	"planter-backend/internal/irrigation"
	"planter-backend/internal/mw"
)

func plotID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("plot_id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidInput("invalid plot id %q", c.Param("plot_id"))
	}
	return id, nil
}

// GetCurrent handles GET /api/plots/:plot_id/current.
func (h *Handler) GetCurrent(c *gin.Context) {
	id, err := plotID(c)
	if err != nil {
		mw.AbortWithError(c, h.logger, err)
		return
	}
	reading, err := h.telemetry.Current(c.Request.Context(), id)
	if err != nil {
		mw.AbortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, reading)
}

// GetAggregate handles GET /api/plots/:plot_id/aggregate?granularity=&count=.
func (h *Handler) GetAggregate(c *gin.Context) {
	id, err := plotID(c)
	if err != nil {
		mw.AbortWithError(c, h.logger, err)
		return
	}
	rawCount, ok := c.GetQuery("count")
	if !ok {
		mw.AbortWithError(c, h.logger, apperr.InvalidInput("count is required"))
		return
	}
	count, err := strconv.Atoi(rawCount)
	if err != nil {
		mw.AbortWithError(c, h.logger, apperr.InvalidInput("count must be an integer"))
		return
	}

	res, err := h.telemetry.Aggregate(c.Request.Context(), id, c.Query("granularity"), count)
	if err != nil {
		mw.AbortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetSettings handles GET /api/plots/:plot_id/settings. It never clears triggers.
func (h *Handler) GetSettings(c *gin.Context) {
	id, err := plotID(c)
	if err != nil {
		mw.AbortWithError(c, h.logger, err)
		return
	}
	snapshot, err := h.settings.DashboardSettings(c.Request.Context(), id)
	if err != nil {
		mw.AbortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

type putSettingsRequest struct {
	Dose1          *int `json:"dose_1" binding:"required"`
	Dose2          *int `json:"dose_2" binding:"required"`
	UpdateInterval *int `json:"update_interval" binding:"required"`
	Limit1         *int `json:"limit_1" binding:"required"`
	Limit2         *int `json:"limit_2" binding:"required"`
}

// PutSettings handles PUT /api/plots/:plot_id/settings.
func (h *Handler) PutSettings(c *gin.Context) {
	id, err := plotID(c)
	if err != nil {
		mw.AbortWithError(c, h.logger, err)
		return
	}
	var req putSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mw.AbortWithError(c, h.logger, apperr.InvalidInput("invalid settings body"))
		return
	}

	updated, err := h.settings.UpdateSettings(c.Request.Context(), id, irrigation.Update{
		Dose1:          *req.Dose1,
		Dose2:          *req.Dose2,
		UpdateInterval: *req.UpdateInterval,
		Limit1:         *req.Limit1,
		Limit2:         *req.Limit2,
	})
	if err != nil {
		mw.AbortWithError(c, h.logger, err)
		return
	}
	h.invalidatePlot(id)
	c.JSON(http.StatusOK, updated)
}

type fireRequest struct {
	Pump int `json:"pump" binding:"required"`
}

// PostFire handles POST /api/plots/:plot_id/fire, arming one pump directly.
func (h *Handler) PostFire(c *gin.Context) {
	id, err := plotID(c)
	if err != nil {
		mw.AbortWithError(c, h.logger, err)
		return
	}
	var req fireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mw.AbortWithError(c, h.logger, apperr.InvalidInput("pump is required"))
		return
	}

	updated, err := h.settings.Fire(c.Request.Context(), id, req.Pump)
	if err != nil {
		mw.AbortWithError(c, h.logger, err)
		return
	}
	h.invalidatePlot(id)
	c.JSON(http.StatusOK, updated)
}

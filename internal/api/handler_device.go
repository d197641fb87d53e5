package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"planter-backend/internal/mw"
	"planter-backend/internal/parse"
	"planter-backend/internal/telemetry"
)

// PostTelemetry handles POST /api/device/telemetry. Channels arrive as form or query key-values.
func (h *Handler) PostTelemetry(c *gin.Context) {
	values, err := parse.ParseValues(func(key string) (string, bool) {
		if v, ok := c.GetPostForm(key); ok {
			return v, true
		}
		return c.GetQuery(key)
	})
	if err != nil {
		mw.AbortWithError(c, h.logger, err)
		return
	}

	res, err := h.IngestTelemetry(c.Request.Context(), c.GetString(mw.APIKeyKey), values)
	if err != nil {
		mw.AbortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// GetDeviceSettings handles GET /api/device/settings. Reading clears armed triggers.
func (h *Handler) GetDeviceSettings(c *gin.Context) {
	snapshot, err := h.settings.DeviceSettings(c.Request.Context(), c.GetString(mw.APIKeyKey))
	if err != nil {
		mw.AbortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *Handler) invalidatePlot(plotID int64) {
	if h.cache != nil {
		h.cache.InvalidatePrefix(fmt.Sprintf("/api/plots/%d/", plotID))
	}
}

// IngestTelemetry ingests and drops cached dashboard responses for the plot.
// The MQTT bus ingests through it too.
func (h *Handler) IngestTelemetry(ctx context.Context, apiKey string, values parse.Values) (telemetry.IngestResult, error) {
	res, err := h.telemetry.IngestTelemetry(ctx, apiKey, values)
	if err != nil {
		return res, err
	}
	h.invalidatePlot(res.PlotID)
	return res, nil
}

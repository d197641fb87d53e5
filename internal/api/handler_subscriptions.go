package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"planter-backend/internal/apperr"
	"planter-backend/internal/model"
	"planter-backend/internal/mw"
)

type putSubscriptionRequest struct {
	Endpoint        string  `json:"endpoint" binding:"required"`
	P256DH          string  `json:"p256dh" binding:"required"`
	Auth            string  `json:"auth" binding:"required"`
	SubscribedPlots []int64 `json:"subscribed_plots"`
}

// PutSubscription handles the creation or replacement of a subscription.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mw.AbortWithError(c, h.logger, apperr.InvalidInput("invalid request"))
		return
	}

	subscription := model.PushSubscription{
		Endpoint: req.Endpoint,
		P256DH:   req.P256DH,
		Auth:     req.Auth,
	}
	if err := h.store.PutSubscription(c.Request.Context(), &subscription, req.SubscribedPlots); err != nil {
		mw.AbortWithError(c, h.logger, err)
		return
	}

	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription handles the deletion of a subscription.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mw.AbortWithError(c, h.logger, apperr.InvalidInput("invalid request"))
		return
	}

	if err := h.store.DeleteSubscription(c.Request.Context(), req.Endpoint); err != nil {
		mw.AbortWithError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// rawQueryParam reads key without URL decoding; push endpoints are matched byte for byte.
func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

// GetSubscription handles the retrieval of a subscription.
func (h *Handler) GetSubscription(c *gin.Context) {
	raw, ok := rawQueryParam(c.Request.URL.RawQuery, "endpoint")
	if !ok || raw == "" {
		mw.AbortWithError(c, h.logger, apperr.InvalidInput("endpoint is required"))
		return
	}

	_, plotIDs, err := h.store.FindSubscription(c.Request.Context(), raw)
	if err != nil {
		mw.AbortWithError(c, h.logger, err)
		return
	}
	if plotIDs == nil {
		plotIDs = []int64{}
	}

	c.JSON(http.StatusOK, gin.H{"subscribed_plots": plotIDs})
}

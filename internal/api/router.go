package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"planter-backend/config"
	"planter-backend/internal/metrics"
	"planter-backend/internal/mw"
)

// route is one registration: the capability it requires is part of the declaration.
type route struct {
	method     string
	path       string
	capability mw.Capability
	cached     bool
	handler    gin.HandlerFunc
}

func (h *Handler) routes() []route {
	return []route{
		{http.MethodPost, "/device/telemetry", mw.Device, false, h.PostTelemetry},
		{http.MethodGet, "/device/settings", mw.Device, false, h.GetDeviceSettings},

		{http.MethodGet, "/verify_user", mw.User, false, h.GetVerifyUser},
		{http.MethodGet, "/users/:uuid/plots", mw.User, false, h.GetUserPlots},
		{http.MethodGet, "/plots/:plot_id/current", mw.User, false, h.GetCurrent},
		{http.MethodGet, "/plots/:plot_id/aggregate", mw.User, true, h.GetAggregate},
		{http.MethodGet, "/plots/:plot_id/settings", mw.User, false, h.GetSettings},
		{http.MethodPut, "/plots/:plot_id/settings", mw.User, false, h.PutSettings},
		{http.MethodPost, "/plots/:plot_id/fire", mw.User, false, h.PostFire},

		{http.MethodGet, "/subscriptions", mw.Public, false, h.GetSubscription},
		{http.MethodPut, "/subscriptions", mw.Public, false, h.PutSubscription},
		{http.MethodDelete, "/subscriptions", mw.Public, false, h.DeleteSubscription},
		{http.MethodGet, "/vapid_public_key", mw.Public, false, h.GetVAPIDPublicKey},
	}
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Server   config.ServerConfig
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.Logger(h.logger), mw.Metrics(opts.Metrics))

	corsCfg := cors.DefaultConfig()
	if len(opts.Server.CORSOrigins) > 0 {
		corsCfg.AllowOrigins = opts.Server.CORSOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-API-Key")
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", h.GetHealth)
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	perSec := opts.Server.RateLimitPerSec
	if perSec <= 0 {
		perSec = 10
	}
	burst := opts.Server.RateLimitBurst
	if burst <= 0 {
		burst = 5
	}

	api := r.Group("/api")
	api.Use(mw.RateLimiter(rate.Limit(perSec), burst, mw.ByClientIP))
	perDevice := mw.RateLimiter(rate.Limit(perSec), burst, mw.ByDevicePlot)
	for _, rt := range h.routes() {
		chain := mw.Guard(rt.capability, h.accounts, h.accounts, h.logger)
		if rt.capability == mw.Device {
			chain = append(chain, perDevice)
		}
		if rt.cached && h.cache != nil {
			chain = append(chain, h.cache.Middleware())
		}
		chain = append(chain, rt.handler)
		api.Handle(rt.method, rt.path, chain...)
	}

	return r
}

// NewResponseCache builds the aggregate cache from server config.
func NewResponseCache(cfg config.ServerConfig) *mw.ResponseCache {
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return mw.NewResponseCache(ttl)
}

package mw

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"planter-backend/internal/apperr"
	"planter-backend/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubResolver struct{}

func (stubResolver) ResolveDevice(_ context.Context, key string) (*model.Plot, error) {
	if key == "good" {
		return &model.Plot{ID: 7, Name: "bed"}, nil
	}
	return nil, apperr.Unauthorized("unknown api key")
}

type stubVerifier struct{}

func (stubVerifier) VerifyUser(_ context.Context, name, password string) (*model.User, error) {
	if name == "tim" && password == "pw" {
		return &model.User{ID: 1, UUID: "u-1", Name: "tim"}, nil
	}
	return nil, apperr.Unauthorized("invalid credentials")
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(apperr.KindNotFound))
	assert.Equal(t, http.StatusBadRequest, StatusFor(apperr.KindInvalidInput))
	assert.Equal(t, http.StatusUnauthorized, StatusFor(apperr.KindUnauthorized))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(apperr.KindStorage))
}

func TestAbortWithError_HidesInternalDetail(t *testing.T) {
	r := gin.New()
	r.GET("/boom", func(c *gin.Context) {
		AbortWithError(c, zap.NewNop(), apperr.Storage(errors.New("pq: password leaked"), "failed to load plot"))
	})
	r.GET("/plain", func(c *gin.Context) {
		AbortWithError(c, zap.NewNop(), errors.New("raw driver error"))
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":{"kind":"storage_error","message":"failed to load plot"}}`, w.Body.String())

	w = serve(r, httptest.NewRequest(http.MethodGet, "/plain", nil))
	assert.JSONEq(t, `{"error":{"kind":"storage_error","message":"internal error"}}`, w.Body.String())
}

func TestRequireDevice(t *testing.T) {
	r := gin.New()
	r.POST("/t", RequireDevice(stubResolver{}, zap.NewNop()), func(c *gin.Context) {
		plot := c.MustGet(DevicePlotKey).(*model.Plot)
		c.JSON(http.StatusOK, gin.H{"plot": plot.ID, "key": c.GetString(APIKeyKey)})
	})

	req := httptest.NewRequest(http.MethodPost, "/t", nil)
	req.Header.Set("X-API-Key", "good")
	w := serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"plot":7,"key":"good"}`, w.Body.String())

	w = serve(r, httptest.NewRequest(http.MethodPost, "/t?api_key=good", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/t?api_key=bad", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":{"kind":"unauthorized","message":"unknown api key"}}`, w.Body.String())
}

func TestRequireUser(t *testing.T) {
	r := gin.New()
	r.GET("/me", RequireUser(stubVerifier{}, zap.NewNop()), func(c *gin.Context) {
		c.String(http.StatusOK, c.MustGet(UserKey).(*model.User).UUID)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.SetBasicAuth("tim", "pw")
	w := serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-1", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.SetBasicAuth("tim", "nope")
	w = serve(r, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

	w = serve(r, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGuard(t *testing.T) {
	assert.Nil(t, Guard(Public, stubResolver{}, stubVerifier{}, zap.NewNop()))
	assert.Len(t, Guard(Device, stubResolver{}, stubVerifier{}, zap.NewNop()), 1)
	assert.Len(t, Guard(User, stubResolver{}, stubVerifier{}, zap.NewNop()), 1)
	assert.Equal(t, "device", Device.String())
	assert.Equal(t, "public", Public.String())
}

func TestRateLimiter_ByClientIPIgnoresAPIKey(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(rate.Limit(1), 2, ByClientIP))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func(addr, key string) int {
		req := httptest.NewRequest(http.MethodGet, "/?api_key="+key, nil)
		req.RemoteAddr = addr
		return serve(r, req).Code
	}

	assert.Equal(t, http.StatusOK, get("10.0.0.1:1000", "a"))
	assert.Equal(t, http.StatusOK, get("10.0.0.1:1000", "b"))
	// a fresh api_key does not buy a fresh bucket
	assert.Equal(t, http.StatusTooManyRequests, get("10.0.0.1:1000", "c"))
	assert.Equal(t, http.StatusOK, get("10.0.0.2:1000", "c"))
}

func TestRateLimiter_ByDevicePlot(t *testing.T) {
	r := gin.New()
	r.GET("/", append(Guard(Device, stubResolver{}, stubVerifier{}, zap.NewNop()),
		RateLimiter(rate.Limit(1), 1, ByDevicePlot),
		func(c *gin.Context) { c.Status(http.StatusOK) })...)

	get := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-API-Key", key)
		return serve(r, req).Code
	}

	assert.Equal(t, http.StatusOK, get("good"))
	assert.Equal(t, http.StatusTooManyRequests, get("good"))
	// rejected keys never reach the device limiter
	assert.Equal(t, http.StatusUnauthorized, get("bad"))
}

func TestKeyedRateLimiter_ReusesLimiter(t *testing.T) {
	l := NewKeyedRateLimiter(rate.Limit(1), 1)
	assert.Same(t, l.GetLimiter("x"), l.GetLimiter("x"))
	assert.NotSame(t, l.GetLimiter("x"), l.GetLimiter("y"))
}

func TestResponseCache(t *testing.T) {
	rc := NewResponseCache(time.Minute)
	calls := 0

	r := gin.New()
	r.Use(rc.Middleware())
	r.GET("/api/plots/:id/aggregate", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})
	r.GET("/missing", func(c *gin.Context) {
		calls++
		c.Status(http.StatusNotFound)
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/plots/1/aggregate?granularity=hour", nil))
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/plots/1/aggregate?granularity=hour", nil))
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"calls":1}`, w.Body.String())
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	rc.InvalidatePrefix("/api/plots/1/")
	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/plots/1/aggregate?granularity=hour", nil))
	require.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"calls":2}`, w.Body.String())

	serve(r, httptest.NewRequest(http.MethodGet, "/missing", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, 4, calls, "errors are not cached")
}

func TestResponseCache_SkipsResponseBuiltAcrossInvalidation(t *testing.T) {
	rc := NewResponseCache(time.Minute)
	calls := 0

	r := gin.New()
	r.Use(rc.Middleware())
	r.GET("/api/plots/:id/aggregate", func(c *gin.Context) {
		calls++
		if calls == 1 {
			// an ingest commits while this read is in flight
			rc.InvalidatePrefix("/api/plots/1/")
		}
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})

	path := "/api/plots/1/aggregate?granularity=hour"
	serve(r, httptest.NewRequest(http.MethodGet, path, nil))
	w := serve(r, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"calls":2}`, w.Body.String())

	w = serve(r, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
}

package mw

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"planter-backend/internal/apperr"
	"planter-backend/internal/model"
)

// Capability is the credential a route requires.
type Capability int

const (
	// Public routes need no credential.
	Public Capability = iota
	// Device routes need a plot API key.
	Device
	// User routes need HTTP basic user credentials.
	User
)

func (c Capability) String() string {
	switch c {
	case Device:
		return "device"
	case User:
		return "user"
	default:
		return "public"
	}
}

// Context keys set by the guards.
const (
	DevicePlotKey = "device_plot"
	APIKeyKey     = "api_key"
	UserKey       = "user"
)

// DeviceResolver resolves an API key to its plot.
type DeviceResolver interface {
	ResolveDevice(ctx context.Context, apiKey string) (*model.Plot, error)
}

// UserVerifier checks user credentials.
type UserVerifier interface {
	VerifyUser(ctx context.Context, name, password string) (*model.User, error)
}

// APIKey returns the device key from the X-API-Key header, or the api_key query or form value.
func APIKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader("X-API-Key")); key != "" {
		return key
	}
	if key, ok := c.GetQuery("api_key"); ok {
		return strings.TrimSpace(key)
	}
	return strings.TrimSpace(c.PostForm("api_key"))
}

// RequireDevice rejects requests without a valid device API key.
func RequireDevice(resolver DeviceResolver, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := APIKey(c)
		plot, err := resolver.ResolveDevice(c.Request.Context(), key)
		if err != nil {
			AbortWithError(c, logger, err)
			return
		}
		c.Set(APIKeyKey, key)
		c.Set(DevicePlotKey, plot)
		c.Next()
	}
}

// RequireUser rejects requests without valid basic credentials.
func RequireUser(verifier UserVerifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, password, ok := c.Request.BasicAuth()
		if !ok {
			c.Header("WWW-Authenticate", `Basic realm="planter"`)
			AbortWithError(c, logger, apperr.Unauthorized("credentials required"))
			return
		}
		user, err := verifier.VerifyUser(c.Request.Context(), name, password)
		if err != nil {
			if apperr.Is(err, apperr.KindUnauthorized) {
				c.Header("WWW-Authenticate", `Basic realm="planter"`)
			}
			AbortWithError(c, logger, err)
			return
		}
		c.Set(UserKey, user)
		c.Next()
	}
}

// Guard returns the middleware enforcing capability; Public routes get none.
func Guard(capability Capability, resolver DeviceResolver, verifier UserVerifier, logger *zap.Logger) []gin.HandlerFunc {
	switch capability {
	case Device:
		return []gin.HandlerFunc{RequireDevice(resolver, logger)}
	case User:
		return []gin.HandlerFunc{RequireUser(verifier, logger)}
	default:
		return nil
	}
}

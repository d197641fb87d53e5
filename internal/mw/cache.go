package mw

import (
	"bytes"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

type cachedResponse struct {
	status  int
	headers http.Header
	body    []byte
}

type bodyCacheWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyCacheWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w bodyCacheWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// ResponseCache keeps successful GET responses for a fixed TTL, keyed by request URI.
// A response is not stored if an invalidation ran while it was being built.
type ResponseCache struct {
	store *cache.Cache
	ttl   time.Duration

	mu    sync.Mutex
	epoch uint64
}

// NewResponseCache creates a cache whose entries expire after ttl.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{store: cache.New(ttl, 2*ttl), ttl: ttl}
}

// Middleware serves cached responses and records fresh 2xx responses.
func (rc *ResponseCache) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := c.Request.URL.RequestURI()
		if resp, found := rc.store.Get(key); found {
			cached := resp.(cachedResponse)
			for k, v := range cached.headers {
				c.Writer.Header()[k] = v
			}
			c.Writer.Header().Set("X-Cache", "HIT")
			c.Writer.WriteHeader(cached.status)
			c.Writer.Write(cached.body)
			c.Abort()
			return
		}

		c.Writer.Header().Set("X-Cache", "MISS")
		start := rc.currentEpoch()
		blw := &bodyCacheWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		if blw.Status() >= 200 && blw.Status() < 300 {
			headers := blw.Header().Clone()
			headers.Del("X-Cache")
			rc.storeIfCurrent(start, key, cachedResponse{
				status:  blw.Status(),
				headers: headers,
				body:    blw.body.Bytes(),
			})
		}
	}
}

func (rc *ResponseCache) currentEpoch() uint64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.epoch
}

func (rc *ResponseCache) storeIfCurrent(epoch uint64, key string, resp cachedResponse) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.epoch != epoch {
		return
	}
	rc.store.Set(key, resp, rc.ttl)
}

// InvalidatePrefix drops every entry whose URI path starts with prefix.
func (rc *ResponseCache) InvalidatePrefix(prefix string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.epoch++
	for key := range rc.store.Items() {
		if strings.HasPrefix(key, prefix) {
			rc.store.Delete(key)
		}
	}
}

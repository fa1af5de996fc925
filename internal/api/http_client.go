package api

import (
	"net/http"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// NewCachingHTTPClient creates an HTTP client with disk-based response
// caching. Used for image downloads, where CDN responses carry long-lived
// Cache-Control headers that httpcache can serve from disk.
func NewCachingHTTPClient(cacheDir string, timeout time.Duration) *http.Client {
	if cacheDir == "" {
		// Use in-memory cache if no cache directory specified
		return &http.Client{
			Timeout:   timeout,
			Transport: httpcache.NewTransport(httpcache.NewMemoryCache()),
		}
	}

	cache := diskcache.New(cacheDir)
	transport := httpcache.NewTransport(cache)

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

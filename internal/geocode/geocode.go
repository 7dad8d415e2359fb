// Package geocode turns coordinates into human-readable addresses.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Resolver resolves a coordinate to an address
type Resolver interface {
	Resolve(ctx context.Context, lat, lon float64) (string, error)
}

// FormatCoordinates renders a coordinate pair with six decimals
func FormatCoordinates(lat, lon float64) string {
	return fmt.Sprintf("%.6f, %.6f", lat, lon)
}

// CoordinateResolver returns the formatted coordinates themselves
type CoordinateResolver struct{}

// Resolve never fails
func (CoordinateResolver) Resolve(_ context.Context, lat, lon float64) (string, error) {
	return FormatCoordinates(lat, lon), nil
}

// nominatimResponse is the subset of a Nominatim reverse lookup we use
type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

// HTTPResolver queries a Nominatim-compatible /reverse endpoint
type HTTPResolver struct {
	baseURL   string
	client    *http.Client
	userAgent string
}

// NewHTTPResolver creates a resolver against baseURL with the given request
// timeout
func NewHTTPResolver(baseURL string, timeout time.Duration) *HTTPResolver {
	return &HTTPResolver{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: timeout},
		userAgent: "fleet-trajectory-analytics/1.0",
	}
}

// Resolve performs a reverse lookup
func (r *HTTPResolver) Resolve(ctx context.Context, lat, lon float64) (string, error) {
	params := url.Values{}
	params.Add("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	params.Add("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	params.Add("format", "jsonv2")

	fullURL := fmt.Sprintf("%s/reverse?%s", r.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build geocoding request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make geocoding request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocoding API returned status %d: %s", resp.StatusCode, string(body))
	}

	var result nominatimResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse geocoding response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("geocoding failed: %s", result.Error)
	}
	if result.DisplayName == "" {
		return "", fmt.Errorf("no address found for %s", FormatCoordinates(lat, lon))
	}
	return result.DisplayName, nil
}

// Fallback wraps a resolver so that lookups never fail. On error the
// formatted coordinates are returned instead.
type Fallback struct {
	next Resolver

	// Logf records failed lookups. Defaults to log.Printf.
	Logf func(format string, v ...interface{})
}

// NewFallback wraps next
func NewFallback(next Resolver) *Fallback {
	return &Fallback{next: next, Logf: log.Printf}
}

// Resolve always returns a non-empty address and a nil error
func (f *Fallback) Resolve(ctx context.Context, lat, lon float64) (string, error) {
	if f.next == nil {
		return FormatCoordinates(lat, lon), nil
	}
	addr, err := f.next.Resolve(ctx, lat, lon)
	if err != nil || addr == "" {
		if err != nil && f.Logf != nil {
			f.Logf("geocode: falling back to coordinates: %v", err)
		}
		return FormatCoordinates(lat, lon), nil
	}
	return addr, nil
}

// Cache memoizes addresses of nearby coordinates. Keys are rounded to four
// decimals (about 11 m).
type Cache struct {
	next       Resolver
	mutex      sync.RWMutex
	entries    map[string]cacheEntry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	stats      CacheStats
}

type cacheEntry struct {
	address   string
	createdAt time.Time
}

// CacheStats tracks cache performance
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// NewCache wraps next with a cache holding up to maxEntries addresses for ttl
func NewCache(next Resolver, maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Cache{
		next:       next,
		entries:    make(map[string]cacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

func cacheKey(lat, lon float64) string {
	return fmt.Sprintf("%.4f,%.4f", lat, lon)
}

// Resolve returns a cached address or asks the wrapped resolver. Errors are
// not cached.
func (c *Cache) Resolve(ctx context.Context, lat, lon float64) (string, error) {
	key := cacheKey(lat, lon)

	c.mutex.RLock()
	entry, ok := c.entries[key]
	c.mutex.RUnlock()
	if ok && (c.ttl <= 0 || c.now().Sub(entry.createdAt) < c.ttl) {
		c.mutex.Lock()
		c.stats.Hits++
		c.mutex.Unlock()
		return entry.address, nil
	}

	addr, err := c.next.Resolve(ctx, lat, lon)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.stats.Misses++
	if err != nil {
		return "", err
	}
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = cacheEntry{address: addr, createdAt: c.now()}
	return addr, nil
}

// evictOldest drops the oldest entry. Callers hold the write lock.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.createdAt.Before(oldest) {
			oldestKey, oldest = k, e.createdAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.stats.Evictions++
	}
}

// Stats returns a snapshot of the cache counters
func (c *Cache) Stats() CacheStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.stats
}

// Len returns the number of cached addresses
func (c *Cache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

package imaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/yourorg/portfolio-cms/internal/config"
	"github.com/yourorg/portfolio-cms/internal/handle"
	"github.com/yourorg/portfolio-cms/internal/metrics"
	"github.com/yourorg/portfolio-cms/internal/model"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type cacheEntry struct {
	data        []byte
	contentType string
	url         string // Handle owned by the entry, revoked on eviction
	insertedAt  time.Time
	size        int64
}

// Cache optimizes images and keeps the results in a time- and size-bounded cache.
// Entries are kept in insertion order; Peek is used on hits so the order stays
// oldest-first.
type Cache struct {
	mu        sync.Mutex
	entries   *simplelru.LRU[string, *cacheEntry]
	totalSize int64

	maxSize   int64
	maxAge    time.Duration
	highWater float64
	defaults  Options
	thumbnail Options
	maxPixels int64

	compressor Compressor
	handles    *handle.Registry
	httpClient *http.Client
	group      singleflight.Group
	logger     *zap.Logger
	now        func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewCache creates an image optimization cache
func NewCache(cfg config.CacheConfig, defaults config.CompressionConfig, compressor Compressor, handles *handle.Registry, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Cache{
		maxSize:   cfg.MaxSizeBytes,
		maxAge:    cfg.MaxAge,
		highWater: cfg.HighWaterRatio,
		defaults: Options{
			MaxWidth:  defaults.MaxWidth,
			MaxHeight: defaults.MaxHeight,
			Quality:   defaults.Quality,
			Format:    defaults.Format,
		},
		thumbnail: Options{
			MaxWidth:  defaults.ThumbnailWidth,
			MaxHeight: defaults.ThumbnailHeight,
			Quality:   defaults.ThumbnailQuality,
			Format:    "jpeg",
		},
		maxPixels:  defaults.MaxPixels,
		compressor: compressor,
		handles:    handles,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	entries, err := simplelru.NewLRU[string, *cacheEntry](cfg.MaxEntries, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create image cache: %w", err)
	}
	c.entries = entries

	return c, nil
}

// onEvict runs for every removal, whatever triggered it, so the running total
// is updated in the same step that drops the entry.
func (c *Cache) onEvict(_ string, e *cacheEntry) {
	c.handles.Revoke(e.url)
	c.totalSize -= e.size
	metrics.ImageCacheEvictionsTotal.Inc()
	metrics.ImageCacheBytes.Set(float64(c.totalSize))
}

// Start launches the periodic sweep, every half max age
func (c *Cache) Start() {
	interval := c.maxAge / 2
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop ends the periodic sweep started by Start
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// OptimizeImage returns a handle to an optimized version of file. The handle is
// owned by the caller and released with Release. Compression failures fall back
// to a handle on the original bytes; this never fails.
func (c *Cache) OptimizeImage(ctx context.Context, file model.File, opts Options) string {
	opts = c.withDefaults(opts)
	key := cacheKey(file, opts)

	if url, ok := c.handleFor(key); ok {
		metrics.ImageCacheHitsTotal.Inc()
		c.logger.Debug("Image cache hit", zap.String("key", key))
		return url
	}
	metrics.ImageCacheMissesTotal.Inc()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		res, err := c.compressor.Compress(ctx, file, opts)
		if err != nil {
			return nil, err
		}
		c.Insert(key, res.Data, res.ContentType)
		return res, nil
	})
	if err != nil {
		c.logger.Warn("Image optimization failed, serving original",
			zap.String("file", file.Name),
			zap.Error(err))
		return c.handles.Create(file.Data, file.ContentType)
	}

	res := v.(*Result)
	return c.handles.Create(res.Data, res.ContentType)
}

// GenerateThumbnail returns a handle to a small JPEG preview of an image or a
// video, cached per file and bounds. Zero bounds take the configured thumbnail
// size. Videos get their embedded cover art or a placeholder poster.
func (c *Cache) GenerateThumbnail(ctx context.Context, file model.File, maxWidth, maxHeight int) (string, error) {
	isImage, isVideo := thumbnailCategory(file.ContentType)
	if !isImage && !isVideo {
		return "", ErrUnsupportedThumbnail
	}

	if maxWidth <= 0 {
		maxWidth = c.thumbnail.MaxWidth
	}
	if maxHeight <= 0 {
		maxHeight = c.thumbnail.MaxHeight
	}
	key := fmt.Sprintf("thumbnail:%s-%dx%d", file.DedupKey(), maxWidth, maxHeight)

	if url, ok := c.handleFor(key); ok {
		metrics.ImageCacheHitsTotal.Inc()
		return url, nil
	}
	metrics.ImageCacheMissesTotal.Inc()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		var res *Result
		var err error
		if isImage {
			res, err = c.compressor.Compress(ctx, file, Options{
				MaxWidth:  maxWidth,
				MaxHeight: maxHeight,
				Quality:   c.thumbnail.Quality,
				Format:    c.thumbnail.Format,
			})
		} else {
			poster := VideoPoster(file.Data, file.ContentType, c.maxPixels)
			res, err = encodeThumbnail(poster, maxWidth, maxHeight, c.thumbnail.Quality)
		}
		if err != nil {
			return nil, err
		}
		c.Insert(key, res.Data, res.ContentType)
		return res, nil
	})
	if err != nil {
		c.logger.Warn("Thumbnail generation failed", zap.String("file", file.Name), zap.Error(err))
		return "", fmt.Errorf("failed to generate thumbnail: %w", err)
	}

	res := v.(*Result)
	return c.handles.Create(res.Data, res.ContentType), nil
}

// PreloadImage fetches url and caches the body under the URL itself
func (c *Cache) PreloadImage(ctx context.Context, url string) error {
	c.mu.Lock()
	cached := c.entries.Contains(url)
	c.mu.Unlock()
	if cached {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("image fetch returned status code %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	c.Insert(url, data, resp.Header.Get("Content-Type"))
	return nil
}

// Release revokes a handle returned by OptimizeImage
func (c *Cache) Release(url string) bool {
	return c.handles.Revoke(url)
}

// Insert stores data under key. A key already present is left untouched so a
// duplicate completion never counts twice. When Insert returns the cache holds
// at most maxSize bytes.
func (c *Cache) Insert(key string, data []byte, contentType string) {
	size := int64(len(data))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries.Contains(key) {
		return
	}
	if size > c.maxSize {
		c.logger.Debug("Image larger than the cache, not cached",
			zap.String("key", key),
			zap.Int64("size", size))
		return
	}

	if c.totalSize+size > c.maxSize {
		c.cleanupLocked()
	}

	e := &cacheEntry{
		data:        data,
		contentType: contentType,
		url:         c.handles.Create(data, contentType),
		insertedAt:  c.now(),
		size:        size,
	}
	c.totalSize += size
	c.entries.Add(key, e)

	for c.totalSize > c.maxSize {
		if !c.evictOldestLocked() {
			break
		}
	}

	metrics.ImageCacheBytes.Set(float64(c.totalSize))
}

// Sweep drops expired entries, then the oldest ones while above the high-water mark
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
}

func (c *Cache) cleanupLocked() {
	now := c.now()

	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if !ok {
			continue
		}
		if now.Sub(e.insertedAt) > c.maxAge {
			c.evictLocked(key, e)
		}
	}

	mark := int64(math.Floor(float64(c.maxSize) * c.highWater))
	for c.totalSize > mark {
		if !c.evictOldestLocked() {
			break
		}
	}
}

func (c *Cache) evictOldestLocked() bool {
	key, e, ok := c.entries.GetOldest()
	if !ok {
		return false
	}
	c.evictLocked(key, e)
	return true
}

// evictLocked revokes the entry's handle before the entry leaves the map
func (c *Cache) evictLocked(key string, e *cacheEntry) {
	c.handles.Revoke(e.url)
	c.entries.Remove(key)
}

// ClearCache revokes every handle and empties the cache
func (c *Cache) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Purge()
	c.totalSize = 0
	metrics.ImageCacheBytes.Set(0)
}

// Stats returns entry count, byte total and the insertion time range
func (c *Cache) Stats() model.ImageCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := model.ImageCacheStats{
		EntryCount: c.entries.Len(),
		TotalSize:  c.totalSize,
	}
	for _, e := range c.entries.Values() {
		if stats.OldestEntry.IsZero() || e.insertedAt.Before(stats.OldestEntry) {
			stats.OldestEntry = e.insertedAt
		}
		if e.insertedAt.After(stats.NewestEntry) {
			stats.NewestEntry = e.insertedAt
		}
	}
	return stats
}

func (c *Cache) handleFor(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Peek(key)
	if !ok {
		return "", false
	}
	return c.handles.Create(e.data, e.contentType), true
}

func (c *Cache) withDefaults(opts Options) Options {
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = c.defaults.MaxWidth
	}
	if opts.MaxHeight <= 0 {
		opts.MaxHeight = c.defaults.MaxHeight
	}
	if opts.Quality <= 0 {
		opts.Quality = c.defaults.Quality
	}
	if opts.Format == "" {
		opts.Format = c.defaults.Format
	}
	return opts
}

// cacheKey derives the key from file identity plus the serialized options,
// which must already carry the defaults
func cacheKey(file model.File, opts Options) string {
	serialized, _ := json.Marshal(opts)
	return fmt.Sprintf("%s-%s", file.DedupKey(), serialized)
}
